package target_test

import (
	"context"
	"errors"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/infrastructure/target"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	migrationtest "github.com/dasabhishk/st2/pkg/migration/test"
)

func invocation() model.ProcedureInvocation {
	return model.ProcedureInvocation{
		RecordID:   11,
		Procedure:  "dbo.register_study",
		Parameters: []interface{}{"P-1", "1.2.840.1"},
		FileName:   "studies.csv",
		RowNumber:  4,
	}
}

func TestCallStatement(t *testing.T) {
	assert.Equal(t, "SELECT dbo.register_study(?, ?) AS return_value", target.CallStatement("dbo.register_study", 2))
	assert.Equal(t, "SELECT ping() AS return_value", target.CallStatement("ping", 0))
}

func TestProcedureClient_Invoke(t *testing.T) {
	conn, mock := migrationtest.NewMockConnection(t, "target")
	client := target.NewProcedureClient(migrationtest.StaticResolver{Conn: conn}, &config.TargetConfig{CallTimeout: time.Second})
	query := regexp.QuoteMeta("SELECT dbo.register_study(?, ?) AS return_value")

	mock.ExpectQuery(query).WithArgs("P-1", "1.2.840.1").
		WillReturnRows(sqlmock.NewRows([]string{"return_value"}).AddRow(int64(0)))
	res, err := client.Invoke(context.Background(), invocation())
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"return_value"}).AddRow(int64(3)))
	res, err = client.Invoke(context.Background(), invocation())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Code)

	mock.ExpectQuery(query).
		WillReturnRows(sqlmock.NewRows([]string{"return_value"}).AddRow(nil))
	res, err = client.Invoke(context.Background(), invocation())
	require.NoError(t, err)
	assert.Equal(t, model.NullReturnCode, res.Code)

	mock.ExpectQuery(query).WillReturnError(errors.New("connection refused"))
	res, err = client.Invoke(context.Background(), invocation())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindRecord))
	assert.Equal(t, model.NullReturnCode, res.Code)
}

func TestProcedureClient_RejectsInvalidProcedure(t *testing.T) {
	client := target.NewProcedureClient(migrationtest.StaticResolver{}, &config.TargetConfig{})
	inv := invocation()
	inv.Procedure = "x; DROP TABLE y"
	_, err := client.Invoke(context.Background(), inv)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

type stubInvoker struct {
	calls atomic.Int32
	err   error
	code  int
}

func (s *stubInvoker) Invoke(context.Context, model.ProcedureInvocation) (model.ProcedureResult, error) {
	s.calls.Add(1)
	return model.ProcedureResult{Code: s.code}, s.err
}

func TestResilientInvoker_BreakerOpens(t *testing.T) {
	stub := &stubInvoker{err: errors.New("timeout")}
	inv := target.NewResilientInvoker(stub, &config.TargetConfig{
		Breaker: config.BreakerConfig{Enabled: true, MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 2},
	})

	for i := 0; i < 2; i++ {
		_, err := inv.Invoke(context.Background(), invocation())
		require.Error(t, err)
	}
	assert.Equal(t, "open", inv.State())

	res, err := inv.Invoke(context.Background(), invocation())
	require.Error(t, err)
	assert.ErrorContains(t, err, "circuit breaker is open")
	assert.Equal(t, model.NullReturnCode, res.Code)
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestResilientInvoker_NonZeroCodeIsNotABreakerFailure(t *testing.T) {
	stub := &stubInvoker{code: 5}
	inv := target.NewResilientInvoker(stub, &config.TargetConfig{
		Breaker: config.BreakerConfig{Enabled: true, MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 1},
	})
	for i := 0; i < 3; i++ {
		res, err := inv.Invoke(context.Background(), invocation())
		require.NoError(t, err)
		assert.Equal(t, 5, res.Code)
	}
	assert.Equal(t, "closed", inv.State())
}

func TestResilientInvoker_RateLimitHonoursContext(t *testing.T) {
	stub := &stubInvoker{}
	inv := target.NewResilientInvoker(stub, &config.TargetConfig{CallsPerSecond: 0.001, Burst: 1})

	_, err := inv.Invoke(context.Background(), invocation())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, invocation())
	assert.Error(t, err)
	assert.Equal(t, int32(1), stub.calls.Load())
}
