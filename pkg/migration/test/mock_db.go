// Package test holds shared helpers for package tests: gorm connections over
// sqlmock and a resolver that always hands out the same connection.
package test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dasabhishk/st2/pkg/migration/adapter/database"
	dbconfig "github.com/dasabhishk/st2/pkg/migration/adapter/database/config"
	gormadapter "github.com/dasabhishk/st2/pkg/migration/adapter/database/gorm"
)

// NewMockConnection opens a mysql-flavoured gorm connection over sqlmock.
// Expectations are checked when the test finishes.
func NewMockConnection(t *testing.T, name string) (database.Connection, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return gormadapter.NewConnection(db, dbconfig.DatabaseConfig{Type: "mysql", Database: name}, name), mock
}

// StaticResolver resolves every name to one connection.
type StaticResolver struct {
	Conn database.Connection
}

func (r StaticResolver) Resolve(_ context.Context, _ string) (database.Connection, error) {
	return r.Conn, nil
}

// MockResolver is a testify mock for database.ConnectionResolver.
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, name string) (database.Connection, error) {
	args := m.Called(ctx, name)
	conn, _ := args.Get(0).(database.Connection)
	return conn, args.Error(1)
}

var (
	_ database.ConnectionResolver = StaticResolver{}
	_ database.ConnectionResolver = (*MockResolver)(nil)
)
