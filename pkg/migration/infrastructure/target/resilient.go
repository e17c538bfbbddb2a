package target

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	config "github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/core/domain/model"
	"github.com/dasabhishk/st2/pkg/migration/core/ports"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// ResilientInvoker throttles calls with a token bucket and stops calling a
// failing target through a circuit breaker. Only transport errors count as
// breaker failures; non-zero return codes are business outcomes.
type ResilientInvoker struct {
	next    ports.ProcedureInvoker
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

var _ ports.ProcedureInvoker = (*ResilientInvoker)(nil)

// NewResilientInvoker wraps next. A nil limiter or breaker is skipped.
func NewResilientInvoker(next ports.ProcedureInvoker, cfg *config.TargetConfig) *ResilientInvoker {
	r := &ResilientInvoker{next: next}
	if cfg.CallsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSecond), burst)
	}
	if cfg.Breaker.Enabled {
		threshold := cfg.Breaker.ConsecutiveFailures
		r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "target-procedure",
			MaxRequests: cfg.Breaker.MaxRequests,
			Interval:    cfg.Breaker.Interval,
			Timeout:     cfg.Breaker.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warnf("Circuit breaker '%s' changed from %s to %s.", name, from, to)
			},
		})
	}
	return r
}

func (r *ResilientInvoker) Invoke(ctx context.Context, inv model.ProcedureInvocation) (model.ProcedureResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return model.ProcedureResult{Code: model.NullReturnCode},
				exception.NewMigrationError(clientModule, exception.KindRecord, "rate limiter wait aborted", err, false)
		}
	}
	if r.breaker == nil {
		return r.next.Invoke(ctx, inv)
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.next.Invoke(ctx, inv)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return model.ProcedureResult{Code: model.NullReturnCode},
			exception.NewMigrationError(clientModule, exception.KindRecord, "target circuit breaker is open", err, true)
	}
	result, _ := out.(model.ProcedureResult)
	if err != nil {
		result.Code = model.NullReturnCode
	}
	return result, err
}

// State exposes the breaker state for diagnostics. It is "disabled" without a breaker.
func (r *ResilientInvoker) State() string {
	if r.breaker == nil {
		return "disabled"
	}
	return r.breaker.State().String()
}
