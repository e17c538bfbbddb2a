// Package exception defines the error type used across the migrator.
//
// Every error raised by an engine component is a *MigrationError carrying the
// component (Module) that raised it and a Kind from the migration error
// taxonomy. The Kind decides how callers react: fetch failures abort a run,
// record failures are isolated, status update failures propagate, scheduler
// state failures are returned to the manager for its readiness retry.
package exception

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
)

// Kind classifies a MigrationError.
type Kind string

const (
	// KindFetch covers staging reads and connection failures. Aborts the run.
	KindFetch Kind = "FetchFailure"
	// KindRecord is a per-record failure: remote exception or non-zero return code.
	KindRecord Kind = "RecordFailure"
	// KindStatusUpdate is a failed P/E status write. Propagated to the run.
	KindStatusUpdate Kind = "StatusUpdateFailure"
	// KindScheduler covers "not initialized", "not ready" and "job not found".
	KindScheduler Kind = "SchedulerState"
	// KindConfiguration is invalid or missing configuration.
	KindConfiguration Kind = "Configuration"
	// KindValidation is a rejected request or job payload.
	KindValidation Kind = "Validation"
	// KindInternal is anything else.
	KindInternal Kind = "Internal"
)

// MigrationError is a classified error raised by a migrator component.
type MigrationError struct {
	// Module names the raising component, e.g. "run", "processor", "scheduler".
	Module string
	Kind   Kind
	// Message is the human readable description without the cause.
	Message     string
	OriginalErr error
	retryable   bool
	// StackTrace is captured at construction, for DEBUG logging.
	StackTrace string
}

// NewMigrationError creates a MigrationError. retryable marks errors a caller may try again.
func NewMigrationError(module string, kind Kind, message string, originalErr error, retryable bool) *MigrationError {
	return &MigrationError{
		Module:      module,
		Kind:        kind,
		Message:     message,
		OriginalErr: originalErr,
		retryable:   retryable,
		StackTrace:  captureStack(),
	}
}

// NewMigrationErrorf creates a MigrationError with a formatted message.
// Trailing arguments are inspected from the end: an error becomes the cause,
// then a bool becomes the retryable flag. The rest feed fmt.Sprintf.
//
//	NewMigrationErrorf("run", KindFetch, "fetch from %s failed", table, true, err)
func NewMigrationErrorf(module string, kind Kind, format string, a ...interface{}) *MigrationError {
	var cause error
	retryable := false
	args := a

	if n := len(args); n > 0 {
		if err, ok := args[n-1].(error); ok {
			cause = err
			args = args[:n-1]
		}
	}
	if n := len(args); n > 0 {
		if b, ok := args[n-1].(bool); ok {
			retryable = b
			args = args[:n-1]
		}
	}

	return &MigrationError{
		Module:      module,
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		OriginalErr: cause,
		retryable:   retryable,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements error.
func (e *MigrationError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the cause.
func (e *MigrationError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports the retryable flag.
func (e *MigrationError) IsRetryable() bool {
	return e.retryable
}

// KindOf returns the Kind of the first MigrationError in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var me *MigrationError
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

// IsKind reports whether any MigrationError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var me *MigrationError
		if !errors.As(err, &me) {
			return false
		}
		if me.Kind == kind {
			return true
		}
		err = me.OriginalErr
	}
	return false
}

// IsTemporary reports whether err looks transient: an explicitly retryable
// MigrationError, a deadline, a bad driver connection or a network timeout.
// Cancellation is never temporary.
func IsTemporary(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var me *MigrationError
	if errors.As(err, &me) && me.retryable {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset")
}

// ExtractErrorMessage returns the Message of a MigrationError or err.Error()
// otherwise. Used when a short text is persisted (error log rows).
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var me *MigrationError
	if errors.As(err, &me) {
		if me.OriginalErr != nil {
			return me.Message + ": " + me.OriginalErr.Error()
		}
		return me.Message
	}
	return err.Error()
}
