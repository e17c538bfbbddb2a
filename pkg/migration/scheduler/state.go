package scheduler

import (
	"errors"
	"fmt"

	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
)

// State is the process-wide lifecycle of a Scheduler.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateStopped:
		return "Stopped"
	}
	return "Unknown"
}

var (
	// ErrNotInitialized is returned before Initialize has completed once.
	ErrNotInitialized = errors.New("scheduler is not initialized")
	// ErrNotReady is returned while initializing, shutting down or stopped.
	ErrNotReady = errors.New("scheduler is not ready")
	// ErrJobNotFound is returned for an id that is neither registered nor in the status history.
	ErrJobNotFound = errors.New("job not found")

	// errCancelledByUser and errWindowExpired are the cancellation causes of a job context.
	errCancelledByUser = errors.New("job cancelled")
	errWindowExpired   = errors.New("scheduled window expired")
	errShutdown        = errors.New("scheduler shutting down")
)

func stateError(err error, format string, a ...interface{}) error {
	return exception.NewMigrationError(schedulerModule, exception.KindScheduler, fmt.Sprintf(format, a...), err, err == ErrNotReady)
}
