package logger

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

// Module replaces fx's default console logger with FxLoggerAdapter.
var Module = fx.WithLogger(NewFxLoggerAdapter)

// FxLoggerAdapter routes fx container events into this logger. Wiring chatter
// stays at DEBUG; failures are reported at ERROR.
type FxLoggerAdapter struct{}

// NewFxLoggerAdapter is used with fx.WithLogger.
func NewFxLoggerAdapter() fxevent.Logger {
	return &FxLoggerAdapter{}
}

// LogEvent implements fxevent.Logger.
func (l *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		Debugf("fx: starting %s", hookName(e.FunctionName))
	case *fxevent.OnStartExecuted:
		if e.Err != nil {
			Errorf("fx: start hook %s failed: %v", hookName(e.FunctionName), e.Err)
			return
		}
		Debugf("fx: started %s in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.OnStopExecuting:
		Debugf("fx: stopping %s", hookName(e.FunctionName))
	case *fxevent.OnStopExecuted:
		if e.Err != nil {
			Errorf("fx: stop hook %s failed: %v", hookName(e.FunctionName), e.Err)
			return
		}
		Debugf("fx: stopped %s in %s", hookName(e.FunctionName), e.Runtime)
	case *fxevent.Provided:
		if e.Err != nil {
			Errorf("fx: provide %s failed: %v", e.ConstructorName, e.Err)
			return
		}
		for _, t := range e.OutputTypeNames {
			Debugf("fx: provided %s", t)
		}
	case *fxevent.Invoked:
		if e.Err != nil {
			Errorf("fx: invoke %s failed: %v", e.FunctionName, e.Err)
		}
	case *fxevent.Stopping:
		Infof("Received %s, shutting down.", strings.ToUpper(e.Signal.String()))
	case *fxevent.RollingBack:
		Errorf("fx: start failed, rolling back: %v", e.StartErr)
	case *fxevent.Started:
		if e.Err != nil {
			Errorf("fx: application start failed: %v", e.Err)
			return
		}
		Infof("Migrator started.")
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			Errorf("fx: logger initialization failed: %v", e.Err)
		}
	}
}

// hookName trims the anonymous ".funcN" suffix fx reports for closures.
func hookName(funcName string) string {
	if idx := strings.LastIndex(funcName, ".func"); idx != -1 {
		return funcName[:idx]
	}
	return funcName
}
