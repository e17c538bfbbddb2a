package scheduler

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// onceSchedule is a cron.Schedule that fires exactly once, at the first tick
// at or after at. A zero at fires as soon as the entry is added.
type onceSchedule struct {
	at       time.Time
	consumed atomic.Bool
}

func newOnceSchedule(at time.Time) *onceSchedule {
	return &onceSchedule{at: at}
}

// Next hands out the fire time once and the zero time afterwards, which
// cron treats as "never run again".
func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.consumed.Swap(true) {
		return time.Time{}
	}
	if t.Before(s.at) {
		return s.at
	}
	return t
}

var _ cron.Schedule = (*onceSchedule)(nil)

// cronParser accepts standard five field expressions, an optional leading
// seconds field and descriptors such as @hourly.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron validates a recurring schedule expression.
func ParseCron(spec string) (cron.Schedule, error) {
	s, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return s, nil
}

// cronLogger routes robfig/cron output into the global logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if logger.Enabled(logger.LevelDebug) {
		logger.Debugf("cron: %s %s", msg, formatKV(keysAndValues))
	}
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s %s: %v", msg, formatKV(keysAndValues), err)
}

func formatKV(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}

var _ cron.Logger = cronLogger{}
