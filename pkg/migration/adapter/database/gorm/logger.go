package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// NewGormLogger returns a gorm logger writing through the migrator logger.
// level is one of silent, error, warn, info; anything else is silent.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch strings.ToLower(level) {
	case "error":
		gormLevel = gormlogger.Error
	case "warn":
		gormLevel = gormlogger.Warn
	case "info":
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}
	return gormlogger.New(GormWriter{}, gormlogger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  gormLevel,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// GormWriter implements gormlogger.Writer. Statement traces go to DEBUG,
// slow queries and other notices to WARN.
type GormWriter struct{}

// Printf implements gormlogger.Writer.
func (GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	switch {
	case strings.Contains(msg, "SLOW SQL"):
		logger.Warnf("[gorm] %s", msg)
	case strings.Contains(msg, "Error") || strings.Contains(msg, "error"):
		logger.Errorf("[gorm] %s", msg)
	default:
		logger.Debugf("[gorm] %s", msg)
	}
}
