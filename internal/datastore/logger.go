// logger.go GORM and package logging helpers
package datastore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/yolo-go/internal/logging"
	gormlogger "gorm.io/gorm/logger"
)

// slowQueryThreshold defines the duration after which a query is considered slow.
const slowQueryThreshold = 1 * time.Second

var (
	pkgLogger     *slog.Logger
	pkgLoggerOnce sync.Once
)

// getLogger returns the package-level structured logger.
func getLogger() *slog.Logger {
	pkgLoggerOnce.Do(func() {
		pkgLogger = logging.ForService("datastore")
	})
	return pkgLogger
}

// createGormLogger configures and returns a new GORM logger instance that
// routes SQL logging through slog.
func createGormLogger() gormlogger.Interface {
	return &gormSlogLogger{level: gormlogger.Warn}
}

type gormSlogLogger struct {
	level gormlogger.LogLevel
}

func (l *gormSlogLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormSlogLogger) Info(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		getLogger().InfoContext(ctx, msg, "args", args)
	}
}

func (l *gormSlogLogger) Warn(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		getLogger().WarnContext(ctx, msg, "args", args)
	}
}

func (l *gormSlogLogger) Error(ctx context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		getLogger().ErrorContext(ctx, msg, "args", args)
	}
}

func (l *gormSlogLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.level >= gormlogger.Error:
		getLogger().ErrorContext(ctx, "query failed", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		getLogger().WarnContext(ctx, "slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.level >= gormlogger.Info:
		getLogger().DebugContext(ctx, "query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
