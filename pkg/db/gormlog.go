package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heuristiclogix/eventrelay/pkg/logger"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 500 * time.Millisecond

// gormLogger routes GORM's statement log through the service logger. Only
// failed and slow statements are reported. Lookup misses and unique
// violations are expected outcomes for the relay and drop to debug.
type gormLogger struct {
	logg      *logger.Logger
	level     gormlogger.LogLevel
	slowQuery time.Duration
}

func newGormLogger(logg *logger.Logger, slowQuery time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	if slowQuery <= 0 {
		slowQuery = defaultSlowQuery
	}
	return &gormLogger{logg: logg, level: gormlogger.Warn, slowQuery: slowQuery}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.logg.Debug(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	expected := errors.Is(err, gorm.ErrRecordNotFound) || IsUniqueViolation(err, "")
	switch {
	case err != nil && !expected && g.level >= gormlogger.Error:
		sql, rows := fc()
		g.logg.Error(g.statementFields(ctx, sql, rows, elapsed), "database statement failed", err)
	case elapsed > g.slowQuery && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.logg.Warn(g.statementFields(ctx, sql, rows, elapsed), "slow database statement")
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		g.logg.Debug(g.statementFields(ctx, sql, rows, elapsed), "database statement")
	}
}

func (g *gormLogger) statementFields(ctx context.Context, sql string, rows int64, elapsed time.Duration) context.Context {
	return g.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
}
