package logger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 500 * time.Millisecond

// GormLogger routes gorm's query log through the global zap logger.
type GormLogger struct {
	LogQueries bool
}

func (l GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return GormLogger{LogQueries: level >= gormlogger.Info}
}

func (l GormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	sugar.Load().Infof(msg, args...)
}

func (l GormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	sugar.Load().Warnf(msg, args...)
}

func (l GormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	sugar.Load().Errorf(msg, args...)
}

func (l GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		sugar.Load().Warnf("query failed after %v (%d rows): %s: %v", elapsed, rows, sql, err)
	case elapsed > slowQueryThreshold:
		sql, rows := fc()
		sugar.Load().Warnf("slow query %v (%d rows): %s", elapsed, rows, sql)
	case l.LogQueries:
		sql, rows := fc()
		sugar.Load().Debugf("query %v (%d rows): %s", elapsed, rows, sql)
	}
}
