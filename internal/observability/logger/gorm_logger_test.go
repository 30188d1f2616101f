package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql       string
		operation string
		table     string
	}{
		{`SELECT * FROM "case_services" WHERE case_id = $1`, "SELECT", "case_services"},
		{"INSERT INTO `billable_entries` (id) VALUES (?)", "INSERT", "billable_entries"},
		{`UPDATE "cases" SET version = version + 1`, "UPDATE", "cases"},
		{`WITH t AS (SELECT 1) DELETE FROM processed_operations`, "SELECT", "processed_operations"},
		{``, "UNKNOWN", ""},
	}
	for _, tc := range cases {
		operation, table := describeSQL(tc.sql)
		assert.Equal(t, tc.operation, operation, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestTraceLevels(t *testing.T) {
	l := NewGormLogger(nil, DefaultGormLoggerConfig())

	level, ok := l.traceLevel(time.Millisecond, errors.New("boom"))
	require.True(t, ok)
	assert.Equal(t, zapcore.ErrorLevel, level)

	_, ok = l.traceLevel(time.Millisecond, gormlogger.ErrRecordNotFound)
	assert.False(t, ok)

	level, ok = l.traceLevel(time.Millisecond, gorm.ErrDuplicatedKey)
	require.True(t, ok)
	assert.Equal(t, zapcore.DebugLevel, level)

	level, ok = l.traceLevel(time.Second, nil)
	require.True(t, ok)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, ok = l.traceLevel(time.Millisecond, nil)
	assert.False(t, ok)
}

func TestTraceOmitsParams(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewGormLogger(zap.New(core), GormLoggerConfig{Level: gormlogger.Info})

	l.Trace(context.Background(), time.Now(), func() (string, int64) {
		return `SELECT * FROM "cases" WHERE id = ?`, 1
	}, nil)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "cases", fields["table"])
	assert.Equal(t, int64(1), fields["rows_affected"])
	sql, params := l.ParamsFilter(context.Background(), "SELECT 1", "secret")
	assert.Equal(t, "SELECT 1", sql)
	assert.Nil(t, params)
}
