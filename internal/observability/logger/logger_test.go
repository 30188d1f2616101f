package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithCaseID(ctx, "2025001")
	ctx = obscontext.WithActor(ctx, "operator", "op-1")

	WithContext(ctx, base).Info("reconciled")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "2025001", fields["case_id"])
	assert.Equal(t, "operator", fields["actor_type"])
	assert.Equal(t, "op-1", fields["actor_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestWithContextWithoutFieldsKeepsLogger(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithContext(context.Background(), base))
}

func TestZapConfig(t *testing.T) {
	cfg, err := zapConfig(Config{Level: "debug", Format: "Console"})
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.Encoding)
	assert.Equal(t, zap.DebugLevel, cfg.Level.Level())

	_, err = zapConfig(Config{Level: "loud"})
	assert.Error(t, err)
}
