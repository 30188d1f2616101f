package observability

import (
	"testing"

	"github.com/smallbiznis/caseledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		AppVersion:  "1.2.0",
		Observability: config.ObservabilityConfig{
			LogLevel:          "info",
			OtelProtocol:      "thrift",
			OtelSamplingRatio: 3,
		},
	})

	assert.Equal(t, "caseledger", cfg.ServiceName)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.Debug())

	cfg.LogLevel = "debug"
	assert.True(t, cfg.Debug())
	assert.True(t, Config{Environment: "local"}.Debug())
}
