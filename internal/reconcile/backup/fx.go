package backup

import (
	"context"

	"github.com/smallbiznis/caseledger/internal/config"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("reconcile.backup",
	fx.Provide(NewConfiguredWriter),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *obsmetrics.ConsistencyMetrics `optional:"true"`
}

// NewConfiguredWriter always writes to BACKUP_DIR and mirrors to GCS when
// a bucket is configured.
func NewConfiguredWriter(p Params) (*Writer, error) {
	cfg := p.Config.Reconcile
	sinks := []Sink{}
	if fileSink := NewFileSink(cfg.BackupDir); fileSink != nil {
		sinks = append(sinks, fileSink)
	}

	if cfg.GCSBucket != "" {
		gcsSink, err := NewGCSSink(context.Background(), cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, err
		}
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return gcsSink.Close()
			},
		})
		sinks = append(sinks, gcsSink)
	}

	return NewWriter(p.Log, p.Metrics, sinks...), nil
}
