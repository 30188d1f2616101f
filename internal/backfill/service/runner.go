package service

import (
	"context"
	"fmt"
	"strings"

	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/backfill/definitions"
	"github.com/smallbiznis/caseledger/internal/backfill/domain"
	"github.com/smallbiznis/caseledger/internal/clock"
	"github.com/smallbiznis/caseledger/internal/config"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const downNotice = "markers cleared; corrected values were not restored"

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Config  config.Config
	Ledger  ledgerdomain.Repository
	Audit   auditdomain.Service            `optional:"true"`
	Metrics *obsmetrics.ConsistencyMetrics `optional:"true"`
	Clock   clock.Clock                    `optional:"true"`
}

type Runner struct {
	db        *gorm.DB
	log       *zap.Logger
	defs      []domain.Definition
	byID      map[string]domain.Definition
	batchSize int
	audit     auditdomain.Service
	metrics   *obsmetrics.ConsistencyMetrics
	clock     clock.Clock
}

func NewService(p Params) domain.Service {
	return NewRunner(p, definitions.All(p.Ledger)...)
}

// NewRunner registers defs explicitly.
func NewRunner(p Params, defs ...domain.Definition) *Runner {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	batchSize := p.Config.Backfill.BatchSize
	if batchSize <= 0 || batchSize > domain.MaxBatchSize {
		batchSize = domain.MaxBatchSize
	}

	byID := make(map[string]domain.Definition, len(defs))
	for _, def := range defs {
		byID[def.ID()] = def
	}
	return &Runner{
		db:        p.DB,
		log:       p.Log.Named("backfill.runner"),
		defs:      defs,
		byID:      byID,
		batchSize: batchSize,
		audit:     p.Audit,
		metrics:   p.Metrics,
		clock:     clk,
	}
}

func (r *Runner) List() []domain.Info {
	out := make([]domain.Info, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, domain.Info{ID: def.ID(), Version: def.Version(), Description: def.Description()})
	}
	return out
}

func (r *Runner) Run(ctx context.Context, migrationID string, op domain.Operation) (*domain.Stats, error) {
	def, ok := r.byID[strings.TrimSpace(migrationID)]
	if !ok {
		return nil, domain.ErrUnknownMigration
	}

	started := r.clock.Now()
	stats := &domain.Stats{MigrationID: def.ID(), Operation: op}

	var err error
	switch op {
	case domain.OperationDryRun:
		err = r.dryRun(ctx, def, stats)
	case domain.OperationUp:
		err = r.up(ctx, def, stats)
	case domain.OperationDown:
		stats.Notice = downNotice
		err = r.down(ctx, def, stats)
	default:
		return nil, domain.ErrInvalidOperation
	}
	stats.Duration = r.clock.Now().Sub(started)

	if err == nil && len(stats.Failures) > 0 {
		err = &domain.PartialRunError{Failures: stats.Failures}
	}

	r.metrics.AddBackfillRecords(def.ID(), string(op), stats.Changed)
	r.log.Info("backfill finished",
		zap.String("migration_id", def.ID()),
		zap.String("operation", string(op)),
		zap.Int("total", stats.Total),
		zap.Int("changed", stats.Changed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("batches", stats.Batches),
		zap.Int("errors", stats.Errors),
		zap.Duration("duration", stats.Duration),
	)

	if op != domain.OperationDryRun && r.audit != nil {
		if auditErr := r.audit.Record(ctx, auditdomain.Event{
			Action:     "backfill." + string(op),
			TargetType: "migration",
			TargetID:   def.ID(),
			Metadata: map[string]any{
				"changed": stats.Changed,
				"skipped": stats.Skipped,
				"batches": stats.Batches,
				"errors":  stats.Errors,
			},
		}); auditErr != nil {
			r.log.Warn("audit backfill failed", zap.Error(auditErr))
		}
	}
	return stats, err
}

func (r *Runner) dryRun(ctx context.Context, def domain.Definition, stats *domain.Stats) error {
	cursor := ""
	for {
		rows, err := def.Scan(ctx, r.db, cursor, r.batchSize)
		if err != nil {
			return fmt.Errorf("scan %s: %w", def.ID(), err)
		}
		if len(rows) == 0 {
			return nil
		}
		stats.Batches++
		for _, row := range rows {
			stats.Total++
			if !row.Changed {
				stats.Skipped++
				continue
			}
			stats.Changed++
			stats.Records = append(stats.Records, domain.RecordChange{
				ID:     row.ID,
				Scope:  row.Scope,
				Field:  def.Field(),
				Before: row.Before,
				After:  row.After,
			})
		}
		cursor = rows[len(rows)-1].ID
	}
}

// up commits each batch in its own transaction. A failed batch rolls back
// alone and the run moves on to the next one.
func (r *Runner) up(ctx context.Context, def domain.Definition, stats *domain.Stats) error {
	marker := domain.Marker{Version: def.Version(), Name: def.ID()}
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := def.Scan(ctx, r.db, cursor, r.batchSize)
		if err != nil {
			return fmt.Errorf("scan %s: %w", def.ID(), err)
		}
		if len(rows) == 0 {
			return nil
		}
		stats.Batches++
		stats.Total += len(rows)

		marker.At = r.clock.Now()
		changed, skipped := 0, 0
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, row := range rows {
				if !row.Changed {
					skipped++
					continue
				}
				applied, err := def.Apply(ctx, tx, row, marker)
				if err != nil {
					return fmt.Errorf("record %s: %w", row.ID, err)
				}
				if applied {
					changed++
				} else {
					skipped++
				}
			}
			return nil
		})
		if err != nil {
			r.recordFailure(def, stats, cursor, err)
		} else {
			stats.Changed += changed
			stats.Skipped += skipped
		}
		cursor = rows[len(rows)-1].ID
	}
}

func (r *Runner) down(ctx context.Context, def domain.Definition, stats *domain.Stats) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := def.ScanMarked(ctx, r.db, cursor, r.batchSize)
		if err != nil {
			return fmt.Errorf("scan %s markers: %w", def.ID(), err)
		}
		if len(ids) == 0 {
			return nil
		}
		stats.Batches++
		stats.Total += len(ids)

		var cleared int64
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := def.ClearMarkers(ctx, tx, ids)
			cleared = n
			return err
		})
		if err != nil {
			r.recordFailure(def, stats, cursor, err)
		} else {
			stats.Changed += int(cleared)
			stats.Skipped += len(ids) - int(cleared)
		}
		cursor = ids[len(ids)-1]
	}
}

func (r *Runner) recordFailure(def domain.Definition, stats *domain.Stats, cursor string, err error) {
	stats.Errors++
	stats.Failures = append(stats.Failures, domain.BatchFailure{
		Batch:  stats.Batches,
		Cursor: cursor,
		Error:  err.Error(),
	})
	r.log.Error("backfill batch failed",
		zap.String("migration_id", def.ID()),
		zap.Int("batch", stats.Batches),
		zap.String("cursor", cursor),
		zap.Error(err),
	)
}
