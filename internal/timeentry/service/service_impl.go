package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/caseledger/internal/audit/domain"
	"github.com/smallbiznis/caseledger/internal/clock"
	"github.com/smallbiznis/caseledger/internal/config"
	idempotencydomain "github.com/smallbiznis/caseledger/internal/idempotency/domain"
	ledgerdomain "github.com/smallbiznis/caseledger/internal/ledger/domain"
	obscontext "github.com/smallbiznis/caseledger/internal/observability/context"
	obsmetrics "github.com/smallbiznis/caseledger/internal/observability/metrics"
	"github.com/smallbiznis/caseledger/internal/timeentry/domain"
	pkgdb "github.com/smallbiznis/caseledger/pkg/db"
	"github.com/smallbiznis/caseledger/pkg/retry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Config      config.Config
	GenID       *snowflake.Node
	Ledger      ledgerdomain.Repository
	Idempotency idempotencydomain.Service
	Audit       auditdomain.Service            `optional:"true"`
	Metrics     *obsmetrics.Metrics            `optional:"true"`
	Consistency *obsmetrics.ConsistencyMetrics `optional:"true"`
	Clock       clock.Clock                    `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         config.IdempotencyConfig
	genID       *snowflake.Node
	ledger      ledgerdomain.Repository
	idempotency idempotencydomain.Service
	audit       auditdomain.Service
	metrics     *obsmetrics.Metrics
	consistency *obsmetrics.ConsistencyMetrics
	clock       clock.Clock
	validate    *validator.Validate
	retry       retry.Policy
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("timeentry.service"),
		cfg:         p.Config.Idempotency,
		genID:       p.GenID,
		ledger:      p.Ledger,
		idempotency: p.Idempotency,
		audit:       p.Audit,
		metrics:     p.Metrics,
		consistency: p.Consistency,
		clock:       clk,
		validate:    newValidator(),
		retry:       retry.DefaultPolicy(),
	}
}

// Submit applies a command at most once per idempotency key. A replayed
// key returns the stored result of the first successful execution.
func (s *Service) Submit(ctx context.Context, cmd domain.Command) (*domain.Result, error) {
	cmd = normalize(cmd)

	key := cmd.IdempotencyKey
	if key == "" {
		if !s.cfg.DeriveMissingKey {
			return nil, s.reject(ctx, &domain.ValidationError{Field: "idempotency_key", Code: "required", Message: "is required"})
		}
		key = deriveKey(cmd)
	}

	if result, err := s.replay(ctx, key); err != nil || result != nil {
		return result, err
	}

	if err := validateCommand(s.validate, cmd); err != nil {
		return nil, s.reject(ctx, err)
	}

	result, err := retry.Do(ctx, s.retry, isRetryable, func(ctx context.Context) (*domain.Result, error) {
		return s.apply(ctx, key, cmd)
	})
	switch {
	case err == nil:
	case errors.Is(err, idempotencydomain.ErrDuplicateKey):
		// A concurrent twin committed first; answer with its result.
		winner, replayErr := s.replay(ctx, key)
		if replayErr != nil {
			return nil, replayErr
		}
		if winner != nil {
			return winner, nil
		}
		return nil, err
	case errors.Is(err, domain.ErrInvalidCommand):
		return nil, s.reject(ctx, err)
	case isRetryable(err):
		return nil, fmt.Errorf("%w: %w", domain.ErrTransactionConflict, err)
	default:
		return nil, err
	}

	s.metrics.RecordEntry(ctx, cmd.IsInternal)
	s.log.Info("time entry recorded",
		zap.String("entry_id", result.EntryID),
		zap.String("case_id", result.CaseID),
		zap.String("employee_id", cmd.EmployeeID),
		zap.Int("minutes", cmd.Minutes),
		zap.Bool("is_internal", cmd.IsInternal),
	)
	return result, nil
}

func (s *Service) apply(ctx context.Context, key string, cmd domain.Command) (*domain.Result, error) {
	var result *domain.Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var (
			c   *ledgerdomain.Case
			svc *ledgerdomain.CaseService
			err error
		)
		if cmd.IsInternal {
			c, err = s.ledger.EnsureInternalCase(ctx, tx, cmd.EmployeeID)
		} else {
			c, err = s.ledger.LockCase(ctx, tx, cmd.CaseID)
		}
		if err != nil {
			return err
		}

		if !cmd.IsInternal {
			svc, err = s.ledger.GetService(ctx, tx, cmd.ServiceID)
			if errors.Is(err, ledgerdomain.ErrServiceNotFound) {
				return &domain.ValidationError{Field: "service_id", Code: "not_found", Message: "service does not exist"}
			}
			if err != nil {
				return err
			}
			if svc.CaseID != c.ID {
				return &domain.ValidationError{Field: "service_id", Code: "not_in_case", Message: "service does not belong to the case"}
			}
		}

		entry := &ledgerdomain.BillableEntry{
			ID:             s.genID.Generate(),
			CaseID:         c.ID,
			EmployeeID:     cmd.EmployeeID,
			WorkDate:       cmd.Date,
			Minutes:        cmd.Minutes,
			Hours:          ledgerdomain.MinutesToHours(int64(cmd.Minutes)),
			Action:         cmd.Action,
			IsInternal:     cmd.IsInternal,
			IdempotencyKey: &key,
			RecordedAt:     s.clock.Now(),
		}
		if svc != nil {
			entry.ServiceID = &svc.ID
		}
		if cmd.TaskID != "" {
			entry.TaskID = &cmd.TaskID
		}
		if err := s.ledger.InsertEntry(ctx, tx, entry); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return idempotencydomain.ErrDuplicateKey
			}
			return err
		}

		out := &domain.Result{EntryID: entry.ID.String(), CaseID: c.ID, Success: true}
		if svc != nil {
			updated, err := s.ledger.ApplyServiceUsage(ctx, tx, svc.ID, entry.Hours)
			if err != nil {
				return err
			}
			if _, err := s.ledger.RollupCase(ctx, tx, c.ID, c.Version); err != nil {
				return err
			}
			used := updated.HoursUsed
			out.CachedServiceUsed = &used
		}

		if err := s.idempotency.Record(ctx, tx, key, domain.OperationCreateEntry, out); err != nil {
			return err
		}

		if s.audit != nil {
			ctx := obscontext.WithCaseID(ctx, c.ID)
			if err := s.audit.RecordTx(ctx, tx, auditdomain.Event{
				ActorType:  auditdomain.ActorTypeEmployee,
				ActorID:    cmd.EmployeeID,
				Action:     "time_entry.created",
				TargetType: "billable_entry",
				TargetID:   out.EntryID,
				Metadata: map[string]any{
					"service_id":  cmd.ServiceID,
					"minutes":     cmd.Minutes,
					"work_date":   cmd.Date,
					"is_internal": cmd.IsInternal,
				},
			}); err != nil {
				return err
			}
		}

		result = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) replay(ctx context.Context, key string) (*domain.Result, error) {
	op, err := s.idempotency.Find(ctx, key)
	if err != nil || op == nil {
		return nil, err
	}

	var result domain.Result
	if err := op.Decode(&result); err != nil {
		return nil, fmt.Errorf("decode stored result: %w", err)
	}
	result.Replayed = true

	s.consistency.IncReplay(domain.OperationCreateEntry)
	s.metrics.RecordReplay(ctx, domain.OperationCreateEntry)
	s.log.Debug("duplicate command answered from ledger", zap.String("entry_id", result.EntryID))
	return &result, nil
}

func (s *Service) reject(ctx context.Context, err error) error {
	reason := "invalid"
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		reason = verr.Code
	}
	s.metrics.RecordRejected(ctx, reason)
	return err
}

// deriveKey uses only fields the caller controls so a retried command
// derives the same key.
func deriveKey(cmd domain.Command) string {
	return idempotencydomain.DeriveKey(domain.OperationCreateEntry,
		cmd.CaseID,
		cmd.ServiceID,
		cmd.EmployeeID,
		cmd.Date,
		strconv.Itoa(cmd.Minutes),
		strconv.FormatBool(cmd.IsInternal),
		cmd.TaskID,
		cmd.Action,
	)
}

func isRetryable(err error) bool {
	return errors.Is(err, ledgerdomain.ErrVersionConflict) || pkgdb.IsRetryableTxErr(err)
}
