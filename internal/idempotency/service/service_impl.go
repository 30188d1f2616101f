package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallbiznis/caseledger/internal/clock"
	"github.com/smallbiznis/caseledger/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Clock clock.Clock `optional:"true"`
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	clock clock.Clock
}

func NewService(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("idempotency.service"),
		repo:  p.Repo,
		clock: clk,
	}
}

func (s *Service) Find(ctx context.Context, key string) (*domain.ProcessedOperation, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrKeyRequired
	}
	return s.repo.Find(ctx, s.db, key)
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, key, operation string, snapshot any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrKeyRequired
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode result snapshot: %w", err)
	}

	err = s.repo.Insert(ctx, tx, &domain.ProcessedOperation{
		IdempotencyKey: key,
		Operation:      operation,
		ResultSnapshot: datatypes.JSON(payload),
		RecordedAt:     s.clock.Now(),
	})
	if err != nil {
		s.log.Debug("processed operation insert failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return err
	}
	return nil
}
