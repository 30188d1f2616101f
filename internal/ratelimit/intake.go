package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/caseledger/internal/config"
	"go.uber.org/zap"
)

const keyEntryIntakeEmployee = "caseledger:intake:employee:%s"

// IntakeLimiter throttles time-entry submissions per employee. A nil
// limiter allows everything.
type IntakeLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewIntakeLimiter shares the redis client provided by the lock module.
// It returns nil when rate limiting is off or redis is not configured.
func NewIntakeLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*IntakeLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		log.Named("ratelimit").Warn("rate limiting enabled but redis is disabled; intake is not throttled")
		return nil, nil
	}
	if limitCfg.EntryIntakeRate <= 0 || limitCfg.EntryIntakeBurst <= 0 {
		return nil, errors.New("entry intake rate limit must be positive")
	}
	return &IntakeLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.EntryIntakeRate,
		burst:  limitCfg.EntryIntakeBurst,
	}, nil
}

func (l *IntakeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IntakeLimiter) AllowEmployee(ctx context.Context, employeeID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		employeeID = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyEntryIntakeEmployee, employeeID), l.rate, l.burst)
}
