package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ConsistencyPolicy is the operator-tunable part of drift handling.
// It is hot reloaded from consistency.yml.
type ConsistencyPolicy struct {
	ToleranceHours   float64  `mapstructure:"toleranceHours"`
	SkipCases        []string `mapstructure:"skipCases"`
	AuditConcurrency int      `mapstructure:"auditConcurrency"`
	RetryAttempts    int      `mapstructure:"retryAttempts"`
}

func DefaultConsistencyPolicy() ConsistencyPolicy {
	return ConsistencyPolicy{
		ToleranceHours:   0.02,
		SkipCases:        []string{"2025003"},
		AuditConcurrency: 4,
		RetryAttempts:    3,
	}
}

// IsSkipped reports whether the case is on the sentinel skip-list.
func (p ConsistencyPolicy) IsSkipped(caseID string) bool {
	caseID = strings.TrimSpace(caseID)
	for _, skipped := range p.SkipCases {
		if strings.TrimSpace(skipped) == caseID {
			return true
		}
	}
	return false
}

type ConsistencyPolicyHolder struct {
	current atomic.Value // holds ConsistencyPolicy
}

func NewConsistencyPolicyHolder() (*ConsistencyPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("consistency")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/caseledger/config")
	v.AddConfigPath("/etc/caseledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CASELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConsistencyPolicy()
	v.SetDefault("consistency.toleranceHours", defaults.ToleranceHours)
	v.SetDefault("consistency.skipCases", defaults.SkipCases)
	v.SetDefault("consistency.auditConcurrency", defaults.AuditConcurrency)
	v.SetDefault("consistency.retryAttempts", defaults.RetryAttempts)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var policy ConsistencyPolicy
	if err := v.UnmarshalKey("consistency", &policy); err != nil {
		return nil, err
	}
	if err := validateConsistencyPolicy(policy); err != nil {
		return nil, err
	}

	holder := &ConsistencyPolicyHolder{}
	holder.current.Store(policy)

	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log := zap.L().Named("config.consistency")
		var updated ConsistencyPolicy
		if err := v.UnmarshalKey("consistency", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateConsistencyPolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticPolicyHolder pins a policy without watching any file.
func NewStaticPolicyHolder(policy ConsistencyPolicy) *ConsistencyPolicyHolder {
	holder := &ConsistencyPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *ConsistencyPolicyHolder) Get() ConsistencyPolicy {
	if h == nil {
		return DefaultConsistencyPolicy()
	}
	return h.current.Load().(ConsistencyPolicy)
}

func validateConsistencyPolicy(p ConsistencyPolicy) error {
	if p.ToleranceHours < 0 {
		return errors.New("consistency.toleranceHours cannot be negative")
	}
	if p.AuditConcurrency <= 0 {
		return errors.New("consistency.auditConcurrency must be positive")
	}
	if p.RetryAttempts <= 0 {
		return errors.New("consistency.retryAttempts must be positive")
	}
	return nil
}
