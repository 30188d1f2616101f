package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsistencyPolicyIsSkipped(t *testing.T) {
	policy := DefaultConsistencyPolicy()

	assert.True(t, policy.IsSkipped("2025003"))
	assert.True(t, policy.IsSkipped(" 2025003 "))
	assert.False(t, policy.IsSkipped("2025004"))
}

func TestValidateConsistencyPolicy(t *testing.T) {
	assert.NoError(t, validateConsistencyPolicy(DefaultConsistencyPolicy()))

	bad := DefaultConsistencyPolicy()
	bad.ToleranceHours = -1
	assert.Error(t, validateConsistencyPolicy(bad))

	bad = DefaultConsistencyPolicy()
	bad.AuditConcurrency = 0
	assert.Error(t, validateConsistencyPolicy(bad))
}

func TestStaticPolicyHolder(t *testing.T) {
	holder := NewStaticPolicyHolder(ConsistencyPolicy{ToleranceHours: 0.5, AuditConcurrency: 1, RetryAttempts: 1})
	assert.Equal(t, 0.5, holder.Get().ToleranceHours)

	var missing *ConsistencyPolicyHolder
	assert.Equal(t, DefaultConsistencyPolicy(), missing.Get())
}
