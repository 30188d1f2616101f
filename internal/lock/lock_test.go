package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExcludesSecondHolder(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.TryLock(ctx, "2025001", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "2025001", time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	_, err = l.TryLock(ctx, "2025002", time.Minute)
	assert.NoError(t, err)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	_, err = l.TryLock(ctx, "2025001", time.Minute)
	assert.NoError(t, err)
}

func TestLocalLockerExpires(t *testing.T) {
	l := NewLocalLocker()
	now := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := l.TryLock(ctx, "2025001", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = l.TryLock(ctx, "2025001", time.Second)
	assert.NoError(t, err)
}

func TestNewRedisLockerNilClient(t *testing.T) {
	assert.Nil(t, NewRedisLocker(nil))
}
