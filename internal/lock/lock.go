package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrLocked = errors.New("lock_held")

// ReleaseFunc gives the lock back. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

// CaseLocker serialises mutating work on one case across writers.
type CaseLocker interface {
	TryLock(ctx context.Context, caseID string, ttl time.Duration) (ReleaseFunc, error)
}

// LocalLocker is an in-process keyed try-lock used when redis is not
// configured. It only protects writers inside one process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		held: map[string]time.Time{},
		now:  time.Now,
	}
}

func (l *LocalLocker) TryLock(_ context.Context, caseID string, ttl time.Duration) (ReleaseFunc, error) {
	if caseID == "" {
		return nil, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, ok := l.held[caseID]; ok && now.Before(expiry) {
		return nil, ErrLocked
	}
	expiry := now.Add(ttl)
	l.held[caseID] = expiry

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if current, ok := l.held[caseID]; ok && current.Equal(expiry) {
				delete(l.held, caseID)
			}
		})
		return nil
	}, nil
}
