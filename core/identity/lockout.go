package identity

import (
	"context"
	"sync"
	"time"
)

type attempts struct {
	count     int
	expiresAt time.Time
}

// MemoryLockout is a Lockout for single instance deployments and tests.
type MemoryLockout struct {
	mu          sync.Mutex
	maxAttempts int
	cooldown    time.Duration
	keys        map[string]attempts
}

var _ Lockout = (*MemoryLockout)(nil)

func NewMemoryLockout(maxAttempts int, cooldown time.Duration) *MemoryLockout {
	return &MemoryLockout{
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		keys:        make(map[string]attempts),
	}
}

// get returns the live counter of key. Callers hold mu.
func (l *MemoryLockout) get(key string, now time.Time) attempts {
	a, ok := l.keys[key]
	if ok && !now.Before(a.expiresAt) {
		delete(l.keys, key)
		return attempts{}
	}
	return a
}

func (l *MemoryLockout) Check(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := NowFunc()
	if a := l.get(key, now); l.maxAttempts > 0 && a.count >= l.maxAttempts {
		return &LockedError{Key: key, RetryAfter: a.expiresAt.Sub(now)}
	}
	return nil
}

func (l *MemoryLockout) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := NowFunc()
	a := l.get(key, now)
	a.count++
	// the window restarts with each failure, so the cooldown runs from the last one
	a.expiresAt = now.Add(l.cooldown)
	l.keys[key] = a
	if l.maxAttempts > 0 && a.count >= l.maxAttempts {
		return &LockedError{Key: key, RetryAfter: l.cooldown}
	}
	return nil
}

func (l *MemoryLockout) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.keys, key)
	l.mu.Unlock()
	return nil
}
