package otpflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store persists flows between steps.
type Store interface {
	// Get returns ErrFlowNotFound for unknown or expired flows.
	Get(ctx context.Context, id string) (*Flow, error)
	Save(ctx context.Context, f *Flow, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	// Acquire takes the step lock of a flow for at most ttl and returns the holder's token.
	// It reports false when the lock is held.
	Acquire(ctx context.Context, id string, ttl time.Duration) (token string, ok bool, err error)
	// Release frees the lock only while it is still held with token.
	Release(ctx context.Context, id, token string) error
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryLock struct {
	token string
	until time.Time
}

// MemoryStore is a Store for single instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]memoryEntry
	locks map[string]memoryLock
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows: make(map[string]memoryEntry),
		locks: make(map[string]memoryLock),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Flow, error) {
	s.mu.Lock()
	entry, ok := s.flows[id]
	if ok && !NowFunc().Before(entry.expiresAt) {
		delete(s.flows, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrFlowNotFound
	}

	// stored as JSON so callers never share a Flow
	f := new(Flow)
	if err := json.Unmarshal(entry.data, f); err != nil {
		return nil, errors.Wrap(err, "decoding flow")
	}
	return f, nil
}

func (s *MemoryStore) Save(_ context.Context, f *Flow, ttl time.Duration) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encoding flow")
	}
	s.mu.Lock()
	s.flows[f.ID] = memoryEntry{data: data, expiresAt: NowFunc().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.flows, id)
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, id string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := NowFunc()
	if lock, held := s.locks[id]; held && now.Before(lock.until) {
		return "", false, nil
	}
	token := uuid.NewString()
	s.locks[id] = memoryLock{token: token, until: now.Add(ttl)}
	return token, true, nil
}

func (s *MemoryStore) Release(_ context.Context, id, token string) error {
	s.mu.Lock()
	if lock, held := s.locks[id]; held && lock.token == token {
		delete(s.locks, id)
	}
	s.mu.Unlock()
	return nil
}

// Purge drops expired flows and locks.
func (s *MemoryStore) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := NowFunc()
	for id, entry := range s.flows {
		if !now.Before(entry.expiresAt) {
			delete(s.flows, id)
		}
	}
	for id, lock := range s.locks {
		if !now.Before(lock.until) {
			delete(s.locks, id)
		}
	}
}
