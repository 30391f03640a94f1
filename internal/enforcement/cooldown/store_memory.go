package cooldown

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single-process cooldown store. Entries expire
// lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	clock   func() time.Time
}

type memoryRecord struct {
	Record
	expiresAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides the store clock for tests.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.clock = clock }
}

// NewMemoryStore returns an empty in-memory cooldown store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]memoryRecord),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	if !s.clock().Before(rec.expiresAt) {
		delete(s.records, key)
		return Record{}, false, nil
	}
	return rec.Record, true, nil
}

func (s *MemoryStore) MarkExecuted(_ context.Context, key string, at time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = memoryRecord{
		Record:    Record{LastExecutedAt: at, ViolationCount: 0},
		expiresAt: s.clock().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) AddViolation(_ context.Context, key string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key]
	rec.ViolationCount++
	rec.expiresAt = s.clock().Add(ttl)
	s.records[key] = rec
	return rec.ViolationCount, nil
}
