package proposal

import (
	"context"
	"sync"
	"time"

	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

// MemoryStore is the default in-memory proposal store. A single mutex
// covers both the proposal map and the dedup index so registration and
// transitions are linearizable; at this store's scale the coarse lock is
// cheaper than per-key locking and easier to reason about.
type MemoryStore struct {
	mu        sync.Mutex
	proposals map[string]models.Proposal
	// dedup maps dedup_hash -> proposal id of the current slot holder.
	dedup map[string]string
	// dedupTouched tracks when each index entry last changed, for TTL
	// cleanup of stale terminal entries.
	dedupTouched map[string]time.Time

	cleanupEvery time.Duration
	lastCleanup  time.Time
	clock        func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.clock = clock }
}

// WithDedupCleanup overrides the dedup index cleanup interval.
func WithDedupCleanup(every time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = every }
}

// NewMemoryStore creates an empty in-memory proposal store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		proposals:    make(map[string]models.Proposal),
		dedup:        make(map[string]string),
		dedupTouched: make(map[string]time.Time),
		cleanupEvery: time.Hour,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastCleanup = s.clock()
	return s
}

// Register creates the proposal unless an active one already holds its
// dedup hash.
func (s *MemoryStore) Register(_ context.Context, p models.Proposal) (models.Proposal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeCleanup()

	if holderID, ok := s.dedup[p.DedupHash]; ok {
		holder, exists := s.proposals[holderID]
		if exists && holder.Status.Active() {
			return holder, false, nil
		}
		if exists && !IsRetrySafe(holder.Status) {
			// Settled non-retryable holder still owns the slot until the
			// index entry ages out; re-registration resolves to it.
			return holder, false, nil
		}
	}

	s.proposals[p.ID] = p
	s.dedup[p.DedupHash] = p.ID
	s.dedupTouched[p.DedupHash] = s.clock()
	return p, true, nil
}

// Get fetches a proposal by id.
func (s *MemoryStore) Get(_ context.Context, id string) (models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return models.Proposal{}, domerrors.Newf(domerrors.CodeNotFound, "proposal %s not found", id)
	}
	return p, nil
}

// Transition validates and applies a status change atomically.
func (s *MemoryStore) Transition(_ context.Context, id string, to models.ProposalStatus, mutate func(*models.Proposal)) (models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return models.Proposal{}, domerrors.Newf(domerrors.CodeNotFound, "proposal %s not found", id)
	}
	if err := ValidateTransition(p.Status, to); err != nil {
		return models.Proposal{}, err
	}

	p.Status = to
	if mutate != nil {
		mutate(&p)
	}
	s.proposals[id] = p
	s.dedupTouched[p.DedupHash] = s.clock()
	return p, nil
}

// Update applies mutate without a status change.
func (s *MemoryStore) Update(_ context.Context, id string, mutate func(*models.Proposal)) (models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[id]
	if !ok {
		return models.Proposal{}, domerrors.Newf(domerrors.CodeNotFound, "proposal %s not found", id)
	}
	status := p.Status
	if mutate != nil {
		mutate(&p)
	}
	p.Status = status
	s.proposals[id] = p
	return p, nil
}

// FindActive returns the non-terminal proposal for a session and action.
func (s *MemoryStore) FindActive(_ context.Context, sessionID string, action models.Action) (models.Proposal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.proposals {
		if p.SessionID == sessionID && p.Action == action && p.Status.Active() {
			return p, true, nil
		}
	}
	return models.Proposal{}, false, nil
}

// ExpireOverdue expires every overdue proposal still in a TTL-bound
// state. EXECUTING is exempt: in-flight work is never cancelled.
func (s *MemoryStore) ExpireOverdue(_ context.Context, now time.Time) ([]models.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []models.Proposal
	for id, p := range s.proposals {
		if !p.Expired(now) || !CanTransition(p.Status, models.StatusExpired) {
			continue
		}
		p.Status = models.StatusExpired
		s.proposals[id] = p
		expired = append(expired, p)
	}
	return expired, nil
}

// maybeCleanup prunes dedup index entries whose holder settled and whose
// slot has been idle past the cleanup interval. Called under s.mu.
func (s *MemoryStore) maybeCleanup() {
	now := s.clock()
	if now.Sub(s.lastCleanup) < s.cleanupEvery {
		return
	}
	s.lastCleanup = now

	for hash, touched := range s.dedupTouched {
		if now.Sub(touched) < s.cleanupEvery {
			continue
		}
		if holder, ok := s.proposals[s.dedup[hash]]; ok && holder.Status.Active() {
			continue
		}
		delete(s.dedup, hash)
		delete(s.dedupTouched, hash)
	}
}
