package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// Ledger appends hash-chained entries to a Store and verifies the chain.
// Appends are serialized: the latest-hash read and the persist must be
// atomic or two writers could chain onto the same predecessor.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	logger *slog.Logger
	clock  func() time.Time

	// mirror receives a copy of every appended entry for asynchronous
	// fan-out (Kafka). Nil disables mirroring; a full mirror never
	// blocks an append.
	mirror chan<- Entry
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithMirror attaches an entry mirror channel.
func WithMirror(mirror chan<- Entry) Option {
	return func(l *Ledger) { l.mirror = mirror }
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append stamps, chains, and persists an entry. The caller fills every
// field except ID, PrevHash, Hash, and CreatedAt.
func (l *Ledger) Append(ctx context.Context, entry Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prevHash := GenesisHash
	if latest, ok, err := l.store.Latest(ctx); err != nil {
		return Entry{}, fmt.Errorf("fetch latest ledger entry: %w", err)
	} else if ok {
		prevHash = latest.Hash
	}

	entry.ID = uuid.New().String()
	entry.PrevHash = prevHash
	entry.CreatedAt = l.clock().UTC()

	hash, err := entryHash(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.Hash = hash

	if err := l.store.Append(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("append ledger entry: %w", err)
	}

	if l.mirror != nil {
		select {
		case l.mirror <- entry:
		default:
			l.logger.Warn("audit mirror buffer full, entry not mirrored",
				"entry_id", entry.ID,
				"action", entry.Action,
			)
		}
	}
	return entry, nil
}

// VerifyChain walks the chain from the GENESIS sentinel via a
// prev_hash index, recomputing every hash. It returns true only when
// every stored entry is reachable and its hash matches. The index walk
// tolerates stores that do not preserve insertion order.
func (l *Ledger) VerifyChain(ctx context.Context) (bool, error) {
	entries, err := l.store.All(ctx)
	if err != nil {
		return false, fmt.Errorf("load ledger entries: %w", err)
	}
	if len(entries) == 0 {
		return true, nil
	}

	byPrev := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if _, dup := byPrev[e.PrevHash]; dup {
			// Two entries chained onto the same predecessor: a fork.
			return false, nil
		}
		byPrev[e.PrevHash] = e
	}

	visited := 0
	cursor := GenesisHash
	for {
		entry, ok := byPrev[cursor]
		if !ok {
			break
		}
		want, err := entryHash(entry)
		if err != nil {
			return false, err
		}
		if entry.Hash != want {
			return false, nil
		}
		visited++
		cursor = entry.Hash
	}

	return visited == len(entries), nil
}

// ListByRequestID exposes correlated entries for the control surface.
func (l *Ledger) ListByRequestID(ctx context.Context, requestID string) ([]Entry, error) {
	return l.store.ListByRequestID(ctx, requestID)
}

// entryHash computes SHA256(prev_hash ‖ canonical(payload)). The payload
// is the entry minus its own hash, serialized as RFC 8785 canonical JSON
// so key order and number formatting cannot affect the digest.
func entryHash(entry Entry) (string, error) {
	payload := entry
	payload.Hash = ""

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal ledger payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize ledger payload: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(entry.PrevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
