// Package incident correlates related proposals into incident groups so
// the audit trail and recovery plans reference one investigation instead
// of a scatter of per-action records. Correlation is by session first,
// user second, inside a sliding window.
package incident

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultWindow is how long an incident keeps absorbing new activity
// after its last linked proposal.
const DefaultWindow = 30 * time.Minute

type group struct {
	id       string
	lastSeen time.Time
}

// Grouper assigns incident ids.
type Grouper struct {
	mu        sync.Mutex
	window    time.Duration
	clock     func() time.Time
	bySession map[string]*group
	byUser    map[string]*group
}

// Option configures a Grouper.
type Option func(*Grouper)

// WithClock overrides the clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Grouper) { g.clock = clock }
}

// NewGrouper builds a grouper with the given window; zero means the
// default.
func NewGrouper(window time.Duration, opts ...Option) *Grouper {
	if window <= 0 {
		window = DefaultWindow
	}
	g := &Grouper{
		window:    window,
		clock:     time.Now,
		bySession: make(map[string]*group),
		byUser:    make(map[string]*group),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Link returns the incident id for this session/user pair, creating a
// new incident when no live one matches. A match by either key pulls the
// other key into the same incident, so a user hopping sessions stays
// under one id.
func (g *Grouper) Link(sessionID, userID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	grp := g.live(g.bySession[sessionID], now)
	if grp == nil {
		grp = g.live(g.byUser[userID], now)
	}
	if grp == nil {
		grp = &group{id: uuid.NewString()}
	}
	grp.lastSeen = now

	if sessionID != "" {
		g.bySession[sessionID] = grp
	}
	if userID != "" {
		g.byUser[userID] = grp
	}
	g.prune(now)
	return grp.id
}

func (g *Grouper) live(grp *group, now time.Time) *group {
	if grp == nil || now.Sub(grp.lastSeen) > g.window {
		return nil
	}
	return grp
}

// prune drops expired groups. Called under g.mu; cheap enough to run on
// every link at this map size.
func (g *Grouper) prune(now time.Time) {
	for key, grp := range g.bySession {
		if now.Sub(grp.lastSeen) > g.window {
			delete(g.bySession, key)
		}
	}
	for key, grp := range g.byUser {
		if now.Sub(grp.lastSeen) > g.window {
			delete(g.byUser, key)
		}
	}
}
