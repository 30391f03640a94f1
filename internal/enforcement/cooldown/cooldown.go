// Package cooldown rate-limits repeated enforcement against the same
// target. Windows are hierarchical: session, user, tenant. Repeated
// denials at one scope produce a recommendation to escalate to the next
// wider one, on the theory that a target tripping its cooldown over and
// over is not a one-off.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"aegis/internal/enforcement/models"
)

// Default windows per scope.
const (
	DefaultSessionWindow = 5 * time.Minute
	DefaultUserWindow    = 15 * time.Minute
	DefaultTenantWindow  = time.Hour

	// DefaultEscalationThreshold is the violation count at which a
	// scope-escalation recommendation is emitted.
	DefaultEscalationThreshold = 3
)

// Record is the persisted cooldown state for one (scope,target,action).
type Record struct {
	LastExecutedAt time.Time
	ViolationCount int
}

// Store persists cooldown records. Violation counting must be atomic so
// concurrent denials never lose updates.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	// MarkExecuted stamps a legitimate execution and resets violations.
	MarkExecuted(ctx context.Context, key string, at time.Time, ttl time.Duration) error
	// AddViolation increments and returns the violation counter.
	AddViolation(ctx context.Context, key string, ttl time.Duration) (int, error)
}

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Violations int
	// EscalateTo recommends a wider scope once violations pass the
	// threshold; empty otherwise.
	EscalateTo models.Scope
}

// Windows configures per-scope cooldown durations.
type Windows struct {
	Session time.Duration
	User    time.Duration
	Tenant  time.Duration
}

// DefaultWindows returns the stock scope windows.
func DefaultWindows() Windows {
	return Windows{
		Session: DefaultSessionWindow,
		User:    DefaultUserWindow,
		Tenant:  DefaultTenantWindow,
	}
}

// escalation maps each scope to the next wider one.
var escalation = map[models.Scope]models.Scope{
	models.ScopeSession: models.ScopeUser,
	models.ScopeUser:    models.ScopeTenant,
}

// Manager applies cooldown windows and tracks violations.
type Manager struct {
	store     Store
	windows   Windows
	threshold int
	clock     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithThreshold overrides the escalation threshold.
func WithThreshold(n int) Option {
	return func(m *Manager) { m.threshold = n }
}

// NewManager builds a cooldown manager over the given store.
func NewManager(store Store, windows Windows, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		windows:   windows,
		threshold: DefaultEscalationThreshold,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check reports whether the action may run against the target now. A
// denial increments the violation counter; past the threshold the
// decision carries a scope-escalation recommendation.
func (m *Manager) Check(ctx context.Context, action models.Action, target string, scope models.Scope) (Decision, error) {
	key := recordKey(scope, target, action)
	window := m.window(scope)
	now := m.clock()

	rec, found, err := m.store.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	if !found || now.Sub(rec.LastExecutedAt) >= window {
		return Decision{Allowed: true}, nil
	}

	violations, err := m.store.AddViolation(ctx, key, m.retention(window))
	if err != nil {
		return Decision{}, err
	}
	d := Decision{
		Allowed:    false,
		RetryAfter: rec.LastExecutedAt.Add(window).Sub(now),
		Violations: violations,
	}
	if violations >= m.threshold {
		d.EscalateTo = escalation[scope]
	}
	return d, nil
}

// Record stamps a legitimate execution, opening a fresh window and
// resetting the violation counter.
func (m *Manager) Record(ctx context.Context, action models.Action, target string, scope models.Scope) error {
	window := m.window(scope)
	return m.store.MarkExecuted(ctx, recordKey(scope, target, action), m.clock(), m.retention(window))
}

func (m *Manager) window(scope models.Scope) time.Duration {
	switch scope {
	case models.ScopeUser:
		return m.windows.User
	case models.ScopeTenant:
		return m.windows.Tenant
	}
	return m.windows.Session
}

// retention keeps records around long enough to observe repeat
// violations after the window itself has closed.
func (m *Manager) retention(window time.Duration) time.Duration {
	return 2 * window
}

func recordKey(scope models.Scope, target string, action models.Action) string {
	return fmt.Sprintf("%s:%s:%s", scope, target, action)
}
