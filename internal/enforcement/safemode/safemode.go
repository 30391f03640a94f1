// Package safemode is the kill switch: a global flag plus a set of
// disabled tenants. While engaged, the pipeline proposes and executes
// nothing for the covered scope. It is checked on submission and again
// immediately before execution, because the world can change between an
// approval and the moment the executor fires.
package safemode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	globalKey     = "aegis:safemode:global"
	tenantsSetKey = "aegis:safemode:tenants"
	// channel carries change notifications so every instance converges
	// without polling.
	channel = "aegis:safemode:events"

	payloadGlobalOn  = "global:on"
	payloadGlobalOff = "global:off"
)

// State is the kill switch. The in-process copy answers every check;
// Redis, when configured, keeps copies in sync across instances.
type State struct {
	mu       sync.RWMutex
	global   bool
	disabled map[string]struct{}

	rdb    *redis.Client
	logger *slog.Logger
}

// New builds a SafeMode state. rdb may be nil for single-process
// deployments; the switch then lives purely in memory.
func New(rdb *redis.Client, logger *slog.Logger) *State {
	return &State{
		disabled: make(map[string]struct{}),
		rdb:      rdb,
		logger:   logger,
	}
}

// Init loads the persisted switch state at startup.
func (s *State) Init(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	global, err := s.rdb.Exists(ctx, globalKey).Result()
	if err != nil {
		return err
	}
	tenants, err := s.rdb.SMembers(ctx, tenantsSetKey).Result()
	if err != nil {
		return err
	}

	disabled := make(map[string]struct{}, len(tenants))
	for _, id := range tenants {
		disabled[id] = struct{}{}
	}

	s.mu.Lock()
	s.global = global > 0
	s.disabled = disabled
	s.mu.Unlock()
	return nil
}

// Enabled reports whether enforcement is switched off globally or for
// this tenant.
func (s *State) Enabled(tenantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.global {
		return true
	}
	_, off := s.disabled[tenantID]
	return off
}

// Global reports the global flag alone.
func (s *State) Global() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// DisabledTenants snapshots the per-tenant set.
func (s *State) DisabledTenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.disabled))
	for id := range s.disabled {
		out = append(out, id)
	}
	return out
}

// SetGlobal flips the global switch and broadcasts the change.
func (s *State) SetGlobal(ctx context.Context, on bool) error {
	s.mu.Lock()
	s.global = on
	s.mu.Unlock()

	if s.rdb == nil {
		return nil
	}
	payload := payloadGlobalOff
	if on {
		if err := s.rdb.Set(ctx, globalKey, "1", 0).Err(); err != nil {
			return err
		}
		payload = payloadGlobalOn
	} else if err := s.rdb.Del(ctx, globalKey).Err(); err != nil {
		return err
	}
	return s.rdb.Publish(ctx, channel, payload).Err()
}

// SetTenant switches a single tenant off or back on and broadcasts.
func (s *State) SetTenant(ctx context.Context, tenantID string, off bool) error {
	s.mu.Lock()
	if off {
		s.disabled[tenantID] = struct{}{}
	} else {
		delete(s.disabled, tenantID)
	}
	s.mu.Unlock()

	if s.rdb == nil {
		return nil
	}
	if off {
		if err := s.rdb.SAdd(ctx, tenantsSetKey, tenantID).Err(); err != nil {
			return err
		}
		return s.rdb.Publish(ctx, channel, "tenant:off:"+tenantID).Err()
	}
	if err := s.rdb.SRem(ctx, tenantsSetKey, tenantID).Err(); err != nil {
		return err
	}
	return s.rdb.Publish(ctx, channel, "tenant:on:"+tenantID).Err()
}

// Listen follows the broadcast channel and applies remote changes until
// the context ends. Subscription failures back off and retry; a kill
// switch that silently stops listening is worse than one that logs
// noisily.
func (s *State) Listen(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	for {
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.WarnContext(ctx, "safemode listener dropped, reconnecting", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (s *State) listenOnce(ctx context.Context) error {
	pubsub := s.rdb.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Re-sync after (re)subscribing: anything published while we were
	// away is invisible on the channel.
	if err := s.Init(ctx); err != nil {
		return err
	}

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}
		s.apply(msg.Payload)
	}
}

func (s *State) apply(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case payload == payloadGlobalOn:
		s.global = true
	case payload == payloadGlobalOff:
		s.global = false
	case len(payload) > len("tenant:off:") && payload[:len("tenant:off:")] == "tenant:off:":
		s.disabled[payload[len("tenant:off:"):]] = struct{}{}
	case len(payload) > len("tenant:on:") && payload[:len("tenant:on:")] == "tenant:on:":
		delete(s.disabled, payload[len("tenant:on:"):])
	}
}
