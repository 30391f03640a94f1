//go:build integration

package cooldown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/enforcement/models"
	"aegis/pkg/testutil/containers"
)

func TestRedisStoreSharesCooldownsAcrossManagers(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	windows := Windows{Session: 5 * time.Minute, User: 15 * time.Minute, Tenant: time.Hour}
	store := NewRedisStore(rc.Client)

	// Two managers over the same Redis model two gateway instances.
	first := NewManager(store, windows, WithThreshold(3))
	second := NewManager(store, windows, WithThreshold(3))

	require.NoError(t, first.Record(ctx, models.ActionSessionTerminate, "sess-1", models.ScopeSession))

	d, err := second.Check(ctx, models.ActionSessionTerminate, "sess-1", models.ScopeSession)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.Equal(t, 1, d.Violations)

	// A different target is unaffected.
	d, err = second.Check(ctx, models.ActionSessionTerminate, "sess-2", models.ScopeSession)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisStoreEscalatesAfterRepeatedViolations(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	m := NewManager(NewRedisStore(rc.Client), Windows{Session: 5 * time.Minute}, WithThreshold(3))
	require.NoError(t, m.Record(ctx, models.ActionRateLimit, "sess-1", models.ScopeSession))

	var last Decision
	for i := 0; i < 3; i++ {
		d, err := m.Check(ctx, models.ActionRateLimit, "sess-1", models.ScopeSession)
		require.NoError(t, err)
		require.False(t, d.Allowed)
		last = d
	}

	assert.Equal(t, 3, last.Violations)
	assert.Equal(t, models.ScopeUser, last.EscalateTo)

	// A fresh execution resets the counter.
	require.NoError(t, m.Record(ctx, models.ActionRateLimit, "sess-1", models.ScopeSession))
	d, err := m.Check(ctx, models.ActionRateLimit, "sess-1", models.ScopeSession)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Violations)
	assert.Empty(t, d.EscalateTo)
}

func TestRedisStoreViolationCountingIsAtomic(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()

	store := NewRedisStore(rc.Client)
	require.NoError(t, store.MarkExecuted(ctx, "SESSION:sess-1:RATE_LIMIT", time.Now(), time.Hour))

	const workers = 10
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, _ = store.AddViolation(ctx, "SESSION:sess-1:RATE_LIMIT", time.Hour)
		}()
	}
	wg.Wait()

	rec, found, err := store.Get(ctx, "SESSION:sess-1:RATE_LIMIT")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, workers, rec.ViolationCount)
}
