//go:build integration

package safemode

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/testutil/containers"
)

func TestSafeModePropagatesAcrossInstances(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	primary := New(rc.Client, log)
	require.NoError(t, primary.Init(ctx))

	replica := New(rc.Client, log)
	require.NoError(t, replica.Init(ctx))
	go replica.Listen(ctx)

	// Give the replica's subscription a moment to attach.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, primary.SetGlobal(ctx, true))
	assert.Eventually(t, replica.Global, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, primary.SetTenant(ctx, "tenant-7", true))
	assert.Eventually(t, func() bool {
		return replica.Enabled("tenant-7")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, primary.SetGlobal(ctx, false))
	assert.Eventually(t, func() bool {
		return !replica.Global()
	}, 5*time.Second, 20*time.Millisecond)

	// Tenant switch stays off even after the global flag clears.
	assert.True(t, replica.Enabled("tenant-7"))
	assert.False(t, replica.Enabled("tenant-8"))
}

func TestSafeModeInitRestoresPersistedState(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	primary := New(rc.Client, log)
	require.NoError(t, primary.SetGlobal(ctx, true))
	require.NoError(t, primary.SetTenant(ctx, "tenant-3", true))

	// A freshly started instance converges from Redis alone, as after a
	// crash or deploy.
	restarted := New(rc.Client, log)
	require.NoError(t, restarted.Init(ctx))

	assert.True(t, restarted.Global())
	assert.ElementsMatch(t, []string{"tenant-3"}, restarted.DisabledTenants())
}
