package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/platform/logger"
)

func TestSubmitRunsTasks(t *testing.T) {
	d := New(4, logger.NewDiscard())
	var ran atomic.Int32

	for range 10 {
		ok := d.Submit(func(context.Context) { ran.Add(1) })
		assert.True(t, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.Equal(t, int32(10), ran.Load())
}

func TestConcurrencyBound(t *testing.T) {
	const workers = 2
	d := New(workers, logger.NewDiscard())

	var mu sync.Mutex
	var current, peak int
	release := make(chan struct{})

	for range 6 {
		d.Submit(func(context.Context) {
			mu.Lock()
			current++
			if current > peak {
				peak = current
			}
			mu.Unlock()

			<-release

			mu.Lock()
			current--
			mu.Unlock()
		})
	}

	// Give the pool time to admit as many tasks as it ever will.
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.LessOrEqual(t, peak, workers)
	mu.Unlock()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.LessOrEqual(t, peak, workers)
}

func TestPanicsAreContained(t *testing.T) {
	d := New(1, logger.NewDiscard())
	var after atomic.Bool

	d.Submit(func(context.Context) { panic("boom") })
	d.Submit(func(context.Context) { after.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.True(t, after.Load(), "a panic must not poison the pool")
}

func TestSubmitAfterShutdownRefused(t *testing.T) {
	d := New(1, logger.NewDiscard())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.False(t, d.Submit(func(context.Context) {}))
}

func TestShutdownWaitsForInflight(t *testing.T) {
	d := New(1, logger.NewDiscard())
	var finished atomic.Bool

	started := make(chan struct{})
	d.Submit(func(context.Context) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.True(t, finished.Load())
}
