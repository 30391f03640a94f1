package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"

	"aegis/internal/enforcement/models"
)

// ResilientConfig tunes the wrapper.
type ResilientConfig struct {
	// Timeout bounds a single executor invocation.
	Timeout time.Duration
	// Attempts is the total number of tries per Execute call.
	Attempts uint
	// ConsecutiveFailures trips the breaker open.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// DefaultResilientConfig returns the stock wrapper settings.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:             10 * time.Second,
		Attempts:            3,
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
	}
}

// Resilient wraps an ActionExecutor with a per-call timeout, bounded
// retries with backoff, and a circuit breaker. The orchestrator only
// ever talks to executors through this wrapper: a flapping downstream
// must shed load here, not stall enforcement workers.
type Resilient struct {
	next   ActionExecutor
	cb     *gobreaker.CircuitBreaker
	cfg    ResilientConfig
	logger *slog.Logger
}

// NewResilient builds the wrapper around next.
func NewResilient(next ActionExecutor, cfg ResilientConfig, logger *slog.Logger) *Resilient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "action-executor",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("executor circuit state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Resilient{next: next, cb: cb, cfg: cfg, logger: logger}
}

// Execute implements ActionExecutor.
func (r *Resilient) Execute(ctx context.Context, action models.Action, params map[string]string) (models.ExecutionResult, error) {
	var result models.ExecutionResult

	_, err := r.cb.Execute(func() (interface{}, error) {
		rt := retry.New(
			retry.Context(ctx),
			retry.Attempts(r.cfg.Attempts),
			retry.LastErrorOnly(true),
		)
		return nil, rt.Do(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()

			var callErr error
			result, callErr = r.next.Execute(callCtx, action, params)
			return callErr
		})
	})
	if err != nil {
		return models.ExecutionResult{}, err
	}
	return result, nil
}
