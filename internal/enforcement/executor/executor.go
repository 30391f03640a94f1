// Package executor defines the outbound action capability and the
// resilience wrapper the orchestrator calls it through. The actual
// mitigation (firewall call, IdP API, session store purge) lives behind
// the ActionExecutor port; this pipeline only governs the decision.
package executor

//go:generate mockgen -source=executor.go -destination=mocks/mocks.go -package=mocks ActionExecutor

import (
	"context"

	"aegis/internal/enforcement/models"
)

// ActionExecutor performs a mitigation action against a target. One
// invocation is expected to be idempotent: retrying a call that may
// have landed must be safe.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.Action, params map[string]string) (models.ExecutionResult, error)
}

// Func adapts a function to the ActionExecutor port.
type Func func(ctx context.Context, action models.Action, params map[string]string) (models.ExecutionResult, error)

// Execute implements ActionExecutor.
func (f Func) Execute(ctx context.Context, action models.Action, params map[string]string) (models.ExecutionResult, error) {
	return f(ctx, action, params)
}
