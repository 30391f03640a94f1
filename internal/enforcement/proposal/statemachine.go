// Package proposal keeps the durable record of governance decisions: a
// strict state machine, deterministic dedup keys, and stores that
// serialize all updates per proposal.
package proposal

import (
	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

// transitions is the complete legal transition table. Anything absent is
// an invariant violation; callers receive an error, never a silent no-op.
var transitions = map[models.ProposalStatus]map[models.ProposalStatus]struct{}{
	models.StatusCreated: {
		models.StatusPending: {},
		models.StatusExpired: {},
	},
	models.StatusPending: {
		models.StatusApproved: {},
		models.StatusRejected: {},
		models.StatusExpired:  {},
	},
	models.StatusApproved: {
		models.StatusExecuting: {},
		models.StatusExpired:   {},
	},
	models.StatusExecuting: {
		models.StatusCompleted: {},
		models.StatusFailed:    {},
	},
	models.StatusCompleted: {
		models.StatusRolledBack: {},
	},
	models.StatusFailed: {
		models.StatusRolledBack: {},
	},
	// REJECTED, ROLLED_BACK, EXPIRED admit nothing.
}

// CanTransition reports whether from→to is in the transition table.
func CanTransition(from, to models.ProposalStatus) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

// ValidateTransition returns a coded error for any from→to pair outside
// the table.
func ValidateTransition(from, to models.ProposalStatus) error {
	if !CanTransition(from, to) {
		return domerrors.Newf(domerrors.CodeIllegalTransition,
			"proposal transition %s -> %s is not permitted", from, to)
	}
	return nil
}

// Statuses enumerates every proposal status, for exhaustive checks in
// tests and sweepers.
func Statuses() []models.ProposalStatus {
	return []models.ProposalStatus{
		models.StatusCreated,
		models.StatusPending,
		models.StatusApproved,
		models.StatusRejected,
		models.StatusExecuting,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusRolledBack,
		models.StatusExpired,
	}
}
