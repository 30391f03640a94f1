package proposal

import (
	"context"
	"time"

	"aegis/internal/enforcement/models"
)

// Store persists proposals and guarantees two invariants: at most one
// active (non-terminal) proposal per dedup hash, and serialized status
// transitions per proposal id so no two updates can race past
// validation.
type Store interface {
	// Register creates the proposal or, when an active proposal already
	// holds the same dedup hash, returns that one with created=false.
	// A FAILED holder is retry-safe and is replaced by the new proposal.
	Register(ctx context.Context, p models.Proposal) (models.Proposal, bool, error)

	// Get fetches a proposal by id.
	Get(ctx context.Context, id string) (models.Proposal, error)

	// Transition atomically moves the proposal to the target status,
	// validating against the transition table, and applies mutate to the
	// stored record inside the same critical section. It returns the
	// updated proposal. Illegal targets return CodeIllegalTransition;
	// a concurrent transition that got there first returns CodeConflict.
	Transition(ctx context.Context, id string, to models.ProposalStatus, mutate func(*models.Proposal)) (models.Proposal, error)

	// Update applies mutate to the stored record under the same
	// serialization as Transition, without changing status. Used for
	// stamping the first signature of a dual approval.
	Update(ctx context.Context, id string, mutate func(*models.Proposal)) (models.Proposal, error)

	// FindActive returns the non-terminal proposal for the session and
	// action, if any. Used by the orchestrator's duplicate scan.
	FindActive(ctx context.Context, sessionID string, action models.Action) (models.Proposal, bool, error)

	// ExpireOverdue transitions every overdue CREATED, PENDING, or
	// APPROVED proposal to EXPIRED and returns the expired records.
	ExpireOverdue(ctx context.Context, now time.Time) ([]models.Proposal, error)
}
