package recovery

import (
	"time"

	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

// DefaultRollbackWindow bounds how long non-admin roles may undo a
// landed action.
const DefaultRollbackWindow = time.Hour

// RollbackPolicy gates who may roll back an executed proposal. Admins
// may always; analysts only while the action is fresh enough that
// undoing it is unlikely to collide with follow-on response work.
type RollbackPolicy struct {
	window time.Duration
}

// NewRollbackPolicy returns the policy with the given non-admin window;
// zero means the default.
func NewRollbackPolicy(window time.Duration) *RollbackPolicy {
	if window <= 0 {
		window = DefaultRollbackWindow
	}
	return &RollbackPolicy{window: window}
}

// Authorize checks whether the role may roll the proposal back now.
// The state machine separately enforces that only COMPLETED or FAILED
// proposals can move to ROLLED_BACK.
func (p *RollbackPolicy) Authorize(prop models.Proposal, role models.Role, now time.Time) error {
	if role == models.RoleAdmin {
		return nil
	}
	if role != models.RoleAnalyst {
		return domerrors.Newf(domerrors.CodeInsufficientRights,
			"role %s may not roll back proposals", role)
	}
	if prop.ExecutedAt.IsZero() {
		return domerrors.New(domerrors.CodeInsufficientRights,
			"proposal was never executed, only an admin may roll it back")
	}
	if now.Sub(prop.ExecutedAt) > p.window {
		return domerrors.Newf(domerrors.CodeInsufficientRights,
			"rollback window of %s elapsed, admin approval required", p.window)
	}
	return nil
}
