package threat

import (
	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

// Guard is the pre-registration hard gate on action scope. It runs after
// assessment and before any proposal exists, independent of the policy
// engine, so a buggy policy can never reach a wide-scope action on a
// low-grade threat.
type Guard struct{}

// NewGuard returns the blast radius guard.
func NewGuard() *Guard { return &Guard{} }

// Validate rejects scope/severity combinations that must never proceed:
// tenant-scope actions demand CRITICAL severity, IP-scope actions demand
// HIGH or above. The check uses the intrinsic severity, not the final
// one, so a wide action's own blast radius can never escalate the grade
// that justifies it. Violations return CodeBlastRadius and abort before
// a proposal is created.
func (g *Guard) Validate(action models.Action, assessment models.ThreatAssessment) error {
	scope := action.Traits().Scope
	switch scope {
	case models.ScopeTenant:
		if assessment.IntrinsicSeverity != models.SeverityCritical {
			return domerrors.Newf(domerrors.CodeBlastRadius,
				"tenant-scope action %s requires CRITICAL severity, got %s", action, assessment.IntrinsicSeverity)
		}
	case models.ScopeIP:
		if !assessment.IntrinsicSeverity.AtLeast(models.SeverityHigh) {
			return domerrors.Newf(domerrors.CodeBlastRadius,
				"ip-scope action %s requires HIGH severity or above, got %s", action, assessment.IntrinsicSeverity)
		}
	}
	return nil
}
