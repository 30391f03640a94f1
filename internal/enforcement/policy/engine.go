// Package policy decides which action a scoring verdict warrants and who
// may approve it. The rules here are intentionally static tables: the
// point is predictability under audit, not cleverness.
package policy

import (
	"aegis/internal/enforcement/models"
)

// TrustedUserThreshold is the trust score above which no action is ever
// auto-executed, whatever the policy says. Punishing a long-trusted user
// without a human in the loop is the one mistake this pipeline must not
// make.
const TrustedUserThreshold = 85

// Verdict is the policy engine's output: a candidate action and whether
// it may run without human sign-off.
type Verdict struct {
	Action models.Action
	Auto   bool
	// Reason explains the band that fired, for audit details.
	Reason string
}

// Engine maps a scoring decision and trust band to a candidate action.
type Engine struct{}

// NewEngine returns the enforcement policy engine.
func NewEngine() *Engine { return &Engine{} }

// Evaluate picks the candidate action for a scoring snapshot. ALLOW and
// MONITOR verdicts never act; RESTRICT degrades the session in
// proportion to how little we trust it; ESCALATE reaches for
// containment.
func (e *Engine) Evaluate(ctx models.RequestContext) Verdict {
	action, reason := candidateFor(ctx)
	if action == models.ActionNone {
		return Verdict{Action: models.ActionNone, Reason: reason}
	}

	traits := action.Traits()
	auto := traits.AutoEligible && !traits.ManualOnly
	if ctx.TrustScore > TrustedUserThreshold {
		auto = false
		reason = "trusted user, manual review required"
	}
	return Verdict{Action: action, Auto: auto, Reason: reason}
}

func candidateFor(ctx models.RequestContext) (models.Action, string) {
	switch ctx.Decision {
	case models.DecisionAllow:
		return models.ActionNone, "allowed by scorer"
	case models.DecisionMonitor:
		return models.ActionNone, "monitoring only"
	case models.DecisionRestrict:
		switch {
		case ctx.TrustScore > 70:
			return models.ActionCaptchaChallenge, "restrict with high trust"
		case ctx.TrustScore >= 40:
			return models.ActionRateLimit, "restrict with moderate trust"
		default:
			return models.ActionStepUpAuth, "restrict with low trust"
		}
	case models.DecisionEscalate:
		switch {
		case ctx.TrustScore >= 50:
			return models.ActionStepUpAuth, "escalation against trusted session"
		case ctx.TrustScore >= 20:
			return models.ActionSessionTerminate, "escalation, terminate session"
		default:
			return models.ActionTenantLockdown, "escalation against untrusted session, contain tenant"
		}
	}
	return models.ActionNone, "unknown decision"
}
