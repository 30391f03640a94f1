// Package threat derives the operational risk of a candidate action:
// blast radius estimation, severity grading, and the approval level an
// action must clear before anyone may sign it.
package threat

import (
	"aegis/internal/enforcement/models"
)

// ReversibilityAdminThreshold is the reversibility score at or below
// which an action always needs ADMIN approval, whatever its severity.
const ReversibilityAdminThreshold = 0.6

// radiusProfile is the per-scope entity-count estimate. Counts are
// deliberately pessimistic; the guard and override policy key off them.
type radiusProfile struct {
	users    int
	sessions int
	shared   bool
	tenant   bool
}

var scopeProfiles = map[models.Scope]radiusProfile{
	models.ScopeSession: {users: 1, sessions: 1},
	models.ScopeUser:    {users: 1, sessions: 3},
	// An IP is assumed shared (NAT, corporate egress) until proven
	// otherwise, so blocking one touches many users.
	models.ScopeIP:     {users: 25, sessions: 40, shared: true},
	models.ScopeTenant: {users: 500, sessions: 1000, shared: true, tenant: true},
}

// Calculator estimates the blast radius of an action against a target.
type Calculator struct{}

// NewCalculator returns a blast radius calculator with the default
// per-scope profiles.
func NewCalculator() *Calculator { return &Calculator{} }

// Estimate derives the blast radius for an action in the given context.
func (c *Calculator) Estimate(action models.Action, _ models.RequestContext) models.BlastRadius {
	traits := action.Traits()
	profile := scopeProfiles[traits.Scope]
	return models.BlastRadius{
		AffectedUsers:      profile.users,
		AffectedSessions:   profile.sessions,
		SharedAsset:        profile.shared,
		TenantScope:        profile.tenant,
		ReversibilityScore: traits.Reversibility,
	}
}

// Analyzer grades severity and required approval for a candidate action.
// It consumes risk and trust scores as delivered; it never rescores.
type Analyzer struct {
	calc *Calculator
}

// NewAnalyzer returns an analyzer over the given radius calculator.
func NewAnalyzer(calc *Calculator) *Analyzer {
	return &Analyzer{calc: calc}
}

// Assess computes the threat assessment for one candidate action. The
// rules are fixed and ordered: base severity from the risk score, model
// ambiguity raises the floor, blast radius dominates everything.
func (a *Analyzer) Assess(action models.Action, ctx models.RequestContext) models.ThreatAssessment {
	radius := a.calc.Estimate(action, ctx)

	intrinsic := baseSeverity(ctx.RiskScore)
	approval := models.ApprovalAnalyst
	var tags []string

	// A mid-band risk score means the model could not commit either way;
	// treat the verdict as a potential false positive and never grade it
	// below MEDIUM.
	if ambiguousRisk(ctx.RiskScore) {
		intrinsic = intrinsic.Max(models.SeverityMedium)
		tags = append(tags, models.TagLowConfidence, models.TagFalsePositiveRisk)
	}

	severity := intrinsic
	if radius.SharedAsset || radius.AffectedUsers > 1 || radius.TenantScope {
		severity = models.SeverityCritical
		approval = models.ApprovalAdmin
	}
	if radius.SharedAsset {
		tags = append(tags, models.TagSharedAsset)
	}
	if radius.TenantScope {
		approval = models.ApprovalDual
		tags = append(tags, models.TagTenantWide)
	}

	if severity == models.SeverityCritical && approval == models.ApprovalAnalyst {
		approval = models.ApprovalAdmin
	}
	if radius.ReversibilityScore <= ReversibilityAdminThreshold && approval == models.ApprovalAnalyst {
		approval = models.ApprovalAdmin
	}

	return models.ThreatAssessment{
		Severity:          severity,
		IntrinsicSeverity: intrinsic,
		Likelihood:        float64(ctx.RiskScore) / 100,
		Tags:              tags,
		Radius:            radius,
		RequiredApproval:  approval,
	}
}

// Radius exposes the context-free blast estimate for an action, used
// when re-deriving feedback for a proposal whose snapshot is gone.
func (a *Analyzer) Radius(action models.Action) models.BlastRadius {
	return a.calc.Estimate(action, models.RequestContext{})
}

func baseSeverity(riskScore int) models.Severity {
	switch {
	case riskScore >= 95:
		return models.SeverityCritical
	case riskScore >= 70:
		return models.SeverityHigh
	case riskScore >= 40:
		return models.SeverityMedium
	}
	return models.SeverityLow
}

// ambiguousRisk reports whether the score sits in the band where the
// model is effectively guessing.
func ambiguousRisk(riskScore int) bool {
	return riskScore >= 40 && riskScore <= 60
}
