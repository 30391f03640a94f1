package models

// Severity grades a candidate action's threat level.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// severityRank orders severities for at-least comparisons.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Max returns the higher of two severities.
func (s Severity) Max(other Severity) Severity {
	if severityRank[other] > severityRank[s] {
		return other
	}
	return s
}

// ApprovalLevel is the minimum sign-off a proposal requires.
type ApprovalLevel string

const (
	ApprovalAnalyst ApprovalLevel = "ANALYST"
	ApprovalAdmin   ApprovalLevel = "ADMIN"
	// ApprovalDual requires two independent admin sign-offs. Reserved for
	// tenant-wide blast radii.
	ApprovalDual ApprovalLevel = "DUAL"
)

// Role identifies what kind of actor is approving or executing.
type Role string

const (
	RoleSystem  Role = "system"
	RoleAnalyst Role = "analyst"
	RoleAdmin   Role = "admin"
)

// roleRank orders roles for minimum-role checks. The system role sits at
// analyst level: anything demanding admin judgment is out of its reach.
var roleRank = map[Role]int{
	RoleSystem:  1,
	RoleAnalyst: 1,
	RoleAdmin:   2,
}

// Satisfies reports whether the role meets an approval level. Dual can
// never be satisfied by a single role check; the workflow counts
// signatures separately.
func (r Role) Satisfies(level ApprovalLevel) bool {
	switch level {
	case ApprovalAnalyst:
		return roleRank[r] >= roleRank[RoleAnalyst]
	case ApprovalAdmin, ApprovalDual:
		return r == RoleAdmin
	}
	return false
}

// Threat tags attached by the analyzer.
const (
	TagFalsePositiveRisk = "false_positive_risk"
	TagSharedAsset       = "shared_asset"
	TagTenantWide        = "tenant_wide"
	TagLowConfidence     = "low_model_confidence"
)

// BlastRadius estimates the operational scope of a candidate action.
type BlastRadius struct {
	AffectedUsers    int
	AffectedSessions int
	SharedAsset      bool
	TenantScope      bool
	// ReversibilityScore in [0,1]; values at or below the admin threshold
	// force ADMIN approval regardless of severity.
	ReversibilityScore float64
}

// ThreatAssessment is derived once per candidate action. It consumes the
// scorer's outputs but never recomputes risk_score.
type ThreatAssessment struct {
	// Severity is the final grade, including blast radius amplification.
	Severity Severity
	// IntrinsicSeverity grades the threat itself, before the candidate
	// action's radius is considered. The blast radius guard keys off
	// this one: an action's own footprint must not justify that action.
	IntrinsicSeverity Severity
	Likelihood        float64 // [0,1]
	Tags              []string
	Radius            BlastRadius
	RequiredApproval  ApprovalLevel
}

// HasTag reports whether the assessment carries the given tag.
func (t ThreatAssessment) HasTag(tag string) bool {
	for _, have := range t.Tags {
		if have == tag {
			return true
		}
	}
	return false
}
