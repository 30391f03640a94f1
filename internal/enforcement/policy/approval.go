package policy

import (
	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

// actionMinRole is the minimum role allowed to approve each action,
// independent of severity. Wide or poorly reversible actions are admin
// territory even when the threat grade is modest.
var actionMinRole = map[models.Action]models.Role{
	models.ActionNone:             models.RoleAnalyst,
	models.ActionCaptchaChallenge: models.RoleAnalyst,
	models.ActionRateLimit:        models.RoleAnalyst,
	models.ActionStepUpAuth:       models.RoleAnalyst,
	models.ActionSessionTerminate: models.RoleAnalyst,
	models.ActionTokenRevoke:      models.RoleAdmin,
	models.ActionIPBlock:          models.RoleAdmin,
	models.ActionHostIsolate:      models.RoleAdmin,
	models.ActionTenantLockdown:   models.RoleAdmin,
}

// severityMinRole is the minimum role per threat grade.
var severityMinRole = map[models.Severity]models.Role{
	models.SeverityLow:      models.RoleAnalyst,
	models.SeverityMedium:   models.RoleAnalyst,
	models.SeverityHigh:     models.RoleAnalyst,
	models.SeverityCritical: models.RoleAdmin,
}

// roleRank mirrors the model ordering: system acts with analyst
// authority, never admin authority.
var roleRank = map[models.Role]int{
	models.RoleSystem:  1,
	models.RoleAnalyst: 1,
	models.RoleAdmin:   2,
}

// Matrix gates who may approve what. Both dimensions must pass: the
// action's minimum role AND the severity's minimum role.
type Matrix struct{}

// NewMatrix returns the approval matrix.
func NewMatrix() *Matrix { return &Matrix{} }

// Allows reports whether the role clears both gates for this
// action/severity pair. Unknown actions fail closed.
func (m *Matrix) Allows(action models.Action, severity models.Severity, role models.Role) bool {
	minAction, ok := actionMinRole[action]
	if !ok {
		return false
	}
	minSeverity := severityMinRole[severity]
	return roleRank[role] >= roleRank[minAction] && roleRank[role] >= roleRank[minSeverity]
}

// Validate is Allows with a coded error for the workflow's reject path.
func (m *Matrix) Validate(action models.Action, severity models.Severity, role models.Role) error {
	if !m.Allows(action, severity, role) {
		return domerrors.Newf(domerrors.CodeInsufficientRights,
			"role %s may not approve %s at severity %s", role, action, severity)
	}
	return nil
}

// OverrideReason is attached to the audit trail when an auto decision is
// forcibly demoted to manual.
type OverrideReason string

const (
	OverrideCriticalSeverity  OverrideReason = "critical_severity"
	OverrideWideBlastRadius   OverrideReason = "wide_blast_radius"
	OverrideFalsePositiveRisk OverrideReason = "false_positive_risk"
)

// OverrideUserLimit is the affected-user count past which automation is
// never trusted.
const OverrideUserLimit = 10

// Override is the last word on auto-eligibility: whatever the policy
// engine decided, these conditions force a human into the loop.
type Override struct{}

// NewOverride returns the threat override policy.
func NewOverride() *Override { return &Override{} }

// ForceManual reports whether the assessment demands manual handling,
// with the reason that fired.
func (o *Override) ForceManual(assessment models.ThreatAssessment) (bool, OverrideReason) {
	if assessment.Severity == models.SeverityCritical {
		return true, OverrideCriticalSeverity
	}
	if assessment.Radius.AffectedUsers > OverrideUserLimit || assessment.Radius.TenantScope {
		return true, OverrideWideBlastRadius
	}
	if assessment.HasTag(models.TagFalsePositiveRisk) && assessment.Severity.AtLeast(models.SeverityMedium) {
		return true, OverrideFalsePositiveRisk
	}
	return false, ""
}
