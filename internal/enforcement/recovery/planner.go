package recovery

import (
	"aegis/internal/enforcement/models"
)

// Reason is the remediation taxonomy a plan is keyed by.
type Reason string

const (
	ReasonExecutionFailure Reason = "EXECUTION_FAILURE"
	ReasonRollbackFailure  Reason = "ROLLBACK_FAILURE"
)

// Step is one ordered remediation action for a human or an automation
// hook downstream.
type Step struct {
	Order       int    `json:"order"`
	Description string `json:"description"`
	// Automated marks steps a runbook integration may carry out without
	// an operator.
	Automated bool `json:"automated"`
}

// Plan is the ordered remediation for one failed enforcement.
type Plan struct {
	IncidentID  string             `json:"incident_id"`
	Reason      Reason             `json:"reason"`
	FailureKind models.FailureKind `json:"failure_kind"`
	Steps       []Step             `json:"steps"`
}

// Planner builds remediation plans from the failure taxonomy and the
// threat assessment that originally justified the action.
type Planner struct{}

// NewPlanner returns a recovery planner.
func NewPlanner() *Planner { return &Planner{} }

// Plan derives the ordered remediation for a failure. Low-risk and
// suspected false positives get human verification before anything is
// retried; infrastructure failures get a retry path; high-risk failures
// that may have half-landed get forced rollback plus notification.
func (p *Planner) Plan(incidentID string, kind models.FailureKind, actx models.AssessedContext) Plan {
	plan := Plan{
		IncidentID:  incidentID,
		Reason:      ReasonExecutionFailure,
		FailureKind: kind,
	}
	if kind == models.FailureRollback {
		plan.Reason = ReasonRollbackFailure
	}

	suspectFalsePositive := actx.Threat.HasTag(models.TagFalsePositiveRisk) ||
		actx.Threat.Severity == models.SeverityLow

	switch {
	case kind == models.FailureRollback:
		plan.Steps = steps(
			manual("verify partial rollback state on the target"),
			manual("complete rollback by hand and confirm target health"),
			manual("notify the security operations lead"),
		)
	case kind == models.FailureTimeout, kind == models.FailureDependency:
		plan.Steps = steps(
			auto("check downstream dependency health"),
			auto("retry the action with backoff once the dependency recovers"),
			manual("escalate to on-call if the dependency stays down"),
		)
	case suspectFalsePositive:
		plan.Steps = steps(
			manual("verify the triggering activity with the user or tenant owner"),
			manual("retry the action only after the verdict is confirmed"),
		)
	case kind == models.FailurePartialExecution || actx.Threat.Severity.AtLeast(models.SeverityHigh):
		plan.Steps = steps(
			auto("roll back any partially applied enforcement"),
			manual("notify the security operations team"),
			manual("re-run the action manually after review"),
		)
	default:
		plan.Steps = steps(
			manual("review executor logs for the failed action"),
			manual("retry manually if the target state is clean"),
		)
	}
	return plan
}

func steps(in ...Step) []Step {
	for i := range in {
		in[i].Order = i + 1
	}
	return in
}

func manual(desc string) Step { return Step{Description: desc} }
func auto(desc string) Step   { return Step{Description: desc, Automated: true} }
