package models

// FailureKind classifies how an execution went wrong. The recovery
// planner keys remediation plans on this taxonomy.
type FailureKind string

const (
	FailureTimeout          FailureKind = "TIMEOUT"
	FailureDependency       FailureKind = "DEPENDENCY_FAILURE"
	FailureAction           FailureKind = "ACTION_FAILED"
	FailurePartialExecution FailureKind = "PARTIAL_EXECUTION"
	FailureRollback         FailureKind = "ROLLBACK_FAILED"
)

// ExecutionResult is what the action executor reports back.
type ExecutionResult struct {
	Success bool
	// Metadata carries executor-specific detail; a "partial" key marks
	// incomplete fan-out.
	Metadata map[string]string
}

// Partial reports whether the executor flagged incomplete execution.
func (r ExecutionResult) Partial() bool {
	_, ok := r.Metadata["partial"]
	return ok
}
