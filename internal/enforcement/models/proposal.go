package models

import "time"

// ProposalStatus tracks a governance decision through its lifecycle.
// Legal transitions live in the proposal state machine; everything else
// is an invariant violation.
type ProposalStatus string

const (
	StatusCreated    ProposalStatus = "CREATED"
	StatusPending    ProposalStatus = "PENDING"
	StatusApproved   ProposalStatus = "APPROVED"
	StatusRejected   ProposalStatus = "REJECTED"
	StatusExecuting  ProposalStatus = "EXECUTING"
	StatusCompleted  ProposalStatus = "COMPLETED"
	StatusFailed     ProposalStatus = "FAILED"
	StatusRolledBack ProposalStatus = "ROLLED_BACK"
	StatusExpired    ProposalStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions
// except the explicit rollback edge from COMPLETED and FAILED.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusRolledBack, StatusExpired, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Active reports whether the proposal still occupies its dedup slot:
// CREATED, PENDING, APPROVED, or EXECUTING.
func (s ProposalStatus) Active() bool {
	return !s.Terminal()
}

// Proposal is a registered, state-tracked candidate enforcement action.
type Proposal struct {
	ID         string
	SessionID  string
	UserID     string
	TenantID   string
	Action     Action
	RiskScore  int
	DedupHash  string
	IncidentID string
	Status     ProposalStatus
	// Threat grading frozen at registration; the approval workflow gates
	// against these without re-running the analyzer.
	Severity         Severity
	RequiredApproval ApprovalLevel
	// FailureReason is set when Status is FAILED.
	FailureReason string
	// FirstApprover holds the first of two signatures while a DUAL
	// proposal waits for its second, independent admin.
	FirstApprover string
	// Approval metadata stamped by the workflow.
	ApprovedBy    string
	ApproverRole  Role
	Justification string
	ApprovedAt    time.Time
	ExecutedAt    time.Time
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the proposal TTL has elapsed.
func (p Proposal) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}
