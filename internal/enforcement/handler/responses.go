package handler

import (
	"time"

	"aegis/internal/audit"
	"aegis/internal/enforcement/models"
)

// EnforceAccepted acknowledges an enqueued snapshot. Processing is
// asynchronous; the trail is query-able by session afterwards.
type EnforceAccepted struct {
	Accepted  bool   `json:"accepted"`
	TraceID   string `json:"trace_id,omitempty"`
	SessionID string `json:"session_id"`
}

// ProposalResponse is the wire view of a proposal.
type ProposalResponse struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	UserID           string     `json:"user_id,omitempty"`
	TenantID         string     `json:"tenant_id"`
	Action           string     `json:"action"`
	RiskScore        int        `json:"risk_score"`
	IncidentID       string     `json:"incident_id,omitempty"`
	Status           string     `json:"status"`
	Severity         string     `json:"severity"`
	RequiredApproval string     `json:"required_approval"`
	FailureReason    string     `json:"failure_reason,omitempty"`
	FirstApprover    string     `json:"first_approver,omitempty"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApproverRole     string     `json:"approver_role,omitempty"`
	Justification    string     `json:"justification,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
}

// FromProposal converts a domain proposal for the wire.
func FromProposal(p models.Proposal) ProposalResponse {
	resp := ProposalResponse{
		ID:               p.ID,
		SessionID:        p.SessionID,
		UserID:           p.UserID,
		TenantID:         p.TenantID,
		Action:           string(p.Action),
		RiskScore:        p.RiskScore,
		IncidentID:       p.IncidentID,
		Status:           string(p.Status),
		Severity:         string(p.Severity),
		RequiredApproval: string(p.RequiredApproval),
		FailureReason:    p.FailureReason,
		FirstApprover:    p.FirstApprover,
		ApprovedBy:       p.ApprovedBy,
		ApproverRole:     string(p.ApproverRole),
		Justification:    p.Justification,
		CreatedAt:        p.CreatedAt,
		ExpiresAt:        p.ExpiresAt,
	}
	if !p.ApprovedAt.IsZero() {
		t := p.ApprovedAt
		resp.ApprovedAt = &t
	}
	if !p.ExecutedAt.IsZero() {
		t := p.ExecutedAt
		resp.ExecutedAt = &t
	}
	return resp
}

// SignResponse reports an approval outcome: APPROVED or
// AWAITING_SECOND_APPROVAL for dual-control proposals.
type SignResponse struct {
	Outcome  string           `json:"outcome"`
	Proposal ProposalResponse `json:"proposal"`
}

// VerifyResponse reports an audit chain verification.
type VerifyResponse struct {
	Valid   bool `json:"valid"`
	Entries int  `json:"entries,omitempty"`
}

// AuditEntryResponse is the wire view of one ledger entry.
type AuditEntryResponse struct {
	ID         string            `json:"id"`
	PrevHash   string            `json:"prev_hash"`
	Hash       string            `json:"hash"`
	Actor      string            `json:"actor"`
	Role       string            `json:"role,omitempty"`
	Platform   string            `json:"platform,omitempty"`
	TenantID   string            `json:"tenant_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Action     string            `json:"action"`
	IncidentID string            `json:"incident_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// FromEntries converts ledger entries for the wire.
func FromEntries(entries []audit.Entry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			ID:         e.ID,
			PrevHash:   e.PrevHash,
			Hash:       e.Hash,
			Actor:      e.Actor,
			Role:       e.Role,
			Platform:   e.Platform,
			TenantID:   e.TenantID,
			RequestID:  e.RequestID,
			Action:     e.Action,
			IncidentID: e.IncidentID,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}
