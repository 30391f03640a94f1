// Package audit implements the tamper-evident enforcement ledger. Every
// governance decision lands here as a hash-chained, append-only entry;
// storage backends must refuse updates and deletes outright.
package audit

import (
	"context"
	"errors"
	"time"
)

// GenesisHash is the prev_hash sentinel of the first chain entry.
const GenesisHash = "GENESIS"

// Entry is one immutable ledger record. Hash covers PrevHash and the
// canonicalized payload, so altering any persisted field breaks the chain.
type Entry struct {
	ID         string            `json:"id"`
	PrevHash   string            `json:"prev_hash"`
	Hash       string            `json:"hash"`
	Actor      string            `json:"actor"`
	Role       string            `json:"role"`
	Platform   string            `json:"platform,omitempty"`
	TenantID   string            `json:"tenant_id"`
	RequestID  string            `json:"request_id,omitempty"`
	Action     string            `json:"action"`
	IncidentID string            `json:"incident_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Ledger actions recorded by the enforcement pipeline.
const (
	ActionEnforcementRejected = "ENFORCEMENT_REJECTED"
	ActionEnforcementSkipped  = "ENFORCEMENT_SKIPPED"
	ActionEnforcementDemoted  = "ENFORCEMENT_DEMOTED"
	ActionProposalCreated     = "PROPOSAL_CREATED"
	ActionProposalPending     = "PROPOSAL_PENDING"
	ActionProposalApproved    = "PROPOSAL_APPROVED"
	ActionProposalRejected    = "PROPOSAL_REJECTED"
	ActionProposalExecuting   = "PROPOSAL_EXECUTING"
	ActionProposalCompleted   = "PROPOSAL_COMPLETED"
	ActionProposalFailed      = "PROPOSAL_FAILED"
	ActionProposalExpired     = "PROPOSAL_EXPIRED"
	ActionProposalRolledBack  = "PROPOSAL_ROLLED_BACK"
	ActionSafeModeEnabled     = "SAFEMODE_ENABLED"
	ActionSafeModeDisabled    = "SAFEMODE_DISABLED"
)

// ErrImmutable is returned by stores for any attempt to overwrite,
// update, or delete an existing entry.
var ErrImmutable = errors.New("audit: ledger entries are immutable")

// Store persists ledger entries. The interface deliberately has no
// update or delete operations; immutability is an invariant of the
// storage layer, not a convention of its callers.
type Store interface {
	// Append persists a new entry. It must reject an entry whose ID or
	// hash already exists with ErrImmutable.
	Append(ctx context.Context, entry Entry) error
	// Latest returns the most recently appended entry, or ok=false on an
	// empty ledger.
	Latest(ctx context.Context) (Entry, bool, error)
	// All returns every entry in storage order. Order is not guaranteed
	// to be chain order; verification tolerates that.
	All(ctx context.Context) ([]Entry, error)
	// ListByRequestID returns entries correlated to one request.
	ListByRequestID(ctx context.Context, requestID string) ([]Entry, error)
}
