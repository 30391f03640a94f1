// Package approval is the human sign-off gate. Every manual proposal
// passes through here: justification is mandatory, roles are checked
// against both the approval matrix and the threat's required level, and
// the highest grade demands two independent admins.
package approval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"aegis/internal/enforcement/models"
	"aegis/internal/enforcement/policy"
	"aegis/internal/enforcement/proposal"
	"aegis/internal/enforcement/safemode"
	"aegis/pkg/domerrors"
)

// MinJustificationLen is the shortest acceptable justification. Sign-offs
// exist to leave a defensible record; "ok" is not one.
const MinJustificationLen = 5

// SignOutcome tells the caller what a successful Sign call produced.
type SignOutcome string

const (
	// OutcomeApproved means the proposal is now APPROVED.
	OutcomeApproved SignOutcome = "APPROVED"
	// OutcomeAwaitingSecond means the first of two dual signatures
	// landed and the proposal stays PENDING.
	OutcomeAwaitingSecond SignOutcome = "AWAITING_SECOND_APPROVAL"
)

// Workflow gates proposals through human review.
type Workflow struct {
	store  proposal.Store
	matrix *policy.Matrix
	safe   *safemode.State
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithClock overrides the clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(w *Workflow) { w.clock = clock }
}

// NewWorkflow builds the approval workflow.
func NewWorkflow(store proposal.Store, matrix *policy.Matrix, safe *safemode.State,
	logger *slog.Logger, opts ...Option) *Workflow {

	w := &Workflow{
		store:  store,
		matrix: matrix,
		safe:   safe,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Sign records an approval. SafeMode is re-checked here because the
// switch may have been thrown between proposal creation and review.
// Returns the updated proposal and whether it is approved or still
// waiting on a second admin.
func (w *Workflow) Sign(ctx context.Context, proposalID, approver string, role models.Role,
	justification string) (models.Proposal, SignOutcome, error) {

	p, err := w.store.Get(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, "", err
	}

	if w.safe.Enabled(p.TenantID) {
		w.logger.WarnContext(ctx, "approval refused, safe mode engaged",
			"proposal_id", proposalID, "tenant_id", p.TenantID)
		return models.Proposal{}, "", domerrors.New(domerrors.CodeUnavailable,
			"safe mode engaged, enforcement suspended")
	}

	now := w.clock()
	if p.Expired(now) {
		w.expire(ctx, &p)
		return models.Proposal{}, "", domerrors.Newf(domerrors.CodeExpired,
			"proposal %s expired at %s", proposalID, p.ExpiresAt.Format(time.RFC3339))
	}
	if p.Status != models.StatusPending {
		return models.Proposal{}, "", domerrors.Newf(domerrors.CodeIllegalTransition,
			"proposal %s is %s, not pending review", proposalID, p.Status)
	}

	if len(strings.TrimSpace(justification)) < MinJustificationLen {
		return models.Proposal{}, "", domerrors.Newf(domerrors.CodeInvalidInput,
			"justification must be at least %d characters", MinJustificationLen)
	}
	// Review is a human gate. The system role auto-approves only inside
	// the orchestrator, where the matrix is consulted first; it never
	// signs off proposals that were routed to manual review.
	if role == models.RoleSystem {
		return models.Proposal{}, "", domerrors.New(domerrors.CodeInsufficientRights,
			"manual review requires a human approver")
	}
	if !role.Satisfies(p.RequiredApproval) {
		return models.Proposal{}, "", domerrors.Newf(domerrors.CodeInsufficientRights,
			"role %s cannot satisfy required approval level %s", role, p.RequiredApproval)
	}
	if err := w.matrix.Validate(p.Action, p.Severity, role); err != nil {
		return models.Proposal{}, "", err
	}

	if p.RequiredApproval == models.ApprovalDual && p.FirstApprover == "" {
		updated, err := w.store.Update(ctx, p.ID, func(p *models.Proposal) {
			p.FirstApprover = approver
		})
		if err != nil {
			return models.Proposal{}, "", err
		}
		w.logger.InfoContext(ctx, "first dual signature recorded",
			"proposal_id", p.ID, "approver", approver)
		return updated, OutcomeAwaitingSecond, nil
	}
	if p.RequiredApproval == models.ApprovalDual && p.FirstApprover == approver {
		return models.Proposal{}, "", domerrors.New(domerrors.CodeInsufficientRights,
			"dual approval requires a second, independent admin")
	}

	updated, err := w.store.Transition(ctx, p.ID, models.StatusApproved, func(p *models.Proposal) {
		p.ApprovedBy = approver
		p.ApproverRole = role
		p.Justification = justification
		p.ApprovedAt = now
	})
	if err != nil {
		return models.Proposal{}, "", err
	}
	w.logger.InfoContext(ctx, "proposal approved",
		"proposal_id", updated.ID, "approver", approver, "role", string(role))
	return updated, OutcomeApproved, nil
}

// Reject settles a pending proposal with a structured reason.
func (w *Workflow) Reject(ctx context.Context, proposalID, actor string, role models.Role,
	reason string) (models.Proposal, error) {

	p, err := w.store.Get(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	now := w.clock()
	if p.Expired(now) {
		w.expire(ctx, &p)
		return models.Proposal{}, domerrors.Newf(domerrors.CodeExpired,
			"proposal %s expired at %s", proposalID, p.ExpiresAt.Format(time.RFC3339))
	}
	if len(strings.TrimSpace(reason)) < MinJustificationLen {
		return models.Proposal{}, domerrors.Newf(domerrors.CodeInvalidInput,
			"rejection reason must be at least %d characters", MinJustificationLen)
	}
	if role == models.RoleSystem {
		return models.Proposal{}, domerrors.New(domerrors.CodeInsufficientRights,
			"manual review requires a human approver")
	}

	updated, err := w.store.Transition(ctx, proposalID, models.StatusRejected, func(p *models.Proposal) {
		p.ApprovedBy = actor
		p.ApproverRole = role
		p.Justification = reason
		p.ApprovedAt = now
	})
	if err != nil {
		return models.Proposal{}, err
	}
	w.logger.InfoContext(ctx, "proposal rejected",
		"proposal_id", updated.ID, "actor", actor, "reason", reason)
	return updated, nil
}

// expire best-effort moves an overdue proposal to EXPIRED; the sweeper
// will catch it anyway if this races.
func (w *Workflow) expire(ctx context.Context, p *models.Proposal) {
	if !proposal.CanTransition(p.Status, models.StatusExpired) {
		return
	}
	if _, err := w.store.Transition(ctx, p.ID, models.StatusExpired, nil); err != nil {
		w.logger.WarnContext(ctx, "could not expire overdue proposal",
			"proposal_id", p.ID, "error", err)
	}
}
