package service

import (
	"context"
	"time"

	"aegis/internal/audit"
	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"

	approvalflow "aegis/internal/enforcement/approval"
)

// Approve records a human signature on a pending proposal. When the
// signature completes the approval, execution is enqueued on the pool;
// the reviewer sees APPROVED immediately, the action runs asynchronously.
func (s *Service) Approve(ctx context.Context, proposalID, approver string, role models.Role,
	justification string) (models.Proposal, approvalflow.SignOutcome, error) {

	p, signed, err := s.workflow.Sign(ctx, proposalID, approver, role, justification)
	if err != nil {
		if domerrors.HasCode(err, domerrors.CodeExpired) {
			s.metrics.ExpiredProposals.Inc()
		}
		return models.Proposal{}, "", err
	}

	details := map[string]string{"approver": approver, "justification": justification}
	if signed == approvalflow.OutcomeAwaitingSecond {
		details["awaiting"] = "second_signature"
		s.auditProposal(ctx, approver, role, audit.ActionProposalApproved, p, details)
		return p, signed, nil
	}

	s.auditProposal(ctx, approver, role, audit.ActionProposalApproved, p, details)
	s.pool.Submit(func(taskCtx context.Context) {
		if _, err := s.ExecuteApproved(taskCtx, p.ID); err != nil {
			s.logger.ErrorContext(taskCtx, "approved proposal execution failed",
				"proposal_id", p.ID, "error", err)
		}
	})
	return p, signed, nil
}

// Reject settles a pending proposal.
func (s *Service) Reject(ctx context.Context, proposalID, actor string, role models.Role,
	reason string) (models.Proposal, error) {

	p, err := s.workflow.Reject(ctx, proposalID, actor, role, reason)
	if err != nil {
		return models.Proposal{}, err
	}
	s.auditProposal(ctx, actor, role, audit.ActionProposalRejected, p, map[string]string{
		"reason": reason,
	})
	return p, nil
}

// ExecuteApproved drives an APPROVED proposal through execution. It is
// the manual-path counterpart of the auto pipeline: safe mode and
// expiry are re-checked because review may have taken hours.
func (s *Service) ExecuteApproved(ctx context.Context, proposalID string) (Result, error) {
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return Result{}, err
	}
	if p.Status != models.StatusApproved {
		return Result{}, domerrors.Newf(domerrors.CodeIllegalTransition,
			"proposal %s is %s, not approved", proposalID, p.Status)
	}
	if s.safe.Enabled(p.TenantID) {
		s.metrics.SafeModeSkips.Inc()
		s.logger.WarnContext(ctx, "execution refused, safe mode engaged",
			"proposal_id", p.ID, "tenant_id", p.TenantID)
		return Result{}, domerrors.New(domerrors.CodeUnavailable,
			"safe mode engaged, enforcement suspended")
	}
	if p.Expired(s.clock()) {
		if _, terr := s.transition(ctx, p.ID, models.StatusExpired, nil,
			systemActor, models.RoleSystem, audit.ActionProposalExpired, nil); terr == nil {
			s.metrics.ExpiredProposals.Inc()
		}
		return Result{}, domerrors.Newf(domerrors.CodeExpired,
			"proposal %s expired at %s", p.ID, p.ExpiresAt.Format(time.RFC3339))
	}

	executing, err := s.transition(ctx, p.ID, models.StatusExecuting, nil,
		p.ApprovedBy, p.ApproverRole, audit.ActionProposalExecuting, nil)
	if err != nil {
		return Result{}, err
	}

	res := s.execute(ctx, executing, s.reconstructContext(executing), executing.ApprovedBy,
		executing.ApproverRole, executing.IncidentID)
	return res, nil
}

// Rollback issues the compensating action for a settled proposal and
// records the new terminal state.
func (s *Service) Rollback(ctx context.Context, proposalID, actor string, role models.Role) (models.Proposal, error) {
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return models.Proposal{}, err
	}
	if err := s.rollback.Authorize(p, role, s.clock()); err != nil {
		return models.Proposal{}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()
	params := s.executorParams(p, s.reconstructContext(p))
	params["rollback"] = "true"
	result, execErr := s.exec.Execute(execCtx, p.Action, params)
	if execErr != nil || !result.Success {
		plan := s.planner.Plan(p.IncidentID, models.FailureRollback, s.reconstructContext(p))
		s.logger.ErrorContext(ctx, "rollback execution failed, recovery plan generated",
			"proposal_id", p.ID, "action", string(p.Action),
			"recovery_reason", string(plan.Reason), "steps", len(plan.Steps), "error", execErr)
		if execErr != nil {
			return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable,
				"rollback execution failed", execErr)
		}
		return models.Proposal{}, domerrors.New(domerrors.CodeUnavailable,
			"rollback executor reported failure")
	}

	rolled, err := s.transition(ctx, p.ID, models.StatusRolledBack, nil,
		actor, role, audit.ActionProposalRolledBack, map[string]string{"actor": actor})
	if err != nil {
		return models.Proposal{}, err
	}
	s.emitter.Emit(ctx, s.reconstructContext(rolled), rolled.Action, models.OutcomeRolledBack,
		role, map[string]string{
			"proposal_id": rolled.ID,
			"incident_id": rolled.IncidentID,
		})
	s.logger.InfoContext(ctx, "proposal rolled back",
		"proposal_id", rolled.ID, "action", string(rolled.Action), "actor", actor)
	return rolled, nil
}

// SetSafeModeGlobal flips the global kill switch and audits who did it.
func (s *Service) SetSafeModeGlobal(ctx context.Context, on bool, actor string, role models.Role) error {
	if err := s.safe.SetGlobal(ctx, on); err != nil {
		return err
	}
	action := audit.ActionSafeModeDisabled
	if on {
		action = audit.ActionSafeModeEnabled
	}
	s.append(ctx, audit.Entry{
		Actor:   actor,
		Role:    string(role),
		Action:  action,
		Details: map[string]string{"scope": "global"},
	})
	s.logger.WarnContext(ctx, "safe mode toggled", "scope", "global", "on", on, "actor", actor)
	return nil
}

// SetSafeModeTenant suspends or resumes enforcement for one tenant.
func (s *Service) SetSafeModeTenant(ctx context.Context, tenantID string, on bool, actor string, role models.Role) error {
	if err := s.safe.SetTenant(ctx, tenantID, on); err != nil {
		return err
	}
	action := audit.ActionSafeModeDisabled
	if on {
		action = audit.ActionSafeModeEnabled
	}
	s.append(ctx, audit.Entry{
		Actor:    actor,
		Role:     string(role),
		TenantID: tenantID,
		Action:   action,
		Details:  map[string]string{"scope": "tenant"},
	})
	s.logger.WarnContext(ctx, "safe mode toggled", "scope", "tenant",
		"tenant_id", tenantID, "on", on, "actor", actor)
	return nil
}

// Proposal exposes a single proposal for read APIs.
func (s *Service) Proposal(ctx context.Context, id string) (models.Proposal, error) {
	return s.proposals.Get(ctx, id)
}

// reconstructContext rebuilds the assessed context for a proposal whose
// originating scoring snapshot is long expired. The executor and the
// feedback record only need identity fields, the risk score, and the
// frozen threat grading.
func (s *Service) reconstructContext(p models.Proposal) models.AssessedContext {
	rc := models.RequestContext{
		TraceID:   p.ID,
		SessionID: p.SessionID,
		UserID:    p.UserID,
		TenantID:  p.TenantID,
		RiskScore: p.RiskScore,
		CreatedAt: p.CreatedAt,
		ExpiresAt: p.ExpiresAt,
	}
	return rc.Assessed(models.ThreatAssessment{
		Severity:          p.Severity,
		IntrinsicSeverity: p.Severity,
		RequiredApproval:  p.RequiredApproval,
		Radius:            s.analyzer.Radius(p.Action),
	})
}
