// Package service is the enforcement orchestrator: it takes one scoring
// snapshot through the full governance funnel: kill switch, freshness,
// policy, threat assessment, blast radius guard, dedup, override,
// registration, cooldown, execution, and feedback. Scoring callers
// enqueue and return; everything below runs on the bounded dispatcher.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/audit"
	"aegis/internal/enforcement/cooldown"
	"aegis/internal/enforcement/dispatch"
	"aegis/internal/enforcement/executor"
	"aegis/internal/enforcement/incident"
	"aegis/internal/enforcement/metrics"
	"aegis/internal/enforcement/models"
	"aegis/internal/enforcement/outcome"
	"aegis/internal/enforcement/policy"
	"aegis/internal/enforcement/proposal"
	"aegis/internal/enforcement/recovery"
	"aegis/internal/enforcement/safemode"
	"aegis/internal/enforcement/threat"
	"aegis/pkg/requestcontext"

	approvalflow "aegis/internal/enforcement/approval"
)

const systemActor = "system"

// Config tunes the orchestrator.
type Config struct {
	DedupWindow      time.Duration
	ProposalTTL      time.Duration
	ExecutionTimeout time.Duration
	LedgerTimeout    time.Duration
}

// Service wires the governance pipeline together.
type Service struct {
	cfg Config

	policies  *policy.Engine
	override  *policy.Override
	matrix    *policy.Matrix
	analyzer  *threat.Analyzer
	guard     *threat.Guard
	proposals proposal.Store
	cooldowns *cooldown.Manager
	safe      *safemode.State
	incidents *incident.Grouper
	workflow  *approvalflow.Workflow
	exec      executor.ActionExecutor
	ledger    *audit.Ledger
	emitter   *outcome.Emitter
	planner   *recovery.Planner
	rollback  *recovery.RollbackPolicy
	pool      *dispatch.Dispatcher

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   func() time.Time
}

// Deps carries the orchestrator's collaborators.
type Deps struct {
	Policies  *policy.Engine
	Override  *policy.Override
	Matrix    *policy.Matrix
	Analyzer  *threat.Analyzer
	Guard     *threat.Guard
	Proposals proposal.Store
	Cooldowns *cooldown.Manager
	SafeMode  *safemode.State
	Incidents *incident.Grouper
	Workflow  *approvalflow.Workflow
	Executor  executor.ActionExecutor
	Ledger    *audit.Ledger
	Emitter   *outcome.Emitter
	Planner   *recovery.Planner
	Rollback  *recovery.RollbackPolicy
	Pool      *dispatch.Dispatcher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// New builds the orchestrator.
func New(cfg Config, deps Deps, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		policies:  deps.Policies,
		override:  deps.Override,
		matrix:    deps.Matrix,
		analyzer:  deps.Analyzer,
		guard:     deps.Guard,
		proposals: deps.Proposals,
		cooldowns: deps.Cooldowns,
		safe:      deps.SafeMode,
		incidents: deps.Incidents,
		workflow:  deps.Workflow,
		exec:      deps.Executor,
		ledger:    deps.Ledger,
		emitter:   deps.Emitter,
		planner:   deps.Planner,
		rollback:  deps.Rollback,
		pool:      deps.Pool,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		tracer:    otel.Tracer("aegis/enforcement"),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Disposition summarizes what the pipeline did with one submission.
type Disposition string

const (
	DispositionSkippedSafeMode Disposition = "SKIPPED_SAFE_MODE"
	DispositionSkippedStale    Disposition = "SKIPPED_STALE"
	DispositionNoAction        Disposition = "NO_ACTION"
	DispositionRejectedGuard   Disposition = "REJECTED_BLAST_RADIUS"
	DispositionDuplicate       Disposition = "DUPLICATE"
	DispositionThrottled       Disposition = "THROTTLED"
	DispositionExecuted        Disposition = "EXECUTED"
	DispositionFailed          Disposition = "FAILED"
	DispositionAwaitingReview  Disposition = "AWAITING_REVIEW"
)

// Result is the orchestration outcome, visible to tests and logs; the
// scoring caller itself has long since moved on.
type Result struct {
	Disposition Disposition
	ProposalID  string
	IncidentID  string
	Action      models.Action
}

// Submit enqueues orchestration of one scoring snapshot and returns
// immediately. It reports false when the pipeline is shutting down.
func (s *Service) Submit(rc models.RequestContext) bool {
	return s.pool.Submit(func(ctx context.Context) {
		s.Orchestrate(ctx, rc)
	})
}

// Orchestrate runs the full decision pipeline synchronously. Submit is
// the production entry; this is exported for the approval execution path
// and for tests.
func (s *Service) Orchestrate(ctx context.Context, rc models.RequestContext) Result {
	ctx, span := s.tracer.Start(ctx, "enforcement.orchestrate")
	defer span.End()

	// Kill switch first. No log line below WARN, no audit entry, no
	// state change of any kind while it is engaged.
	if s.safe.Enabled(rc.TenantID) {
		s.metrics.SafeModeSkips.Inc()
		s.metrics.SubmissionsTotal.WithLabelValues("safe_mode").Inc()
		s.logger.WarnContext(ctx, "enforcement skipped, safe mode engaged",
			"tenant_id", rc.TenantID, "trace_id", rc.TraceID)
		return Result{Disposition: DispositionSkippedSafeMode}
	}

	now := s.clock()
	if !rc.Fresh(now) {
		s.metrics.SubmissionsTotal.WithLabelValues("stale").Inc()
		s.logger.InfoContext(ctx, "enforcement skipped, context stale",
			"trace_id", rc.TraceID, "expired_at", rc.ExpiresAt)
		return Result{Disposition: DispositionSkippedStale}
	}

	verdict := s.policies.Evaluate(rc)
	if verdict.Action == models.ActionNone {
		s.metrics.SubmissionsTotal.WithLabelValues("no_action").Inc()
		return Result{Disposition: DispositionNoAction}
	}

	actx := rc.Assessed(s.analyzer.Assess(verdict.Action, rc))

	if err := s.guard.Validate(verdict.Action, actx.Threat); err != nil {
		s.metrics.GuardRejections.Inc()
		s.metrics.SubmissionsTotal.WithLabelValues("guard_rejected").Inc()
		s.logger.ErrorContext(ctx, "blast radius guard rejected action",
			"action", string(verdict.Action), "trace_id", rc.TraceID,
			"severity", string(actx.Threat.IntrinsicSeverity), "error", err)
		s.auditEvent(ctx, systemActor, models.RoleSystem, audit.ActionEnforcementRejected, rc, map[string]string{
			"action":   string(verdict.Action),
			"severity": string(actx.Threat.IntrinsicSeverity),
			"reason":   err.Error(),
		})
		return Result{Disposition: DispositionRejectedGuard, Action: verdict.Action}
	}

	dedupHash := proposal.DedupKey(rc.SessionID, verdict.Action, rc.RiskScore, now, s.cfg.DedupWindow)
	if existing, found, err := s.proposals.FindActive(ctx, rc.SessionID, verdict.Action); err != nil {
		s.logger.ErrorContext(ctx, "duplicate scan failed", "trace_id", rc.TraceID, "error", err)
		return Result{Disposition: DispositionFailed}
	} else if found {
		s.metrics.DedupHits.Inc()
		s.metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		s.logger.InfoContext(ctx, "enforcement skipped, active duplicate",
			"trace_id", rc.TraceID, "proposal_id", existing.ID)
		return Result{Disposition: DispositionDuplicate, ProposalID: existing.ID, Action: verdict.Action}
	}

	auto := verdict.Auto
	if forced, reason := s.override.ForceManual(actx.Threat); forced && auto {
		auto = false
		s.logger.WarnContext(ctx, "auto execution overridden to manual",
			"trace_id", rc.TraceID, "action", string(verdict.Action), "reason", string(reason))
		s.auditEvent(ctx, systemActor, models.RoleSystem, audit.ActionEnforcementDemoted, rc, map[string]string{
			"action": string(verdict.Action),
			"reason": string(reason),
		})
	}

	incidentID := s.incidents.Link(rc.SessionID, rc.UserID)

	registered, created, err := s.proposals.Register(ctx, models.Proposal{
		ID:               newProposalID(),
		SessionID:        rc.SessionID,
		UserID:           rc.UserID,
		TenantID:         rc.TenantID,
		Action:           verdict.Action,
		RiskScore:        rc.RiskScore,
		DedupHash:        dedupHash,
		IncidentID:       incidentID,
		Status:           models.StatusCreated,
		Severity:         actx.Threat.Severity,
		RequiredApproval: actx.Threat.RequiredApproval,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.ProposalTTL),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "proposal registration failed", "trace_id", rc.TraceID, "error", err)
		return Result{Disposition: DispositionFailed}
	}
	if !created {
		// The dedup index resolved to a proposal another trigger already
		// owns; this submission is done.
		s.metrics.DedupHits.Inc()
		s.metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		return Result{Disposition: DispositionDuplicate, ProposalID: registered.ID, Action: verdict.Action}
	}
	s.auditProposal(ctx, systemActor, models.RoleSystem, audit.ActionProposalCreated, registered, map[string]string{
		"policy_reason": verdict.Reason,
	})

	// The system self-approves only what the matrix would let an analyst
	// approve; anything stricter goes back to humans.
	if auto && !s.matrix.Allows(registered.Action, registered.Severity, models.RoleSystem) {
		auto = false
		s.logger.WarnContext(ctx, "auto execution demoted, approval matrix refused system role",
			"proposal_id", registered.ID, "severity", string(registered.Severity))
		s.auditProposal(ctx, systemActor, models.RoleSystem, audit.ActionEnforcementDemoted, registered, map[string]string{
			"reason": "approval_matrix_refused_system_role",
		})
	}
	s.metrics.ProposalsTotal.WithLabelValues(string(registered.Action), mode(auto)).Inc()

	if !auto {
		pending, err := s.transition(ctx, registered.ID, models.StatusPending, nil,
			systemActor, models.RoleSystem, audit.ActionProposalPending, nil)
		if err != nil {
			return Result{Disposition: DispositionFailed, ProposalID: registered.ID}
		}
		s.metrics.SubmissionsTotal.WithLabelValues("awaiting_review").Inc()
		return Result{
			Disposition: DispositionAwaitingReview,
			ProposalID:  pending.ID,
			IncidentID:  incidentID,
			Action:      pending.Action,
		}
	}

	return s.executeAuto(ctx, registered, actx, incidentID)
}

// executeAuto drives an auto-approved proposal from CREATED to a
// terminal state.
func (s *Service) executeAuto(ctx context.Context, p models.Proposal, actx models.AssessedContext, incidentID string) Result {
	justification := "auto-approved by policy"
	steps := []struct {
		to     models.ProposalStatus
		action string
		mutate func(*models.Proposal)
	}{
		{models.StatusPending, audit.ActionProposalPending, nil},
		{models.StatusApproved, audit.ActionProposalApproved, func(prop *models.Proposal) {
			prop.ApprovedBy = systemActor
			prop.ApproverRole = models.RoleSystem
			prop.Justification = justification
			prop.ApprovedAt = s.clock()
		}},
		{models.StatusExecuting, audit.ActionProposalExecuting, nil},
	}
	var err error
	for _, step := range steps {
		p, err = s.transition(ctx, p.ID, step.to, step.mutate, systemActor, models.RoleSystem, step.action, nil)
		if err != nil {
			return Result{Disposition: DispositionFailed, ProposalID: p.ID}
		}
	}

	scope := p.Action.Traits().Scope
	target := s.cooldownTarget(actx.RequestContext, scope)
	decision, err := s.cooldowns.Check(ctx, p.Action, target, scope)
	if err != nil {
		s.logger.ErrorContext(ctx, "cooldown check failed", "proposal_id", p.ID, "error", err)
		decision = cooldown.Decision{Allowed: true}
	}
	if !decision.Allowed {
		s.metrics.CooldownDenials.Inc()
		s.metrics.SubmissionsTotal.WithLabelValues("throttled").Inc()
		details := map[string]string{
			"reason":     "throttled",
			"violations": fmt.Sprintf("%d", decision.Violations),
		}
		if decision.EscalateTo != "" {
			details["escalation_recommended"] = string(decision.EscalateTo)
			s.logger.WarnContext(ctx, "repeated cooldown violations, recommend wider scope",
				"proposal_id", p.ID, "scope", string(scope), "escalate_to", string(decision.EscalateTo))
		}
		_, _ = s.transition(ctx, p.ID, models.StatusFailed, func(prop *models.Proposal) {
			prop.FailureReason = "throttled"
		}, systemActor, models.RoleSystem, audit.ActionProposalFailed, details)
		return Result{Disposition: DispositionThrottled, ProposalID: p.ID, IncidentID: incidentID, Action: p.Action}
	}

	return s.execute(ctx, p, actx, systemActor, models.RoleSystem, incidentID)
}

// execute calls the executor and settles the proposal. Shared by the
// auto path and approved-proposal execution.
func (s *Service) execute(ctx context.Context, p models.Proposal, actx models.AssessedContext,
	actor string, role models.Role, incidentID string) Result {

	ctx, span := s.tracer.Start(ctx, "enforcement.execute")
	defer span.End()

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()

	started := s.clock()
	result, execErr := s.exec.Execute(execCtx, p.Action, s.executorParams(p, actx))
	s.metrics.ExecutionDuration.Observe(s.clock().Sub(started).Seconds())

	switch {
	case execErr != nil:
		kind := recovery.ClassifyError(execErr)
		s.settleFailure(ctx, p, actx, actor, role, incidentID, kind, execErr.Error(), models.OutcomeFailedCrash)
		return Result{Disposition: DispositionFailed, ProposalID: p.ID, IncidentID: incidentID, Action: p.Action}

	case !result.Success:
		kind := recovery.ClassifyResult(result)
		s.settleFailure(ctx, p, actx, actor, role, incidentID, kind, "executor reported failure", models.OutcomeFailed)
		return Result{Disposition: DispositionFailed, ProposalID: p.ID, IncidentID: incidentID, Action: p.Action}
	}

	completed, err := s.transition(ctx, p.ID, models.StatusCompleted, func(prop *models.Proposal) {
		prop.ExecutedAt = s.clock()
	}, actor, role, audit.ActionProposalCompleted, nil)
	if err != nil {
		return Result{Disposition: DispositionFailed, ProposalID: p.ID}
	}
	s.metrics.ExecutionsTotal.WithLabelValues(string(p.Action), "success").Inc()

	scope := p.Action.Traits().Scope
	if err := s.cooldowns.Record(ctx, p.Action, s.cooldownTarget(actx.RequestContext, scope), scope); err != nil {
		s.logger.WarnContext(ctx, "cooldown record failed", "proposal_id", p.ID, "error", err)
	}
	s.emitter.Emit(ctx, actx, p.Action, models.OutcomeSuccess, role, map[string]string{
		"proposal_id": completed.ID,
		"incident_id": incidentID,
	})
	s.logger.InfoContext(ctx, "enforcement completed",
		"proposal_id", completed.ID, "action", string(p.Action), "incident_id", incidentID)
	return Result{Disposition: DispositionExecuted, ProposalID: completed.ID, IncidentID: incidentID, Action: p.Action}
}

// settleFailure moves the proposal to FAILED, emits feedback, and plans
// recovery. Infrastructure errors never propagate past here.
func (s *Service) settleFailure(ctx context.Context, p models.Proposal, actx models.AssessedContext,
	actor string, role models.Role, incidentID string, kind models.FailureKind, reason string,
	rawOutcome models.Outcome) {

	s.metrics.ExecutionsTotal.WithLabelValues(string(p.Action), "failure").Inc()
	_, _ = s.transition(ctx, p.ID, models.StatusFailed, func(prop *models.Proposal) {
		prop.FailureReason = reason
	}, actor, role, audit.ActionProposalFailed, map[string]string{
		"failure_kind": string(kind),
		"reason":       reason,
	})

	s.emitter.Emit(ctx, actx, p.Action, rawOutcome, role, map[string]string{
		"proposal_id":  p.ID,
		"incident_id":  incidentID,
		"failure_kind": string(kind),
	})

	plan := s.planner.Plan(incidentID, kind, actx)
	s.logger.WarnContext(ctx, "enforcement failed, recovery plan generated",
		"proposal_id", p.ID, "action", string(p.Action),
		"failure_kind", string(kind), "recovery_reason", string(plan.Reason),
		"steps", len(plan.Steps))
}

func newProposalID() string {
	return uuid.NewString()
}

func mode(auto bool) string {
	if auto {
		return "auto"
	}
	return "manual"
}

func (s *Service) cooldownTarget(rc models.RequestContext, scope models.Scope) string {
	switch scope {
	case models.ScopeUser:
		return rc.UserID
	case models.ScopeIP:
		return rc.SourceIP
	case models.ScopeTenant:
		return rc.TenantID
	}
	return rc.SessionID
}

func (s *Service) executorParams(p models.Proposal, actx models.AssessedContext) map[string]string {
	return map[string]string{
		"proposal_id": p.ID,
		"session_id":  p.SessionID,
		"user_id":     p.UserID,
		"tenant_id":   p.TenantID,
		"source_ip":   actx.SourceIP,
		"trace_id":    actx.TraceID,
		"severity":    string(p.Severity),
	}
}

// transition applies a status change and audits it, logging rather than
// propagating ledger trouble.
func (s *Service) transition(ctx context.Context, id string, to models.ProposalStatus,
	mutate func(*models.Proposal), actor string, role models.Role, auditAction string,
	details map[string]string) (models.Proposal, error) {

	p, err := s.proposals.Transition(ctx, id, to, mutate)
	if err != nil {
		s.logger.ErrorContext(ctx, "proposal transition failed",
			"proposal_id", id, "to", string(to), "error", err)
		return models.Proposal{}, err
	}
	s.auditProposal(ctx, actor, role, auditAction, p, details)
	return p, nil
}

func (s *Service) auditProposal(ctx context.Context, actor string, role models.Role,
	action string, p models.Proposal, details map[string]string) {

	if details == nil {
		details = map[string]string{}
	}
	details["proposal_id"] = p.ID
	details["action"] = string(p.Action)
	details["status"] = string(p.Status)

	s.append(ctx, audit.Entry{
		Actor:      actor,
		Role:       string(role),
		TenantID:   p.TenantID,
		RequestID:  p.SessionID,
		Action:     action,
		IncidentID: p.IncidentID,
		Details:    details,
	})
}

func (s *Service) auditEvent(ctx context.Context, actor string, role models.Role,
	action string, rc models.RequestContext, details map[string]string) {

	if details == nil {
		details = map[string]string{}
	}
	details["trace_id"] = rc.TraceID
	s.append(ctx, audit.Entry{
		Actor:     actor,
		Role:      string(role),
		TenantID:  rc.TenantID,
		RequestID: rc.SessionID,
		Action:    action,
		Details:   details,
	})
}

func (s *Service) append(ctx context.Context, entry audit.Entry) {
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.Platform == "" {
		entry.Platform = platformFrom(requestcontext.UserAgent(ctx))
	}
	ledgerCtx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	if _, err := s.ledger.Append(ledgerCtx, entry); err != nil {
		s.logger.ErrorContext(ctx, "audit append failed",
			"audit_action", entry.Action, "error", err)
	}
}

// platformFrom reduces a User-Agent header to a short platform label for
// the audit trail. Service-to-service calls carry no User-Agent and get
// an empty label.
func platformFrom(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		return "bot"
	}
	name, _ := parsed.Browser()
	platform := parsed.Platform()
	if platform == "" {
		return name
	}
	if name == "" {
		return platform
	}
	return platform + "/" + name
}

// AuditTrail returns the ledger entries correlated to one session or
// request.
func (s *Service) AuditTrail(ctx context.Context, requestID string) ([]audit.Entry, error) {
	return s.ledger.ListByRequestID(ctx, requestID)
}

// VerifyChain re-validates the entire audit ledger.
func (s *Service) VerifyChain(ctx context.Context) (bool, error) {
	ok, err := s.ledger.VerifyChain(ctx)
	if err == nil && !ok {
		s.metrics.ChainVerifyFailures.Inc()
	}
	return ok, err
}

// SweepExpired expires every overdue proposal still waiting on something.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.proposals.ExpireOverdue(ctx, s.clock())
	if err != nil {
		return 0, err
	}
	for _, p := range expired {
		s.metrics.ExpiredProposals.Inc()
		s.auditProposal(ctx, systemActor, models.RoleSystem, audit.ActionProposalExpired, p, nil)
	}
	return len(expired), nil
}

// RunSweeper expires overdue proposals on an interval until the context
// ends.
func (s *Service) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepExpired(ctx); err != nil {
				s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
			} else if n > 0 {
				s.logger.InfoContext(ctx, "expired overdue proposals", "count", n)
			}
		}
	}
}
