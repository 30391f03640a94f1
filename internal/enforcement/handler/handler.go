// Package handler exposes the enforcement control surface over HTTP:
// snapshot ingestion, proposal review, the safe mode switch, and audit
// chain inspection. Handlers stay thin; every decision lives in the
// service.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aegis/internal/audit"
	approvalflow "aegis/internal/enforcement/approval"
	"aegis/internal/enforcement/models"
	"aegis/internal/enforcement/service"
	"aegis/internal/platform/middleware"
	"aegis/pkg/domerrors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// Service is the orchestrator surface the handlers call.
type Service interface {
	Submit(rc models.RequestContext) bool
	Proposal(ctx context.Context, id string) (models.Proposal, error)
	Approve(ctx context.Context, proposalID, approver string, role models.Role, justification string) (models.Proposal, approvalflow.SignOutcome, error)
	Reject(ctx context.Context, proposalID, actor string, role models.Role, reason string) (models.Proposal, error)
	Rollback(ctx context.Context, proposalID, actor string, role models.Role) (models.Proposal, error)
	SetSafeModeGlobal(ctx context.Context, on bool, actor string, role models.Role) error
	SetSafeModeTenant(ctx context.Context, tenantID string, on bool, actor string, role models.Role) error
	VerifyChain(ctx context.Context) (bool, error)
	AuditTrail(ctx context.Context, requestID string) ([]audit.Entry, error)
}

var _ Service = (*service.Service)(nil)

// Handler wires enforcement endpoints to the orchestrator.
type Handler struct {
	service    Service
	logger     *slog.Logger
	defaultTTL time.Duration
}

// New constructs an enforcement handler.
func New(svc Service, logger *slog.Logger, defaultTTL time.Duration) *Handler {
	return &Handler{service: svc, logger: logger, defaultTTL: defaultTTL}
}

// Register mounts enforcement endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/enforce", h.HandleEnforce)
	r.Get("/proposals/{id}", h.HandleGetProposal)
	r.Post("/proposals/{id}/approve", h.HandleApprove)
	r.Post("/proposals/{id}/reject", h.HandleReject)
	r.Post("/proposals/{id}/rollback", h.HandleRollback)
	r.With(middleware.RequireRole(string(models.RoleAdmin))).Put("/safemode", h.HandleSafeMode)
	r.Get("/audit/verify", h.HandleVerifyChain)
	r.Get("/audit/trail", h.HandleAuditTrail)
}

// HandleEnforce handles POST /enforce: accept one scoring snapshot and
// enqueue it. The response is an acknowledgement, never a decision.
func (h *Handler) HandleEnforce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[EnforceRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rc, err := req.ToContext(requestcontext.Now(ctx), h.defaultTTL)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if !h.service.Submit(rc) {
		httputil.WriteError(w, domerrors.New(domerrors.CodeUnavailable,
			"enforcement pipeline is shutting down"))
		return
	}

	h.logger.InfoContext(ctx, "enforcement snapshot accepted",
		"request_id", requestID,
		"session_id", rc.SessionID,
		"decision", string(rc.Decision),
		"risk_score", rc.RiskScore,
	)
	httputil.WriteJSON(w, http.StatusAccepted, EnforceAccepted{
		Accepted:  true,
		TraceID:   rc.TraceID,
		SessionID: rc.SessionID,
	})
}

// HandleGetProposal handles GET /proposals/{id}.
func (h *Handler) HandleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Proposal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProposal(p))
}

// HandleApprove handles POST /proposals/{id}/approve.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, role, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[ApproveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	proposalID := chi.URLParam(r, "id")
	p, signed, err := h.service.Approve(ctx, proposalID, actor, role, req.Justification)
	if err != nil {
		h.logger.WarnContext(ctx, "approval refused",
			"request_id", requestID,
			"proposal_id", proposalID,
			"actor", actor,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "proposal signed",
		"request_id", requestID,
		"proposal_id", p.ID,
		"actor", actor,
		"outcome", string(signed),
	)
	httputil.WriteJSON(w, http.StatusOK, SignResponse{
		Outcome:  string(signed),
		Proposal: FromProposal(p),
	})
}

// HandleReject handles POST /proposals/{id}/reject.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, role, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.DecodeAndPrepare[RejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	p, err := h.service.Reject(ctx, chi.URLParam(r, "id"), actor, role, req.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProposal(p))
}

// HandleRollback handles POST /proposals/{id}/rollback.
func (h *Handler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, role, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	proposalID := chi.URLParam(r, "id")
	p, err := h.service.Rollback(ctx, proposalID, actor, role)
	if err != nil {
		h.logger.WarnContext(ctx, "rollback refused",
			"request_id", requestcontext.RequestID(ctx),
			"proposal_id", proposalID,
			"actor", actor,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromProposal(p))
}

// HandleSafeMode handles PUT /safemode. Admin only; the RequireRole
// gate on the route enforces it, this re-checks in case the handler is
// ever mounted without the gate.
func (h *Handler) HandleSafeMode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, role, err := actorFrom(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if role != models.RoleAdmin {
		httputil.WriteError(w, domerrors.New(domerrors.CodeInsufficientRights,
			"only admins may toggle safe mode"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[SafeModeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if req.Scope == "global" {
		err = h.service.SetSafeModeGlobal(ctx, req.Enabled, actor, role)
	} else {
		err = h.service.SetSafeModeTenant(ctx, req.TenantID, req.Enabled, actor, role)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.logger.WarnContext(ctx, "safe mode changed",
		"request_id", requestID,
		"scope", req.Scope,
		"tenant_id", req.TenantID,
		"enabled", req.Enabled,
		"actor", actor,
	)
	httputil.WriteJSON(w, http.StatusOK, req)
}

// HandleVerifyChain handles GET /audit/verify.
func (h *Handler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	valid, err := h.service.VerifyChain(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}

// HandleAuditTrail handles GET /audit/trail?request_id=...
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		httputil.WriteError(w, domerrors.New(domerrors.CodeInvalidInput, "request_id is required"))
		return
	}
	entries, err := h.service.AuditTrail(r.Context(), requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntries(entries))
}

// actorFrom pulls the authenticated actor out of the request context.
// RequireAuth must have run earlier in the chain.
func actorFrom(ctx context.Context) (string, models.Role, error) {
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		return "", "", domerrors.New(domerrors.CodeUnauthorized, "authentication required")
	}
	role := models.Role(requestcontext.ActorRole(ctx))
	switch role {
	case models.RoleSystem, models.RoleAnalyst, models.RoleAdmin:
		return actor, role, nil
	}
	return "", "", domerrors.Newf(domerrors.CodeInsufficientRights, "unknown actor role %q", role)
}
