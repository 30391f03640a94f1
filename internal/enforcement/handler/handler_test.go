package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"aegis/internal/audit"
	auditmem "aegis/internal/audit/store/memory"
	"aegis/internal/enforcement/cooldown"
	"aegis/internal/enforcement/dispatch"
	"aegis/internal/enforcement/incident"
	"aegis/internal/enforcement/metrics"
	"aegis/internal/enforcement/models"
	"aegis/internal/enforcement/outcome"
	"aegis/internal/enforcement/policy"
	"aegis/internal/enforcement/proposal"
	"aegis/internal/enforcement/recovery"
	"aegis/internal/enforcement/safemode"
	"aegis/internal/enforcement/service"
	"aegis/internal/enforcement/threat"
	"aegis/internal/platform/logger"
	"aegis/internal/platform/middleware"
	"aegis/pkg/requestcontext"

	approvalflow "aegis/internal/enforcement/approval"
)

type recordingExecutor struct {
	mu    sync.Mutex
	count int
}

func (f *recordingExecutor) Execute(context.Context, models.Action, map[string]string) (models.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	return models.ExecutionResult{Success: true}, nil
}

func (f *recordingExecutor) executions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// HandlerSuite wires the full orchestrator over in-memory stores; only
// the outbound executor is a test double.
type HandlerSuite struct {
	suite.Suite
	router http.Handler
	store  *proposal.MemoryStore
	safe   *safemode.State
	exec   *recordingExecutor
	pool   *dispatch.Dispatcher

	actorID   string
	actorRole string
}

func (s *HandlerSuite) SetupTest() {
	log := logger.NewDiscard()
	s.exec = &recordingExecutor{}
	s.store = proposal.NewMemoryStore()
	s.safe = safemode.New(nil, log)
	require.NoError(s.T(), s.safe.Init(context.Background()))
	s.pool = dispatch.New(4, log)

	matrix := policy.NewMatrix()
	svc := service.New(service.Config{
		DedupWindow:      5 * time.Minute,
		ProposalTTL:      time.Hour,
		ExecutionTimeout: time.Second,
		LedgerTimeout:    time.Second,
	}, service.Deps{
		Policies:  policy.NewEngine(),
		Override:  policy.NewOverride(),
		Matrix:    matrix,
		Analyzer:  threat.NewAnalyzer(threat.NewCalculator()),
		Guard:     threat.NewGuard(),
		Proposals: s.store,
		Cooldowns: cooldown.NewManager(cooldown.NewMemoryStore(), cooldown.DefaultWindows()),
		SafeMode:  s.safe,
		Incidents: incident.NewGrouper(time.Hour),
		Workflow:  approvalflow.NewWorkflow(s.store, matrix, s.safe, log),
		Executor:  s.exec,
		Ledger:    audit.NewLedger(auditmem.New(), log),
		Emitter:   outcome.NewEmitter(nil, "feedback", 64, log),
		Planner:   recovery.NewPlanner(),
		Rollback:  recovery.NewRollbackPolicy(0),
		Pool:      s.pool,
		Logger:    log,
		Metrics:   metrics.NewWith(prometheus.NewRegistry()),
	})

	s.actorID = "alice"
	s.actorRole = "analyst"

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestcontext.WithActorID(req.Context(), s.actorID)
			ctx = requestcontext.WithActorRole(ctx, s.actorRole)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	New(svc, log, 5*time.Minute).Register(r)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.pool.Shutdown(ctx)
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.T(), json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) enforce(session string, risk, trust int, decision string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/enforce", EnforceRequest{
		TraceID:    "trace-" + session,
		SessionID:  session,
		UserID:     "user-1",
		TenantID:   "tenant-1",
		SourceIP:   "203.0.113.5",
		RiskScore:  risk,
		Decision:   decision,
		TrustScore: trust,
	})
}

// waitPending polls until the async pipeline parks a proposal in PENDING
// and returns it.
func (s *HandlerSuite) waitPending(session string, action models.Action) models.Proposal {
	var found models.Proposal
	require.Eventually(s.T(), func() bool {
		p, ok, err := s.store.FindActive(context.Background(), session, action)
		if err != nil || !ok || p.Status != models.StatusPending {
			return false
		}
		found = p
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return found
}

func (s *HandlerSuite) TestEnforceAcceptedAndExecuted() {
	rec := s.enforce("sess-http-1", 85, 75, "RESTRICT")
	require.Equal(s.T(), http.StatusAccepted, rec.Code)

	var resp EnforceAccepted
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(s.T(), resp.Accepted)
	assert.Equal(s.T(), "sess-http-1", resp.SessionID)

	require.Eventually(s.T(), func() bool {
		return s.exec.executions() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *HandlerSuite) TestEnforceMalformedBody() {
	req := httptest.NewRequest(http.MethodPost, "/enforce", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestEnforceRejectsInvalidSnapshot() {
	rec := s.do(http.MethodPost, "/enforce", EnforceRequest{
		SessionID: "", TenantID: "tenant-1", RiskScore: 85, Decision: "RESTRICT", TrustScore: 50,
	})
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/enforce", EnforceRequest{
		SessionID: "sess-x", TenantID: "tenant-1", RiskScore: 120, Decision: "RESTRICT", TrustScore: 50,
	})
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestGetProposalNotFound() {
	rec := s.do(http.MethodGet, "/proposals/nope", nil)
	assert.Equal(s.T(), http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestApproveLifecycle() {
	// High trust parks the proposal for review.
	require.Equal(s.T(), http.StatusAccepted, s.enforce("sess-http-2", 85, 90, "RESTRICT").Code)
	p := s.waitPending("sess-http-2", models.ActionCaptchaChallenge)

	rec := s.do(http.MethodPost, fmt.Sprintf("/proposals/%s/approve", p.ID),
		ApproveRequest{Justification: "confirmed bot traffic on this session"})
	require.Equal(s.T(), http.StatusOK, rec.Code)

	var resp SignResponse
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(s.T(), string(approvalflow.OutcomeApproved), resp.Outcome)
	assert.Equal(s.T(), "alice", resp.Proposal.ApprovedBy)

	require.Eventually(s.T(), func() bool {
		return s.exec.executions() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *HandlerSuite) TestApproveRefusesMachineCaller() {
	require.Equal(s.T(), http.StatusAccepted, s.enforce("sess-http-9", 85, 90, "RESTRICT").Code)
	p := s.waitPending("sess-http-9", models.ActionCaptchaChallenge)

	// A caller authenticated as the scoring engine holds the system
	// role; it must never clear the human review gate.
	s.actorID = "scoring-engine"
	s.actorRole = "system"
	rec := s.do(http.MethodPost, fmt.Sprintf("/proposals/%s/approve", p.ID),
		ApproveRequest{Justification: "automated follow-up on risk verdict"})
	assert.Equal(s.T(), http.StatusForbidden, rec.Code)
	assert.Zero(s.T(), s.exec.executions())

	got, err := s.store.Get(context.Background(), p.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusPending, got.Status)
}

func (s *HandlerSuite) TestApproveRequiresJustification() {
	require.Equal(s.T(), http.StatusAccepted, s.enforce("sess-http-3", 85, 90, "RESTRICT").Code)
	p := s.waitPending("sess-http-3", models.ActionCaptchaChallenge)

	rec := s.do(http.MethodPost, fmt.Sprintf("/proposals/%s/approve", p.ID),
		ApproveRequest{Justification: "ok"})
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestRejectRequiresReason() {
	require.Equal(s.T(), http.StatusAccepted, s.enforce("sess-http-4", 85, 90, "RESTRICT").Code)
	p := s.waitPending("sess-http-4", models.ActionCaptchaChallenge)

	rec := s.do(http.MethodPost, fmt.Sprintf("/proposals/%s/reject", p.ID), RejectRequest{})
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, fmt.Sprintf("/proposals/%s/reject", p.ID),
		RejectRequest{Reason: "known load test"})
	require.Equal(s.T(), http.StatusOK, rec.Code)

	var resp ProposalResponse
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(s.T(), string(models.StatusRejected), resp.Status)
}

func (s *HandlerSuite) TestSafeModeRequiresAdmin() {
	rec := s.do(http.MethodPut, "/safemode", SafeModeRequest{Scope: "global", Enabled: true})
	assert.Equal(s.T(), http.StatusForbidden, rec.Code)
	assert.False(s.T(), s.safe.Global())

	s.actorRole = "admin"
	rec = s.do(http.MethodPut, "/safemode", SafeModeRequest{Scope: "global", Enabled: true})
	require.Equal(s.T(), http.StatusOK, rec.Code)
	assert.True(s.T(), s.safe.Global())
}

func (s *HandlerSuite) TestSafeModeValidatesScope() {
	s.actorRole = "admin"
	rec := s.do(http.MethodPut, "/safemode", SafeModeRequest{Scope: "region", Enabled: true})
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/safemode", SafeModeRequest{Scope: "tenant", Enabled: true})
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code, "tenant scope needs a tenant_id")
}

func (s *HandlerSuite) TestAuditTrailAndVerify() {
	require.Equal(s.T(), http.StatusAccepted, s.enforce("sess-http-5", 85, 75, "RESTRICT").Code)

	var entries []AuditEntryResponse
	require.Eventually(s.T(), func() bool {
		rec := s.do(http.MethodGet, "/audit/trail?request_id=sess-http-5", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		entries = nil
		if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
			return false
		}
		// CREATED through COMPLETED is five entries.
		return len(entries) >= 5
	}, 2*time.Second, 10*time.Millisecond)

	rec := s.do(http.MethodGet, "/audit/verify", nil)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	var verify VerifyResponse
	require.NoError(s.T(), json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(s.T(), verify.Valid)

	rec = s.do(http.MethodGet, "/audit/trail", nil)
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
}
