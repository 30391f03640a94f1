package models

import (
	"time"

	"aegis/pkg/domerrors"
)

// Decision is the coarse verdict delivered by the scoring subsystem.
// It is trusted as-is; this pipeline never recomputes risk.
type Decision string

const (
	DecisionAllow    Decision = "ALLOW"
	DecisionMonitor  Decision = "MONITOR"
	DecisionRestrict Decision = "RESTRICT"
	DecisionEscalate Decision = "ESCALATE"
)

// IsValid reports whether d is a known scoring decision.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionAllow, DecisionMonitor, DecisionRestrict, DecisionEscalate:
		return true
	}
	return false
}

// RequestContext is the immutable snapshot of one scoring result. It is
// value-copied through the pipeline; nothing mutates it after creation.
// Threat data is attached by deriving an AssessedContext, never by
// writing back into this struct.
type RequestContext struct {
	TraceID    string
	SessionID  string
	UserID     string
	TenantID   string
	SourceIP   string
	RiskScore  int // 0-100
	Decision   Decision
	TrustScore int // 0-100
	// Breakdown carries the scorer's optional per-feature contributions,
	// passed through verbatim into ML feedback records.
	Breakdown map[string]float64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewRequestContext validates and freezes a scoring snapshot.
func NewRequestContext(traceID, sessionID, userID, tenantID, sourceIP string,
	riskScore int, decision Decision, trustScore int,
	createdAt time.Time, ttl time.Duration) (RequestContext, error) {

	if sessionID == "" || tenantID == "" {
		return RequestContext{}, domerrors.New(domerrors.CodeInvalidInput, "session_id and tenant_id are required")
	}
	if riskScore < 0 || riskScore > 100 {
		return RequestContext{}, domerrors.Newf(domerrors.CodeInvalidInput, "risk_score %d out of range [0,100]", riskScore)
	}
	if trustScore < 0 || trustScore > 100 {
		return RequestContext{}, domerrors.Newf(domerrors.CodeInvalidInput, "trust_score %d out of range [0,100]", trustScore)
	}
	if !decision.IsValid() {
		return RequestContext{}, domerrors.Newf(domerrors.CodeInvalidInput, "unknown decision %q", decision)
	}
	if ttl <= 0 {
		return RequestContext{}, domerrors.New(domerrors.CodeInvalidInput, "context TTL must be positive")
	}

	return RequestContext{
		TraceID:    traceID,
		SessionID:  sessionID,
		UserID:     userID,
		TenantID:   tenantID,
		SourceIP:   sourceIP,
		RiskScore:  riskScore,
		Decision:   decision,
		TrustScore: trustScore,
		CreatedAt:  createdAt,
		ExpiresAt:  createdAt.Add(ttl),
	}, nil
}

// Fresh reports whether the snapshot is still usable at the given time.
// Every pipeline stage re-checks this before mutating shared state.
func (c RequestContext) Fresh(now time.Time) bool {
	return now.Before(c.ExpiresAt)
}

// AssessedContext is a RequestContext plus its derived threat assessment.
// Producing it is the single permitted "late binding" in the pipeline,
// modeled as a pure derivation rather than mutation.
type AssessedContext struct {
	RequestContext
	Threat ThreatAssessment
}

// Assessed derives an AssessedContext. The receiver is unchanged.
func (c RequestContext) Assessed(threat ThreatAssessment) AssessedContext {
	return AssessedContext{RequestContext: c, Threat: threat}
}
