package handler

import (
	"strings"
	"time"

	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

// EnforceRequest is the HTTP body for POST /enforce: one scoring
// snapshot from the risk engine.
type EnforceRequest struct {
	TraceID    string             `json:"trace_id"`
	SessionID  string             `json:"session_id"`
	UserID     string             `json:"user_id"`
	TenantID   string             `json:"tenant_id"`
	SourceIP   string             `json:"source_ip"`
	RiskScore  int                `json:"risk_score"`
	Decision   string             `json:"decision"`
	TrustScore int                `json:"trust_score"`
	Breakdown  map[string]float64 `json:"breakdown,omitempty"`
	// TTLSeconds bounds how long the snapshot stays actionable; zero
	// means the server default.
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

// ToContext validates the body and freezes it into a domain snapshot.
func (r EnforceRequest) ToContext(now time.Time, defaultTTL time.Duration) (models.RequestContext, error) {
	ttl := defaultTTL
	if r.TTLSeconds > 0 {
		ttl = time.Duration(r.TTLSeconds) * time.Second
	}
	rc, err := models.NewRequestContext(r.TraceID, r.SessionID, r.UserID, r.TenantID, r.SourceIP,
		r.RiskScore, models.Decision(r.Decision), r.TrustScore, now, ttl)
	if err != nil {
		return models.RequestContext{}, err
	}
	rc.Breakdown = r.Breakdown
	return rc, nil
}

// ApproveRequest is the body for POST /proposals/{id}/approve.
type ApproveRequest struct {
	Justification string `json:"justification"`
}

// RejectRequest is the body for POST /proposals/{id}/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Validate requires a non-empty reason; it lands in the audit trail.
func (r RejectRequest) Validate() error {
	if strings.TrimSpace(r.Reason) == "" {
		return domerrors.New(domerrors.CodeInvalidInput, "reason is required")
	}
	return nil
}

// SafeModeRequest is the body for PUT /safemode.
type SafeModeRequest struct {
	Scope    string `json:"scope"` // "global" or "tenant"
	TenantID string `json:"tenant_id,omitempty"`
	Enabled  bool   `json:"enabled"`
}

// Validate checks the scope shape.
func (r SafeModeRequest) Validate() error {
	switch r.Scope {
	case "global":
		return nil
	case "tenant":
		if r.TenantID == "" {
			return domerrors.New(domerrors.CodeInvalidInput, "tenant_id is required for tenant scope")
		}
		return nil
	}
	return domerrors.Newf(domerrors.CodeInvalidInput, "scope must be global or tenant, got %q", r.Scope)
}
