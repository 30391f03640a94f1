package models

import "time"

// OutcomeLabel is the ML feedback classification derived from an action's
// real-world result. Emission is one-way: labels feed future training
// runs downstream but never trigger anything here.
type OutcomeLabel string

const (
	LabelBenign     OutcomeLabel = "BENIGN"
	LabelSuspicious OutcomeLabel = "SUSPICIOUS"
	LabelMalicious  OutcomeLabel = "MALICIOUS"
	LabelHighRisk   OutcomeLabel = "HIGH_RISK"
	LabelUnknown    OutcomeLabel = "UNKNOWN"
)

// Outcome is the raw result of an enforcement attempt.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeFailed      Outcome = "FAILED"
	OutcomeFailedCrash Outcome = "FAILED_CRASH"
	OutcomeRolledBack  Outcome = "ROLLED_BACK"
)

// FeedbackRecord is the asynchronous ML feedback payload published after
// every settled enforcement attempt.
type FeedbackRecord struct {
	SessionID          string             `json:"session_id"`
	TraceID            string             `json:"trace_id"`
	Timestamp          time.Time          `json:"timestamp"`
	FeaturesSnapshotID string             `json:"features_snapshot_id"`
	Action             Action             `json:"action"`
	Outcome            Outcome            `json:"outcome"`
	DerivedLabel       OutcomeLabel       `json:"derived_label"`
	Details            map[string]string  `json:"details,omitempty"`
	Breakdown          map[string]float64 `json:"breakdown,omitempty"`
	ModelVersion       string             `json:"model_version"`
	TenantID           string             `json:"tenant_id"`
}
