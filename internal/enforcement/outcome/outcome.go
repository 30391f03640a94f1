// Package outcome derives ML feedback labels from settled enforcement
// attempts and ships them asynchronously. Emission is fire-and-forget
// with load shedding: the enforcement path must never block on the
// feedback pipe.
package outcome

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"aegis/internal/enforcement/models"
)

// Label maps a raw outcome and the approving role to the feedback label.
// The mapping is deliberately dumb and total: a human approving an
// action that then landed is the strongest possible confirmation the
// session was hostile; an automated success is merely high risk; a
// rollback means we decided we were wrong.
func Label(result models.Outcome, approverRole models.Role) models.OutcomeLabel {
	switch result {
	case models.OutcomeRolledBack:
		return models.LabelBenign
	case models.OutcomeFailed, models.OutcomeFailedCrash:
		return models.LabelSuspicious
	case models.OutcomeSuccess:
		switch approverRole {
		case models.RoleAnalyst, models.RoleAdmin:
			return models.LabelMalicious
		case models.RoleSystem:
			return models.LabelHighRisk
		}
	}
	return models.LabelUnknown
}

// Publisher ships one serialized feedback record. Implemented by the
// Kafka client; tests substitute their own.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Emitter buffers feedback records and publishes them from a background
// worker.
type Emitter struct {
	inbox  chan models.FeedbackRecord
	pub    Publisher
	topic  string
	logger *slog.Logger
	clock  func() time.Time
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithClock overrides the timestamp source for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Emitter) { e.clock = clock }
}

// NewEmitter builds an emitter with the given buffer size.
func NewEmitter(pub Publisher, topic string, buffer int, logger *slog.Logger, opts ...Option) *Emitter {
	e := &Emitter{
		inbox:  make(chan models.FeedbackRecord, buffer),
		pub:    pub,
		topic:  topic,
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit derives the label, stamps the record, and enqueues it. When the
// buffer is full the record is dropped with a warning: feedback is
// best-effort, enforcement latency is not.
func (e *Emitter) Emit(ctx context.Context, actx models.AssessedContext, action models.Action,
	result models.Outcome, approverRole models.Role, details map[string]string) {

	record := models.FeedbackRecord{
		SessionID:          actx.SessionID,
		TraceID:            actx.TraceID,
		Timestamp:          e.clock(),
		FeaturesSnapshotID: actx.TraceID,
		Action:             action,
		Outcome:            result,
		DerivedLabel:       Label(result, approverRole),
		Details:            details,
		Breakdown:          actx.Breakdown,
		ModelVersion:       "v1",
		TenantID:           actx.TenantID,
	}

	select {
	case e.inbox <- record:
	default:
		e.logger.WarnContext(ctx, "feedback buffer full, dropping record",
			"session_id", record.SessionID, "outcome", string(result))
	}
}

// Run publishes queued records until the context ends. Publish failures
// are logged and dropped; the record is advisory, the audit ledger is
// the durable trail.
func (e *Emitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case record := <-e.inbox:
			e.publish(ctx, record)
		}
	}
}

func (e *Emitter) publish(ctx context.Context, record models.FeedbackRecord) {
	if e.pub == nil {
		return
	}
	value, err := json.Marshal(record)
	if err != nil {
		e.logger.ErrorContext(ctx, "feedback record encode failed", "error", err)
		return
	}
	if err := e.pub.Publish(ctx, e.topic, record.SessionID, value); err != nil {
		e.logger.WarnContext(ctx, "feedback publish failed",
			"session_id", record.SessionID, "error", err)
	}
}

// Pending reports the queued record count, for draining in tests and
// shutdown logging.
func (e *Emitter) Pending() int { return len(e.inbox) }
