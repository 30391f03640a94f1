package audit

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Publisher delivers serialized ledger entries to an external sink.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// MirrorWorker drains the ledger's mirror channel and publishes each
// entry to the audit mirror topic. Publish failures are logged and
// dropped; the chained store remains the source of truth and mirroring
// must never block or fail the pipeline.
type MirrorWorker struct {
	inbox     <-chan Entry
	publisher Publisher
	topic     string
	logger    *slog.Logger
}

// NewMirrorWorker wires a mirror worker to its inbox and sink.
func NewMirrorWorker(inbox <-chan Entry, publisher Publisher, topic string, logger *slog.Logger) *MirrorWorker {
	return &MirrorWorker{inbox: inbox, publisher: publisher, topic: topic, logger: logger}
}

// Run consumes until the context is cancelled.
func (w *MirrorWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-w.inbox:
			raw, err := json.Marshal(entry)
			if err != nil {
				w.logger.ErrorContext(ctx, "marshal mirrored audit entry",
					"entry_id", entry.ID,
					"error", err,
				)
				continue
			}
			if err := w.publisher.Publish(ctx, w.topic, entry.TenantID, raw); err != nil {
				w.logger.ErrorContext(ctx, "publish mirrored audit entry",
					"entry_id", entry.ID,
					"error", err,
				)
			}
		}
	}
}
