package executor

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"aegis/internal/enforcement/models"
)

// Publisher is the broker capability the Kafka executor needs.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Command is the wire payload consumed by the downstream enforcement
// workers that actually apply a mitigation.
type Command struct {
	Action     models.Action     `json:"action"`
	Params     map[string]string `json:"params"`
	IssuedAt   time.Time         `json:"issued_at"`
	ProposalID string            `json:"proposal_id,omitempty"`
}

// Kafka dispatches enforcement commands onto a broker topic, keyed by
// session so all actions for one session stay ordered on a partition.
type Kafka struct {
	pub   Publisher
	topic string
	clock func() time.Time
}

// NewKafka returns a broker-backed executor.
func NewKafka(pub Publisher, topic string) *Kafka {
	return &Kafka{pub: pub, topic: topic, clock: time.Now}
}

// Execute publishes the command. Broker acknowledgement is the success
// criterion; the downstream worker owns the mitigation itself.
func (k *Kafka) Execute(ctx context.Context, action models.Action, params map[string]string) (models.ExecutionResult, error) {
	payload, err := json.Marshal(Command{
		Action:     action,
		Params:     params,
		IssuedAt:   k.clock(),
		ProposalID: params["proposal_id"],
	})
	if err != nil {
		return models.ExecutionResult{}, err
	}
	key := params["session_id"]
	if key == "" {
		key = params["proposal_id"]
	}
	if err := k.pub.Publish(ctx, k.topic, key, payload); err != nil {
		return models.ExecutionResult{}, err
	}
	return models.ExecutionResult{
		Success:  true,
		Metadata: map[string]string{"dispatch": "kafka", "topic": k.topic},
	}, nil
}

// NewDryRun returns an executor that only logs. It backs local
// development and deployments without a broker.
func NewDryRun(logger *slog.Logger) ActionExecutor {
	return Func(func(ctx context.Context, action models.Action, params map[string]string) (models.ExecutionResult, error) {
		logger.WarnContext(ctx, "dry-run executor, action not dispatched",
			"action", string(action), "proposal_id", params["proposal_id"])
		return models.ExecutionResult{
			Success:  true,
			Metadata: map[string]string{"dispatch": "dry-run"},
		}, nil
	})
}
