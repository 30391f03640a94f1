package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/enforcement/models"
	"aegis/internal/platform/logger"
)

type stubPublisher struct {
	topic string
	key   string
	value []byte
	err   error
}

func (p *stubPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.topic, p.key, p.value = topic, key, value
	return nil
}

func TestKafkaExecutorPublishesCommand(t *testing.T) {
	pub := &stubPublisher{}
	k := NewKafka(pub, "enforcement.actions")
	k.clock = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	result, err := k.Execute(context.Background(), models.ActionSessionTerminate, map[string]string{
		"session_id":  "sess-9",
		"proposal_id": "prop-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "kafka", result.Metadata["dispatch"])

	assert.Equal(t, "enforcement.actions", pub.topic)
	assert.Equal(t, "sess-9", pub.key, "keyed by session for partition ordering")

	var cmd Command
	require.NoError(t, json.Unmarshal(pub.value, &cmd))
	assert.Equal(t, models.ActionSessionTerminate, cmd.Action)
	assert.Equal(t, "prop-1", cmd.ProposalID)
	assert.False(t, cmd.IssuedAt.IsZero())
}

func TestKafkaExecutorPropagatesBrokerError(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker unreachable")}
	k := NewKafka(pub, "enforcement.actions")

	result, err := k.Execute(context.Background(), models.ActionRateLimit, map[string]string{"session_id": "s"})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestDryRunExecutorAlwaysSucceeds(t *testing.T) {
	exec := NewDryRun(logger.NewDiscard())
	result, err := exec.Execute(context.Background(), models.ActionCaptchaChallenge, map[string]string{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "dry-run", result.Metadata["dispatch"])
}
