// Package kafka wraps the franz-go client used to fan out audit mirrors
// and ML feedback records.
package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client wraps a franz-go producer.
type Client struct {
	kc *kgo.Client
}

// New connects a producer. Returns nil if no brokers are configured
// (fan-out disabled; the pipeline itself never depends on Kafka).
func New(brokers []string) (*Client, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	kc, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Client{kc: kc}, nil
}

// EnsureTopics creates the given topics if missing. Safe to call on every
// startup; existing topics are left untouched.
func (c *Client) EnsureTopics(ctx context.Context, topics ...string) error {
	adm := kadm.NewClient(c.kc)
	existing, err := adm.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	for _, topic := range topics {
		if existing.Has(topic) {
			continue
		}
		if _, err := adm.CreateTopic(ctx, -1, -1, nil, topic); err != nil {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
	}
	return nil
}

// Publish produces one record and waits for the broker ack.
func (c *Client) Publish(ctx context.Context, topic, key string, value []byte) error {
	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := c.kc.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (c *Client) Close() {
	c.kc.Close()
}
