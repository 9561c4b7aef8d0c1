package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
	// pending is a fetched message whose handler failed; it is retried
	// before anything new is fetched.
	pending *kafka.Message
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume feeds messages to handler until ctx ends or a step fails. Offsets
// are committed only after the handler succeeds, and a message whose handler
// failed is handed to the handler again on the next call.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		var msg kafka.Message
		if c.pending != nil {
			msg = *c.pending
		} else {
			m, err := c.r.FetchMessage(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch message")
			}
			msg = m
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			c.pending = &msg
			return err
		}
		c.pending = nil
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}
