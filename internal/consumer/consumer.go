package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// Defaults for the inbound stream.
const (
	DefaultTopic   = "payment-events"
	DefaultGroupID = "payment-risk-engine"
)

// Consumer runs a sarama consumer group over the payment-events topic
// and feeds every message through the pipeline. Within a partition
// messages are processed sequentially; the group may own several
// partitions and processes them in parallel.
type Consumer struct {
	group    sarama.ConsumerGroup
	topic    string
	pipeline *Pipeline
	logger   *slog.Logger

	wg      sync.WaitGroup
	running atomic.Bool
}

// New creates a consumer group client for the given brokers.
func New(brokers []string, groupID, topic string, pipeline *Pipeline, logger *slog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{
		sarama.NewBalanceStrategyRange(),
	}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:    group,
		topic:    topic,
		pipeline: pipeline,
		logger:   logger,
	}, nil
}

// Start begins consuming until ctx is cancelled. Consume returns on
// every rebalance; the loop re-enters it until shutdown.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", "error", err)
		}
	}()

	c.running.Store(true)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		handler := &groupHandler{pipeline: c.pipeline, logger: c.logger}
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("consume session failed", "topic", c.topic, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.logger.Info("stream consumer started", "topic", c.topic)
}

// Running reports whether the consume loop is active. Used by the
// health endpoint.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

// Close stops accepting messages, lets in-flight handling finish, and
// releases the group.
func (c *Consumer) Close() error {
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// groupHandler adapts the pipeline to sarama's consumer group contract.
type groupHandler struct {
	pipeline *Pipeline
	logger   *slog.Logger
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("partitions assigned", "claims", session.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes one partition's messages in order. Offsets are
// marked after handling regardless of outcome: poison messages are
// skipped, not replayed.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.pipeline.HandleMessage(session.Context(), msg.Key, msg.Value)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
