package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mixelka/whittle/internal/metrics"
)

// Handler processes events read from the stream
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// ConsumerConfig holds consumer group settings
type ConsumerConfig struct {
	StreamKey    string
	GroupName    string
	ConsumerName string
	BatchSize    int64
	BlockTimeout time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	// A zero block would wait forever
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	return c
}

// Consumer reads events through a consumer group and acknowledges handled ones.
// Failed events stay pending.
type Consumer struct {
	client  *redis.Client
	config  ConsumerConfig
	handler Handler
	logger  *slog.Logger
}

// NewConsumer creates a stream consumer
func NewConsumer(client *redis.Client, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	return &Consumer{
		client:  client,
		config:  cfg.withDefaults(),
		handler: handler,
		logger:  logger.With("component", "consumer"),
	}
}

// EnsureGroup creates the stream and the group when missing
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.config.StreamKey, c.config.GroupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Run consumes until ctx is done
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("starting consumer",
		"stream", c.config.StreamKey,
		"group", c.config.GroupName,
		"consumer", c.config.ConsumerName,
	)

	for {
		if ctx.Err() != nil {
			c.logger.Info("consumer stopped")
			return nil
		}

		if _, err := c.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("error processing events", "error", err)

			// Back off on error
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce reads one batch and returns how many events were handled
func (c *Consumer) ProcessOnce(ctx context.Context) (int, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.GroupName,
		Consumer: c.config.ConsumerName,
		Streams:  []string{c.config.StreamKey, ">"},
		Count:    c.config.BatchSize,
		Block:    c.config.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stream: %w", err)
	}

	handled := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			ev := parseEvent(message)

			if err := c.handler.HandleEvent(ctx, ev); err != nil {
				metrics.EventsProcessed.WithLabelValues(ev.EventType, "error").Inc()
				c.logger.Error("failed to process event",
					"message_id", message.ID,
					"event_type", ev.EventType,
					"error", err,
				)
				continue
			}

			if err := c.client.XAck(ctx, c.config.StreamKey, c.config.GroupName, message.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "message_id", message.ID, "error", err)
				continue
			}
			metrics.EventsProcessed.WithLabelValues(ev.EventType, "ok").Inc()
			handled++
		}
	}

	return handled, nil
}

// parseEvent converts a stream message to an Event
func parseEvent(message redis.XMessage) Event {
	ev := Event{MessageID: message.ID}

	if v, ok := message.Values["event_id"].(string); ok {
		ev.EventID = v
	}
	if v, ok := message.Values["event_type"].(string); ok {
		ev.EventType = v
	}
	if v, ok := message.Values["source"].(string); ok {
		ev.Source = v
	}
	if v, ok := message.Values["created_at"].(string); ok {
		ev.CreatedAt, _ = time.Parse(time.RFC3339, v)
	}
	if v, ok := message.Values["payload"].(string); ok {
		ev.Payload = json.RawMessage(v)
	}

	return ev
}
