package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// createdAtLayout keeps milliseconds while staying RFC 3339
const createdAtLayout = "2006-01-02T15:04:05.000Z07:00"

// StreamPublisher appends events to a Redis stream
type StreamPublisher struct {
	client *redis.Client
	stream string
	now    func() time.Time
	logger *slog.Logger
}

// NewStreamPublisher creates a publisher writing to stream
func NewStreamPublisher(client *redis.Client, stream string, logger *slog.Logger) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "publisher"),
	}
}

// PublishAccountConnected appends an account.connected event
func (p *StreamPublisher) PublishAccountConnected(ctx context.Context, userID int64) error {
	payload, err := json.Marshal(AccountConnected{UserID: userID})
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	eventID := uuid.NewString()
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":   eventID,
			"event_type": TypeAccountConnected,
			"source":     Source,
			"created_at": p.now().Format(createdAtLayout),
			"payload":    string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published", "stream", p.stream, "message_id", id, "event_id", eventID, "user_id", userID)
	return nil
}

// LocalPublisher runs handlers in process when no stream is configured
type LocalPublisher struct {
	handler AccountConnectedHandler
	base    context.Context
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewLocalPublisher creates a publisher whose handlers run under base
func NewLocalPublisher(base context.Context, handler AccountConnectedHandler, logger *slog.Logger) *LocalPublisher {
	return &LocalPublisher{
		handler: handler,
		base:    base,
		logger:  logger.With("component", "local_publisher"),
	}
}

// PublishAccountConnected handles the event in the background and returns at once
func (p *LocalPublisher) PublishAccountConnected(_ context.Context, userID int64) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.handler.HandleAccountConnected(p.base, userID); err != nil {
			p.logger.Error("failed to handle account connected", "user_id", userID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every handler started so far has returned
func (p *LocalPublisher) Wait() {
	p.wg.Wait()
}
