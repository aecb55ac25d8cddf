// Package events carries domain events between the connect flow and the sync pipeline.
// Events travel over a Redis stream when enabled and are dispatched in process otherwise.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// TypeAccountConnected is published after a mailbox is connected
const TypeAccountConnected = "account.connected"

// Source names this service in published events
const Source = "whittle"

// Event is a domain event as it travels through the stream
type Event struct {
	MessageID string
	EventID   string
	EventType string
	Source    string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// AccountConnected is the payload of TypeAccountConnected
type AccountConnected struct {
	UserID int64 `json:"user_id"`
}

// Publisher announces connected accounts
type Publisher interface {
	PublishAccountConnected(ctx context.Context, userID int64) error
}

// AccountConnectedHandler reacts to a connected account
type AccountConnectedHandler interface {
	HandleAccountConnected(ctx context.Context, userID int64) error
}

// Dispatcher routes events to their handlers
type Dispatcher struct {
	accounts AccountConnectedHandler
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher
func NewDispatcher(accounts AccountConnectedHandler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		accounts: accounts,
		logger:   logger.With("component", "dispatcher"),
	}
}

// HandleEvent decodes the payload and calls the matching handler.
// Unknown event types are ignored so they get acknowledged.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.EventType {
	case TypeAccountConnected:
		var payload AccountConnected
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return fmt.Errorf("failed to decode %s payload: %w", ev.EventType, err)
		}
		d.logger.Info("account connected", "user_id", payload.UserID, "event_id", ev.EventID)
		return d.accounts.HandleAccountConnected(ctx, payload.UserID)
	default:
		d.logger.Warn("unknown event type", "event_type", ev.EventType, "event_id", ev.EventID)
		return nil
	}
}
