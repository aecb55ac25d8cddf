// Package mail defines the mailbox contract the sync pipeline consumes
// and the helpers shared by the provider adapters.
package mail

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InitialSyncWindow is how far back the first sync of a mailbox looks
const InitialSyncWindow = 15 * 24 * time.Hour

// ErrTransient marks failures worth retrying: rate limits, 5xx, network errors
var ErrTransient = errors.New("transient provider error")

// ErrNoCredentials is returned when a user has not connected a mailbox
var ErrNoCredentials = errors.New("no mail credentials")

// Client is a single user's mailbox
type Client interface {
	// ListMessagesSince returns message ids newer than checkpoint and the checkpoint to store next.
	// An empty checkpoint lists the initial sync window.
	ListMessagesSince(ctx context.Context, checkpoint string) (ids []string, next string, err error)
	// FetchMessage returns nil, nil when the provider no longer has the message.
	FetchMessage(ctx context.Context, id string, format Format) (*Message, error)
	// Archive removes the message from the inbox without deleting it.
	Archive(ctx context.Context, id string) error
	// Profile returns the mailbox address.
	Profile(ctx context.Context) (string, error)
}

// Factory builds a client for one user. Clients are not shared between users.
type Factory interface {
	ClientFor(ctx context.Context, userID int64) (Client, error)
}

// Transient wraps err so IsTransient reports true
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// SinceWindow returns the start of the initial sync window
func SinceWindow(now time.Time) time.Time {
	return now.Add(-InitialSyncWindow)
}
