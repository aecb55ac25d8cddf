package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mixelka/whittle/internal/classifier"
	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/pkg/models"
)

// AddressPattern is the stored rule for an exact sender address
func AddressPattern(address string) string {
	return "^" + regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(address))) + "$"
}

// SubscriptionByAddress finds the exact-address subscription for a sender
func (s *Store) SubscriptionByAddress(ctx context.Context, address string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.q.GetContext(ctx, &sub,
		`SELECT * FROM subscriptions WHERE from_address = ? AND name = ?`,
		AddressPattern(address), classifier.MatchAll,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

// CreateSubscription stores an exact-address rule that accepts any sender name
func (s *Store) CreateSubscription(ctx context.Context, address string) (*models.Subscription, error) {
	now := s.now()
	pattern := AddressPattern(address)

	result, err := s.q.ExecContext(ctx,
		`INSERT INTO subscriptions (from_address, name, created_at) VALUES (?, ?, ?)`,
		pattern, classifier.MatchAll, now,
	)
	if database.IsUniqueViolation(err) {
		return nil, database.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return &models.Subscription{ID: id, FromAddress: pattern, Name: classifier.MatchAll, CreatedAt: now}, nil
}

// SubscriptionsForUser returns the user's active subscriptions
func (s *Store) SubscriptionsForUser(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	subs := []*models.Subscription{}
	query := `
		SELECT DISTINCT s.* FROM subscriptions s
		JOIN user_subscriptions us ON us.subscription_id = s.id
		WHERE us.user_id = ? AND us.is_active = 1
		ORDER BY s.id
	`
	if err := s.q.SelectContext(ctx, &subs, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get user subscriptions: %w", err)
	}
	return subs, nil
}

// AddUserSubscription links a subscription to a user; an active link is left as is
func (s *Store) AddUserSubscription(ctx context.Context, userID, subscriptionID int64) error {
	var active int
	err := s.q.GetContext(ctx, &active,
		`SELECT COUNT(*) FROM user_subscriptions WHERE user_id = ? AND subscription_id = ? AND is_active = 1`,
		userID, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to check user subscription: %w", err)
	}
	if active > 0 {
		return nil
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO user_subscriptions (user_id, subscription_id, is_active, created_at) VALUES (?, ?, true, ?)`,
		userID, subscriptionID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to add user subscription: %w", err)
	}
	return nil
}

// RemoveUserSubscription deactivates the link; past links are kept as history
func (s *Store) RemoveUserSubscription(ctx context.Context, userID, subscriptionID int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE user_subscriptions SET is_active = false WHERE user_id = ? AND subscription_id = ? AND is_active = 1`,
		userID, subscriptionID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove user subscription: %w", err)
	}
	return nil
}

// Subscribe finds or creates the rule for address and links it to the user
func (s *Store) Subscribe(ctx context.Context, userID int64, address string) (*models.Subscription, error) {
	sub, err := s.SubscriptionByAddress(ctx, address)
	if errors.Is(err, ErrNotFound) {
		sub, err = s.CreateSubscription(ctx, address)
	}
	if err != nil {
		return nil, err
	}

	if err := s.AddUserSubscription(ctx, userID, sub.ID); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes the user's link to the rule for address
func (s *Store) Unsubscribe(ctx context.Context, userID int64, address string) error {
	sub, err := s.SubscriptionByAddress(ctx, address)
	if err != nil {
		return err
	}
	return s.RemoveUserSubscription(ctx, userID, sub.ID)
}
