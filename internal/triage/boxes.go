package triage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/pkg/models"
)

// DefaultBoxes are created for every new user
var DefaultBoxes = []string{models.BoxInbox, models.BoxQueue, models.BoxLibrary}

// CreateBox creates a named box for a user
func (e *Engine) CreateBox(ctx context.Context, userID int64, name string) (*models.Box, error) {
	now := e.now()
	result, err := e.q.ExecContext(ctx,
		`INSERT INTO boxes (user_id, name, created_at) VALUES (?, ?, ?)`,
		userID, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create box: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return &models.Box{ID: id, UserID: userID, Name: name, CreatedAt: now}, nil
}

// SeedBoxes creates Inbox, Queue and Library for a user
func (e *Engine) SeedBoxes(ctx context.Context, userID int64) ([]*models.Box, error) {
	boxes := make([]*models.Box, 0, len(DefaultBoxes))
	for _, name := range DefaultBoxes {
		box, err := e.CreateBox(ctx, userID, name)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// BoxesForUser returns the user's boxes in creation order
func (e *Engine) BoxesForUser(ctx context.Context, userID int64) ([]*models.Box, error) {
	boxes := []*models.Box{}
	if err := e.q.SelectContext(ctx, &boxes, `SELECT * FROM boxes WHERE user_id = ? ORDER BY id`, userID); err != nil {
		return nil, fmt.Errorf("failed to get boxes: %w", err)
	}
	return boxes, nil
}

// BoxByID returns a box owned by the user
func (e *Engine) BoxByID(ctx context.Context, userID, boxID int64) (*models.Box, error) {
	var box models.Box
	err := e.q.GetContext(ctx, &box, `SELECT * FROM boxes WHERE id = ? AND user_id = ?`, boxID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box: %w", err)
	}
	return &box, nil
}

// BoxByName finds exactly one box by case-insensitive name
func (e *Engine) BoxByName(ctx context.Context, userID int64, name string) (*models.Box, error) {
	boxes := []*models.Box{}
	err := e.q.SelectContext(ctx, &boxes,
		`SELECT * FROM boxes WHERE user_id = ? AND lower_utf8(name) = ?`,
		userID, strings.ToLower(name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get box by name: %w", err)
	}
	if len(boxes) != 1 {
		return nil, fmt.Errorf("%w: %d boxes named %q", ErrAmbiguousBox, len(boxes), name)
	}
	return boxes[0], nil
}

// UserInbox returns the user's Inbox
func (e *Engine) UserInbox(ctx context.Context, userID int64) (*models.Box, error) {
	return e.BoxByName(ctx, userID, models.BoxInbox)
}

// UserQueue returns the user's Queue
func (e *Engine) UserQueue(ctx context.Context, userID int64) (*models.Box, error) {
	return e.BoxByName(ctx, userID, models.BoxQueue)
}

// UserLibrary returns the user's Library
func (e *Engine) UserLibrary(ctx context.Context, userID int64) (*models.Box, error) {
	return e.BoxByName(ctx, userID, models.BoxLibrary)
}
