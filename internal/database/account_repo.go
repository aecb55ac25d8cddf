package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/whittle/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// Accounts stores users, their preferences, credentials and sync checkpoints
type Accounts struct {
	q Querier
}

// NewAccounts creates an account repository on top of a DB or a transaction
func NewAccounts(q Querier) *Accounts {
	return &Accounts{q: q}
}

// CreateUser creates a new user
func (r *Accounts) CreateUser(ctx context.Context, email string) (*models.User, error) {
	now := time.Now().UTC()
	result, err := r.q.ExecContext(ctx, `INSERT INTO users (email, created_at) VALUES (?, ?)`, email, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.User{ID: id, Email: email, CreatedAt: now}, nil
}

// GetUserByID returns a user by ID
func (r *Accounts) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := r.q.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByChatID returns the user linked to a Telegram chat
func (r *Accounts) GetUserByChatID(ctx context.Context, chatID int64) (*models.User, error) {
	var user models.User
	err := r.q.GetContext(ctx, &user, `SELECT * FROM users WHERE telegram_chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// SetUserEmail records the mailbox address of a user
func (r *Accounts) SetUserEmail(ctx context.Context, id int64, email string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE users SET email = ? WHERE id = ?`, email, id)
	if err != nil {
		return fmt.Errorf("failed to set user email: %w", err)
	}
	return nil
}

// SetUserChat links a Telegram chat to a user
func (r *Accounts) SetUserChat(ctx context.Context, id, chatID int64) error {
	_, err := r.q.ExecContext(ctx, `UPDATE users SET telegram_chat_id = ? WHERE id = ?`, chatID, id)
	if IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to set user chat: %w", err)
	}
	return nil
}

// ListUsersWithCredentials returns every user that has connected a mailbox
func (r *Accounts) ListUsersWithCredentials(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	query := `
		SELECT * FROM users u
		WHERE EXISTS (SELECT 1 FROM mail_credentials c WHERE c.user_id = u.id)
		ORDER BY u.id
	`
	if err := r.q.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// GetOrCreateUserConfig returns the user's config, creating it with defaults on first access
func (r *Accounts) GetOrCreateUserConfig(ctx context.Context, userID int64) (*models.UserConfig, error) {
	_, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO user_configs (user_id, auto_archive, notify_new_articles, created_at) VALUES (?, false, true, ?)`,
		userID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user config: %w", err)
	}

	var cfg models.UserConfig
	if err := r.q.GetContext(ctx, &cfg, `SELECT * FROM user_configs WHERE user_id = ?`, userID); err != nil {
		return nil, fmt.Errorf("failed to get user config: %w", err)
	}
	return &cfg, nil
}

// UpdateUserConfig saves the user's preferences
func (r *Accounts) UpdateUserConfig(ctx context.Context, cfg *models.UserConfig) error {
	query := `UPDATE user_configs SET auto_archive = ?, notify_new_articles = ? WHERE user_id = ?`
	result, err := r.q.ExecContext(ctx, query, cfg.AutoArchive, cfg.NotifyNewArticles, cfg.UserID)
	if err != nil {
		return fmt.Errorf("failed to update user config: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint, or "" when the user was never synced
func (r *Accounts) LatestCheckpoint(ctx context.Context, userID int64) (string, error) {
	var checkpoint string
	query := `SELECT checkpoint FROM sync_checkpoints WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	err := r.q.GetContext(ctx, &checkpoint, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return checkpoint, nil
}

// AppendCheckpoint records a new checkpoint; older rows are kept as history
func (r *Accounts) AppendCheckpoint(ctx context.Context, userID int64, checkpoint string) error {
	query := `INSERT INTO sync_checkpoints (user_id, checkpoint, created_at) VALUES (?, ?, ?)`
	if _, err := r.q.ExecContext(ctx, query, userID, checkpoint, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	return nil
}

// AppendCredential stores an encrypted credential; the newest one wins
func (r *Accounts) AppendCredential(ctx context.Context, userID int64, provider, encrypted string) error {
	query := `INSERT INTO mail_credentials (user_id, provider, credentials, created_at) VALUES (?, ?, ?, ?)`
	if _, err := r.q.ExecContext(ctx, query, userID, provider, encrypted, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to append credential: %w", err)
	}
	return nil
}

// LatestCredential returns the credential currently in use
func (r *Accounts) LatestCredential(ctx context.Context, userID int64) (*models.MailCredential, error) {
	var cred models.MailCredential
	query := `SELECT * FROM mail_credentials WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`
	err := r.q.GetContext(ctx, &cred, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return &cred, nil
}

// CreateOAuthState remembers which user started an authorization request
func (r *Accounts) CreateOAuthState(ctx context.Context, userID int64, state string) error {
	query := `INSERT INTO oauth_states (user_id, state, created_at) VALUES (?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query, userID, state, time.Now().UTC())
	if IsUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("failed to create oauth state: %w", err)
	}
	return nil
}

// GetOAuthState looks up an authorization request by its state value
func (r *Accounts) GetOAuthState(ctx context.Context, state string) (*models.OAuthState, error) {
	var s models.OAuthState
	err := r.q.GetContext(ctx, &s, `SELECT * FROM oauth_states WHERE state = ?`, state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth state: %w", err)
	}
	return &s, nil
}
