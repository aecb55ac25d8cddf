// Package content stores articles and the subscriptions that select them.
package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/internal/transform"
	"github.com/mixelka/whittle/pkg/models"
)

// ErrDuplicateArticle is returned when the user already has an article for the provider message
var ErrDuplicateArticle = errors.New("article already exists")

// ErrNotFound is returned when an article is missing or belongs to someone else
var ErrNotFound = database.ErrNotFound

// NewArticle holds the fields of an article to create
type NewArticle struct {
	UserID            int64
	Title             string
	Source            string
	Author            string
	Outline           string
	TextContent       string
	HTMLContent       string
	ProviderMessageID string
	MessageReceivedAt time.Time
}

// Store is the article repository
type Store struct {
	q      database.Querier
	now    func() time.Time
	logger *slog.Logger
}

// NewStore creates a store on top of a DB or a transaction
func NewStore(q database.Querier, logger *slog.Logger) *Store {
	return &Store{
		q:      q,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "content"),
	}
}

// WithTx returns a copy of the store bound to tx
func (s *Store) WithTx(tx *sqlx.Tx) *Store {
	c := *s
	c.q = tx
	return &c
}

// WithClock returns a copy of the store that timestamps rows with now
func (s *Store) WithClock(now func() time.Time) *Store {
	c := *s
	c.now = now
	return &c
}

// CreateArticle inserts an article; ErrDuplicateArticle when (provider message, user) exists
func (s *Store) CreateArticle(ctx context.Context, a NewArticle) (*models.Article, error) {
	var existing int64
	err := s.q.GetContext(ctx, &existing,
		`SELECT id FROM articles WHERE provider_message_id = ? AND user_id = ?`,
		a.ProviderMessageID, a.UserID,
	)
	if err == nil {
		return nil, ErrDuplicateArticle
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check article: %w", err)
	}

	now := s.now()
	query := `
		INSERT INTO articles (user_id, title, source, author, outline, text_content, html_content,
			provider_message_id, message_received_at, bookmarked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, false, ?)
	`
	result, err := s.q.ExecContext(ctx, query,
		a.UserID,
		a.Title,
		a.Source,
		a.Author,
		a.Outline,
		a.TextContent,
		a.HTMLContent,
		a.ProviderMessageID,
		a.MessageReceivedAt.UTC(),
		now,
	)
	if database.IsUniqueViolation(err) {
		return nil, ErrDuplicateArticle
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create article: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.Article{
		ID:                id,
		UserID:            a.UserID,
		Title:             a.Title,
		Source:            a.Source,
		Author:            a.Author,
		Outline:           a.Outline,
		TextContent:       a.TextContent,
		HTMLContent:       a.HTMLContent,
		ProviderMessageID: a.ProviderMessageID,
		MessageReceivedAt: a.MessageReceivedAt.UTC(),
		CreatedAt:         now,
	}, nil
}

// GetByID returns an article; with userID set, other users' articles are reported as not found
func (s *Store) GetByID(ctx context.Context, id int64, userID *int64) (*models.Article, error) {
	var article models.Article
	var err error
	if userID != nil {
		err = s.q.GetContext(ctx, &article, `SELECT * FROM articles WHERE id = ? AND user_id = ?`, id, *userID)
	} else {
		err = s.q.GetContext(ctx, &article, `SELECT * FROM articles WHERE id = ?`, id)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}
	return &article, nil
}

// ListByBox returns ids of the articles currently in a box.
// Inbox is newest mail first, Queue is first-queued first, other boxes are most recently moved first.
// An unknown box yields an empty list.
func (s *Store) ListByBox(ctx context.Context, userID, boxID int64) ([]int64, error) {
	box, err := s.box(ctx, userID, boxID)
	if errors.Is(err, ErrNotFound) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT a.id FROM articles a
		JOIN triages t ON t.article_id = a.id AND t.is_active = 1
		WHERE a.user_id = ? AND t.box_id = ?
		ORDER BY %s
	`, orderFor(box.Name))

	ids := []int64{}
	if err := s.q.SelectContext(ctx, &ids, query, userID, boxID); err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return ids, nil
}

// CountByBox returns how many articles are currently in a box
func (s *Store) CountByBox(ctx context.Context, userID, boxID int64) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM articles a
		JOIN triages t ON t.article_id = a.id AND t.is_active = 1
		WHERE a.user_id = ? AND t.box_id = ?
	`
	if err := s.q.GetContext(ctx, &count, query, userID, boxID); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}
	return count, nil
}

// SearchByBox finds articles in a box whose title and text both contain query, case-insensitively
func (s *Store) SearchByBox(ctx context.Context, userID, boxID int64, query string) ([]int64, error) {
	box, err := s.box(ctx, userID, boxID)
	if errors.Is(err, ErrNotFound) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	sqlQuery := fmt.Sprintf(`
		SELECT a.id FROM articles a
		JOIN triages t ON t.article_id = a.id AND t.is_active = 1
		WHERE a.user_id = ? AND t.box_id = ?
			AND lower_utf8(a.title) LIKE ? ESCAPE '\'
			AND lower_utf8(a.text_content) LIKE ? ESCAPE '\'
		ORDER BY %s
	`, orderFor(box.Name))

	ids := []int64{}
	if err := s.q.SelectContext(ctx, &ids, sqlQuery, userID, boxID, pattern, pattern); err != nil {
		return nil, fmt.Errorf("failed to search articles: %w", err)
	}
	return ids, nil
}

// Bookmark marks an article; already bookmarked articles are returned unchanged
func (s *Store) Bookmark(ctx context.Context, id, userID int64) (*models.Article, error) {
	return s.setBookmarked(ctx, id, userID, true)
}

// Unbookmark clears the bookmark; unbookmarked articles are returned unchanged
func (s *Store) Unbookmark(ctx context.Context, id, userID int64) (*models.Article, error) {
	return s.setBookmarked(ctx, id, userID, false)
}

func (s *Store) setBookmarked(ctx context.Context, id, userID int64, bookmarked bool) (*models.Article, error) {
	article, err := s.GetByID(ctx, id, &userID)
	if err != nil {
		return nil, err
	}
	if article.Bookmarked == bookmarked {
		return article, nil
	}

	if _, err := s.q.ExecContext(ctx, `UPDATE articles SET bookmarked = ? WHERE id = ?`, bookmarked, id); err != nil {
		return nil, fmt.Errorf("failed to update bookmark: %w", err)
	}
	article.Bookmarked = bookmarked
	return article, nil
}

// BackfillOutline regenerates a missing outline from the stored HTML
func (s *Store) BackfillOutline(ctx context.Context, id int64) (*models.Article, error) {
	article, err := s.GetByID(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	if article.Outline != "" {
		return article, nil
	}

	outline := transform.BuildOutline(article.HTMLContent)
	if outline == "" {
		return article, nil
	}

	if _, err := s.q.ExecContext(ctx, `UPDATE articles SET outline = ? WHERE id = ?`, outline, id); err != nil {
		return nil, fmt.Errorf("failed to update outline: %w", err)
	}
	article.Outline = outline
	s.logger.Info("outline backfilled", "article_id", id)
	return article, nil
}

func (s *Store) box(ctx context.Context, userID, boxID int64) (*models.Box, error) {
	var box models.Box
	err := s.q.GetContext(ctx, &box, `SELECT * FROM boxes WHERE id = ? AND user_id = ?`, boxID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box: %w", err)
	}
	return &box, nil
}

func orderFor(boxName string) string {
	switch {
	case strings.EqualFold(boxName, models.BoxInbox):
		return "a.message_received_at DESC, a.id DESC"
	case strings.EqualFold(boxName, models.BoxQueue):
		return "t.created_at ASC, t.id ASC"
	default:
		return "t.created_at DESC, t.id DESC"
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
