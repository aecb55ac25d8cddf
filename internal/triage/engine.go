// Package triage places articles into boxes.
//
// Each placement is a row in triages; at most one row per article is active.
// Moving an article deactivates the old row and appends a new one, so the
// table doubles as the article's move history.
package triage

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
	"github.com/mixelka/whittle/internal/metrics"
	"github.com/mixelka/whittle/pkg/models"
)

var (
	// ErrNoActivePlacement is returned when an article is in no box
	ErrNoActivePlacement = errors.New("article has no active placement")
	// ErrAmbiguousBox is returned when a name lookup matches zero or several boxes
	ErrAmbiguousBox = errors.New("box lookup is ambiguous")
	// ErrOwnerMismatch is returned when article and box belong to different users
	ErrOwnerMismatch = errors.New("article and box belong to different users")
)

// Outcome of a placement
type Outcome int

const (
	OutcomeMoved Outcome = iota
	OutcomeNoop
)

// Archiver removes a message from the provider inbox
type Archiver interface {
	Archive(ctx context.Context, providerMessageID string) error
}

// ArchiverSource hands out an archiver for a user's mailbox
type ArchiverSource interface {
	ArchiverFor(ctx context.Context, userID int64) (Archiver, error)
}

type fixed struct{ a Archiver }

func (f fixed) ArchiverFor(context.Context, int64) (Archiver, error) { return f.a, nil }

// Fixed returns a source that always hands out a
func Fixed(a Archiver) ArchiverSource {
	return fixed{a: a}
}

// Engine moves articles between boxes
type Engine struct {
	q         database.Querier
	accounts  *database.Accounts
	archivers ArchiverSource
	now       func() time.Time
	logger    *slog.Logger
}

// NewEngine creates a triage engine; archivers may be nil when auto-archive is never wanted
func NewEngine(q database.Querier, archivers ArchiverSource, logger *slog.Logger) *Engine {
	return &Engine{
		q:         q,
		accounts:  database.NewAccounts(q),
		archivers: archivers,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With("component", "triage"),
	}
}

// WithTx returns a copy of the engine bound to tx
func (e *Engine) WithTx(tx *sqlx.Tx) *Engine {
	c := *e
	c.q = tx
	c.accounts = database.NewAccounts(tx)
	return &c
}

// WithClock returns a copy of the engine that timestamps rows with now
func (e *Engine) WithClock(now func() time.Time) *Engine {
	c := *e
	c.now = now
	return &c
}

// WithArchivers returns a copy of the engine that archives through src
func (e *Engine) WithArchivers(src ArchiverSource) *Engine {
	c := *e
	c.archivers = src
	return &c
}

// PlaceInBox makes box the article's only active placement and, when the
// article lands in Library, archives its mail if the user asked for it.
// Placing into the current box changes nothing and returns OutcomeNoop.
// Callers running inside a transaction use Place and call ArchiveMoved after commit.
func (e *Engine) PlaceInBox(ctx context.Context, article *models.Article, box *models.Box) (Outcome, error) {
	outcome, err := e.Place(ctx, article, box)
	if err != nil {
		return outcome, err
	}
	e.ArchiveMoved(ctx, article, box, outcome)
	return outcome, nil
}

// Place makes box the article's only active placement without touching the mailbox
func (e *Engine) Place(ctx context.Context, article *models.Article, box *models.Box) (Outcome, error) {
	if article.UserID != box.UserID {
		return OutcomeNoop, ErrOwnerMismatch
	}

	active, err := e.activeRows(ctx, article.ID)
	if err != nil {
		return OutcomeNoop, err
	}

	if len(active) > 1 {
		e.logger.Warn("invariant repaired: article had several active placements",
			"article_id", article.ID,
			"active", len(active),
		)
		if err := e.deactivate(ctx, active[1:]); err != nil {
			return OutcomeNoop, err
		}
		active = active[:1]
	}

	if len(active) == 1 && active[0].BoxID == box.ID {
		return OutcomeNoop, nil
	}

	if err := e.deactivate(ctx, active); err != nil {
		return OutcomeNoop, err
	}

	_, err = e.q.ExecContext(ctx,
		`INSERT INTO triages (article_id, box_id, is_active, created_at) VALUES (?, ?, true, ?)`,
		article.ID, box.ID, e.now(),
	)
	if err != nil {
		return OutcomeNoop, fmt.Errorf("failed to create triage: %w", err)
	}
	metrics.TriageMoves.WithLabelValues(box.Name).Inc()

	return OutcomeMoved, nil
}

// ArchiveMoved runs auto-archive for a placement Place reported; only moves into Library archive
func (e *Engine) ArchiveMoved(ctx context.Context, article *models.Article, box *models.Box, outcome Outcome) {
	if outcome != OutcomeMoved || !strings.EqualFold(box.Name, models.BoxLibrary) {
		return
	}
	e.autoArchive(ctx, article)
}

// autoArchive archives the provider message when the user asked for it; failures never undo the move
func (e *Engine) autoArchive(ctx context.Context, article *models.Article) {
	cfg, err := e.accounts.GetOrCreateUserConfig(ctx, article.UserID)
	if err != nil {
		e.logger.Error("failed to load user config", "user_id", article.UserID, "error", err)
		return
	}
	if !cfg.AutoArchive || e.archivers == nil {
		return
	}

	archiver, err := e.archivers.ArchiverFor(ctx, article.UserID)
	if err == nil {
		err = archiver.Archive(ctx, article.ProviderMessageID)
	}
	if err != nil {
		metrics.ArchiveFailures.Inc()
		e.logger.Error("failed to archive message",
			"user_id", article.UserID,
			"article_id", article.ID,
			"error", err,
		)
		return
	}

	e.logger.Info("message archived", "user_id", article.UserID, "article_id", article.ID)
}

// BoxForArticle returns the box the article is currently in
func (e *Engine) BoxForArticle(ctx context.Context, userID, articleID int64) (*models.Box, error) {
	var box models.Box
	query := `
		SELECT b.* FROM boxes b
		JOIN triages t ON t.box_id = b.id AND t.is_active = 1
		WHERE t.article_id = ? AND b.user_id = ?
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT 1
	`
	err := e.q.GetContext(ctx, &box, query, articleID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActivePlacement
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get box for article: %w", err)
	}
	return &box, nil
}

// History returns every placement of an article, oldest first
func (e *Engine) History(ctx context.Context, articleID int64) ([]*models.Triage, error) {
	rows := []*models.Triage{}
	err := e.q.SelectContext(ctx, &rows,
		`SELECT * FROM triages WHERE article_id = ? ORDER BY created_at ASC, id ASC`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get triage history: %w", err)
	}
	return rows, nil
}

func (e *Engine) activeRows(ctx context.Context, articleID int64) ([]*models.Triage, error) {
	rows := []*models.Triage{}
	err := e.q.SelectContext(ctx, &rows,
		`SELECT * FROM triages WHERE article_id = ? AND is_active = 1 ORDER BY created_at DESC, id DESC`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get active triages: %w", err)
	}
	return rows, nil
}

func (e *Engine) deactivate(ctx context.Context, rows []*models.Triage) error {
	for _, row := range rows {
		if _, err := e.q.ExecContext(ctx, `UPDATE triages SET is_active = false WHERE id = ?`, row.ID); err != nil {
			return fmt.Errorf("failed to deactivate triage: %w", err)
		}
	}
	return nil
}
