// Package syncer pulls newsletters out of users' mailboxes and files them as articles.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/mixelka/whittle/internal/classifier"
	"github.com/mixelka/whittle/internal/content"
	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/internal/mail"
	"github.com/mixelka/whittle/internal/metrics"
	"github.com/mixelka/whittle/internal/transform"
	"github.com/mixelka/whittle/internal/triage"
	"github.com/mixelka/whittle/pkg/models"
)

// DefaultConcurrency bounds SyncAll when Deps.Concurrency is unset
const DefaultConcurrency = 4

// Notifier is told about articles created by a run
type Notifier interface {
	NotifyNewArticles(ctx context.Context, user *models.User, articles []*models.Article) error
}

// Deps contains orchestrator dependencies
type Deps struct {
	DB          *database.DB
	Clients     mail.Factory
	Classifier  *classifier.Classifier
	Transformer *transform.Transformer
	Notifier    Notifier
	Retry       mail.RetryPolicy
	Concurrency int
	Logger      *slog.Logger
}

// Options tune a single user run
type Options struct {
	// RouteReadToLibrary files already read messages straight into Library
	RouteReadToLibrary bool
}

// Report summarizes one user run
type Report struct {
	Listed     int
	Accepted   int
	Created    int
	Duplicates int
	Skipped    int
}

// Summary aggregates a SyncAll pass
type Summary struct {
	Users   int
	Failed  int
	Created int
}

// Orchestrator runs the sync pipeline
type Orchestrator struct {
	db          *database.DB
	accounts    *database.Accounts
	store       *content.Store
	engine      *triage.Engine
	clients     mail.Factory
	classifier  *classifier.Classifier
	transformer *transform.Transformer
	notifier    Notifier
	retry       mail.RetryPolicy
	concurrency int
	global      []classifier.Rule
	now         func() time.Time
	logger      *slog.Logger
}

// New creates an orchestrator
func New(deps Deps) *Orchestrator {
	logger := deps.Logger.With("component", "sync")
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Orchestrator{
		db:          deps.DB,
		accounts:    database.NewAccounts(deps.DB),
		store:       content.NewStore(deps.DB, deps.Logger),
		engine:      triage.NewEngine(deps.DB, nil, deps.Logger),
		clients:     deps.Clients,
		classifier:  deps.Classifier,
		transformer: deps.Transformer,
		notifier:    deps.Notifier,
		retry:       deps.Retry,
		concurrency: concurrency,
		global:      classifier.GlobalRules(),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// candidate is an accepted message waiting for the write phase
type candidate struct {
	article content.NewArticle
	unread  bool
}

// SyncUser ingests new newsletters for one user.
// Reads happen outside the transaction; the checkpoint, articles and placements
// are written in one transaction, so a failed run leaves nothing behind.
func (o *Orchestrator) SyncUser(ctx context.Context, user *models.User, opts Options) (report Report, err error) {
	logger := o.logger.With("user_id", user.ID)
	started := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.RecordSync(result, time.Since(started).Seconds())
	}()

	// Load state
	checkpoint, err := o.accounts.LatestCheckpoint(ctx, user.ID)
	if err != nil {
		return report, err
	}
	subs, err := o.store.SubscriptionsForUser(ctx, user.ID)
	if err != nil {
		return report, err
	}
	userRules := classifier.RulesFromSubscriptions(subs)
	cfg, err := o.accounts.GetOrCreateUserConfig(ctx, user.ID)
	if err != nil {
		return report, err
	}

	// Open mailbox
	raw, err := o.clients.ClientFor(ctx, user.ID)
	if err != nil {
		return report, fmt.Errorf("failed to open mailbox: %w", err)
	}
	if closer, ok := raw.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil {
				logger.Warn("failed to close mailbox", "error", cerr)
			}
		}()
	}
	client := mail.WithRetry(raw, o.retry, logger)

	// List and filter
	ids, next, err := client.ListMessagesSince(ctx, checkpoint)
	if err != nil {
		return report, fmt.Errorf("failed to list messages: %w", err)
	}
	report.Listed = len(ids)

	var accepted []candidate
	for _, id := range ids {
		c, ok, err := o.inspect(ctx, client, id, userRules, logger)
		if err != nil {
			return report, err
		}
		if !ok {
			report.Skipped++
			continue
		}
		accepted = append(accepted, c)
	}
	report.Accepted = len(accepted)

	// Write everything at once
	var (
		created []*models.Article
		placed  []placement
	)
	err = o.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		accounts := database.NewAccounts(tx)
		store := o.store.WithTx(tx)
		engine := o.engine.WithTx(tx)

		if next != "" && next != checkpoint {
			if err := accounts.AppendCheckpoint(ctx, user.ID, next); err != nil {
				return err
			}
		}

		var inbox, library *models.Box
		for _, c := range accepted {
			c.article.UserID = user.ID
			article, err := store.CreateArticle(ctx, c.article)
			if errors.Is(err, content.ErrDuplicateArticle) {
				logger.Warn("article already stored", "message_id", c.article.ProviderMessageID)
				report.Duplicates++
				continue
			}
			if err != nil {
				return err
			}

			box, err := o.targetBox(ctx, engine, user.ID, opts.RouteReadToLibrary && !c.unread, &inbox, &library)
			if err != nil {
				return err
			}
			outcome, err := engine.Place(ctx, article, box)
			if err != nil {
				return err
			}
			created = append(created, article)
			placed = append(placed, placement{article: article, box: box, outcome: outcome})
		}
		return nil
	})
	if err != nil {
		report.Created, report.Duplicates = 0, 0
		return report, fmt.Errorf("failed to store sync results: %w", err)
	}
	report.Created = len(created)

	// Mailbox changes only follow committed placements
	archiver := o.engine.WithArchivers(triage.Fixed(client))
	for _, p := range placed {
		archiver.ArchiveMoved(ctx, p.article, p.box, p.outcome)
	}

	metrics.ArticlesIngested.Add(float64(report.Created))
	metrics.ArticlesDuplicate.Add(float64(report.Duplicates))

	logger.Info("user synced",
		"listed", report.Listed,
		"accepted", report.Accepted,
		"created", report.Created,
		"duplicates", report.Duplicates,
		"skipped", report.Skipped,
	)

	if len(created) > 0 && cfg.NotifyNewArticles && o.notifier != nil {
		if err := o.notifier.NotifyNewArticles(ctx, user, created); err != nil {
			logger.Warn("failed to notify about new articles", "error", err)
		}
	}

	return report, nil
}

type placement struct {
	article *models.Article
	box     *models.Box
	outcome triage.Outcome
}

// inspect fetches one message and decides whether it becomes an article
func (o *Orchestrator) inspect(ctx context.Context, client mail.Client, id string, userRules []classifier.Rule, logger *slog.Logger) (candidate, bool, error) {
	meta, err := client.FetchMessage(ctx, id, mail.FormatMetadata)
	if err != nil {
		return candidate{}, false, fmt.Errorf("failed to fetch message metadata: %w", err)
	}
	if meta == nil {
		logger.Debug("message vanished", "message_id", id)
		return candidate{}, false, nil
	}

	name, address, ok := meta.Sender()
	if !ok || !o.classifier.IsNewsletter(address, name, o.global, userRules) {
		return candidate{}, false, nil
	}

	msg, err := client.FetchMessage(ctx, id, mail.FormatFull)
	if err != nil {
		return candidate{}, false, fmt.Errorf("failed to fetch message: %w", err)
	}
	if msg == nil {
		logger.Debug("message vanished", "message_id", id)
		return candidate{}, false, nil
	}

	subject := msg.Subject()
	if classifier.ExcludedBySubject(address, subject) {
		logger.Debug("message excluded by subject", "message_id", id, "subject", subject)
		return candidate{}, false, nil
	}

	body, ok := msg.HTMLBody()
	if !ok {
		text, hasText := msg.TextBody()
		if !hasText {
			logger.Debug("message has no body", "message_id", id)
			return candidate{}, false, nil
		}
		body = "<pre>" + html.EscapeString(text) + "</pre>"
	}

	result, err := o.transformer.Transform(body, transform.ClassifySource(address))
	if err != nil {
		logger.Warn("failed to transform message", "message_id", id, "error", err)
		return candidate{}, false, nil
	}

	received, ok := msg.ReceivedAt()
	if !ok {
		received = o.now()
	}
	author := name
	if author == "" {
		author = address
	}

	return candidate{
		article: content.NewArticle{
			Title:             subject,
			Source:            address,
			Author:            author,
			Outline:           result.Outline,
			TextContent:       result.Text,
			HTMLContent:       result.HTML,
			ProviderMessageID: id,
			MessageReceivedAt: received,
		},
		unread: msg.IsUnread(),
	}, true, nil
}

func (o *Orchestrator) targetBox(ctx context.Context, engine *triage.Engine, userID int64, library bool, inbox, lib **models.Box) (*models.Box, error) {
	var err error
	if library {
		if *lib == nil {
			*lib, err = engine.UserLibrary(ctx, userID)
		}
		return *lib, err
	}
	if *inbox == nil {
		*inbox, err = engine.UserInbox(ctx, userID)
	}
	return *inbox, err
}

// SyncAll syncs every user with a connected mailbox.
// Runs are bounded by the concurrency limit and one user's failure never stops the others.
func (o *Orchestrator) SyncAll(ctx context.Context) (Summary, error) {
	users, err := o.accounts.ListUsersWithCredentials(ctx)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu      sync.Mutex
		summary = Summary{Users: len(users)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, user := range users {
		g.Go(func() error {
			report, err := o.SyncUser(gctx, user, Options{})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				o.logger.Error("user sync failed", "user_id", user.ID, "error", err)
				return nil
			}
			summary.Created += report.Created
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("sync pass finished", "users", summary.Users, "failed", summary.Failed, "created", summary.Created)
	return summary, nil
}

// HandleAccountConnected runs the first sync of a newly connected mailbox.
// Messages the user has already read go to Library.
func (o *Orchestrator) HandleAccountConnected(ctx context.Context, userID int64) error {
	user, err := o.accounts.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	_, err = o.SyncUser(ctx, user, Options{RouteReadToLibrary: true})
	return err
}
