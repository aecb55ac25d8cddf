package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgmodels "github.com/go-telegram/bot/models"
	"github.com/jmoiron/sqlx"

	"github.com/mixelka/whittle/internal/account"
	"github.com/mixelka/whittle/internal/content"
	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/internal/formatter"
	"github.com/mixelka/whittle/internal/triage"
	"github.com/mixelka/whittle/pkg/models"
)

// listLimit caps how many articles a box listing loads
const listLimit = 50

const helpText = `<b>Whittle</b>

Newsletters from your mailbox, sorted into boxes.

<b>Commands:</b>
/connect - connect a Gmail mailbox
/connect_imap email password [server] - connect an IMAP mailbox
/boxes - list your boxes
/box name - list the articles in a box
/read ID - read an article
/search box words - search a box
/subscribe address - treat a sender as a newsletter
/unsubscribe address - stop treating a sender as a newsletter
/autoarchive on|off - archive mail when an article is marked done

<b>Examples:</b>
<code>/connect_imap me@example.com app-password</code>
<code>/search Queue interest rates</code>`

const startFirst = "Send /start first."

// Accounts is the part of the account service the bot drives
type Accounts interface {
	EnsureChatUser(ctx context.Context, chatID int64) (*models.User, bool, error)
	GoogleConnectURL(ctx context.Context, userID int64) (string, error)
	ConnectIMAP(ctx context.Context, userID int64, username, password, server string) (*models.User, error)
}

// Reply is the message a command answers with
type Reply struct {
	Text     string
	Keyboard *tgmodels.InlineKeyboardMarkup
}

func text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...)}
}

// Actions implements the bot commands independently of the Telegram API
type Actions struct {
	db        *database.DB
	accounts  Accounts
	users     *database.Accounts
	store     *content.Store
	engine    *triage.Engine
	formatter *formatter.TelegramFormatter
	logger    *slog.Logger
}

// ActionsDeps dependencies for creating actions
type ActionsDeps struct {
	DB        *database.DB
	Accounts  Accounts
	Archivers triage.ArchiverSource
	Formatter *formatter.TelegramFormatter
	Logger    *slog.Logger
}

// NewActions creates the command implementations
func NewActions(deps ActionsDeps) *Actions {
	f := deps.Formatter
	if f == nil {
		f = formatter.NewTelegramFormatter()
	}
	return &Actions{
		db:        deps.DB,
		accounts:  deps.Accounts,
		users:     database.NewAccounts(deps.DB),
		store:     content.NewStore(deps.DB, deps.Logger),
		engine:    triage.NewEngine(deps.DB, deps.Archivers, deps.Logger),
		formatter: f,
		logger:    deps.Logger.With("component", "telegram_actions"),
	}
}

// Start links the chat to a user, creating one on first contact
func (a *Actions) Start(ctx context.Context, chatID int64) (Reply, error) {
	user, created, err := a.accounts.EnsureChatUser(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	if created {
		a.logger.Info("user registered from chat", "user_id", user.ID, "chat_id", chatID)
		return Reply{Text: "Welcome! Connect a mailbox to get started.\n\n" + helpText}, nil
	}
	return Reply{Text: helpText}, nil
}

// Help returns the command list
func (a *Actions) Help() Reply {
	return Reply{Text: helpText}
}

// Connect returns the Gmail consent link
func (a *Actions) Connect(ctx context.Context, chatID int64) (Reply, error) {
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	consentURL, err := a.accounts.GoogleConnectURL(ctx, user.ID)
	if errors.Is(err, account.ErrGmailDisabled) {
		return text("Gmail is not configured here. Use /connect_imap instead."), nil
	}
	if err != nil {
		return Reply{}, err
	}
	return text(`<a href="%s">Connect your Gmail account</a>`, consentURL), nil
}

// ConnectIMAP verifies and stores IMAP credentials; args are email, password and an optional server
func (a *Actions) ConnectIMAP(ctx context.Context, chatID int64, args []string) (Reply, error) {
	if len(args) < 2 || len(args) > 3 {
		return text("Usage: <code>/connect_imap email password [imap.server.com:993]</code>"), nil
	}
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	var server string
	if len(args) == 3 {
		server = args[2]
	}

	if _, err := a.accounts.ConnectIMAP(ctx, user.ID, args[0], args[1], server); err != nil {
		a.logger.Warn("imap connect failed", "user_id", user.ID, "error", err)
		return text("Could not connect: %s", escape(err.Error())), nil
	}
	return text("Mailbox <b>%s</b> connected. Newsletters will show up shortly.", escape(args[0])), nil
}

// Boxes lists the user's boxes with their article counts
func (a *Actions) Boxes(ctx context.Context, chatID int64) (Reply, error) {
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	boxes, err := a.engine.BoxesForUser(ctx, user.ID)
	if err != nil {
		return Reply{}, err
	}

	counts := make([]formatter.BoxCount, 0, len(boxes))
	for _, box := range boxes {
		n, err := a.store.CountByBox(ctx, user.ID, box.ID)
		if err != nil {
			return Reply{}, err
		}
		counts = append(counts, formatter.BoxCount{Box: box, Count: n})
	}
	return Reply{Text: a.formatter.FormatBoxList(counts)}, nil
}

// Box lists the articles in the named box
func (a *Actions) Box(ctx context.Context, chatID int64, name string) (Reply, error) {
	if name == "" {
		return text("Usage: <code>/box name</code>"), nil
	}
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	box, err := a.engine.BoxByName(ctx, user.ID, name)
	if errors.Is(err, triage.ErrAmbiguousBox) {
		return text("No box named <b>%s</b>. See /boxes.", escape(name)), nil
	}
	if err != nil {
		return Reply{}, err
	}

	ids, err := a.store.ListByBox(ctx, user.ID, box.ID)
	if err != nil {
		return Reply{}, err
	}
	articles, err := a.load(ctx, user.ID, ids)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: a.formatter.FormatArticleList(box.Name, articles)}, nil
}

// Search lists the articles of a box whose title and text both contain query
func (a *Actions) Search(ctx context.Context, chatID int64, args []string) (Reply, error) {
	if len(args) < 2 {
		return text("Usage: <code>/search box words</code>"), nil
	}
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	box, err := a.engine.BoxByName(ctx, user.ID, args[0])
	if errors.Is(err, triage.ErrAmbiguousBox) {
		return text("No box named <b>%s</b>. See /boxes.", escape(args[0])), nil
	}
	if err != nil {
		return Reply{}, err
	}

	query := strings.Join(args[1:], " ")
	ids, err := a.store.SearchByBox(ctx, user.ID, box.ID, query)
	if err != nil {
		return Reply{}, err
	}
	articles, err := a.load(ctx, user.ID, ids)
	if err != nil {
		return Reply{}, err
	}
	header := fmt.Sprintf("%s: %s", box.Name, query)
	return Reply{Text: a.formatter.FormatArticleList(header, articles)}, nil
}

// Read shows one article with its triage keyboard
func (a *Actions) Read(ctx context.Context, chatID int64, rawID string) (Reply, error) {
	articleID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return text("Usage: <code>/read ID</code>"), nil
	}
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	article, err := a.store.GetByID(ctx, articleID, &user.ID)
	if errors.Is(err, content.ErrNotFound) {
		return text("Article not found."), nil
	}
	if err != nil {
		return Reply{}, err
	}

	return a.articleReply(ctx, article)
}

// AutoArchive toggles archiving of mail whose article moves to Library
func (a *Actions) AutoArchive(ctx context.Context, chatID int64, arg string) (Reply, error) {
	var on bool
	switch strings.ToLower(arg) {
	case "on":
		on = true
	case "off":
	default:
		return text("Usage: <code>/autoarchive on|off</code>"), nil
	}
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	cfg, err := a.users.GetOrCreateUserConfig(ctx, user.ID)
	if err != nil {
		return Reply{}, err
	}
	cfg.AutoArchive = on
	if err := a.users.UpdateUserConfig(ctx, cfg); err != nil {
		return Reply{}, err
	}

	if on {
		return text("Mail will be archived when you mark an article done."), nil
	}
	return text("Auto-archive is off."), nil
}

// Subscribe adds a sender rule for the user
func (a *Actions) Subscribe(ctx context.Context, chatID int64, address string) (Reply, error) {
	if !strings.Contains(address, "@") {
		return text("Usage: <code>/subscribe news@example.com</code>"), nil
	}
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	if _, err := a.store.Subscribe(ctx, user.ID, address); err != nil {
		return Reply{}, err
	}
	return text("Mail from <b>%s</b> will be treated as a newsletter.", escape(address)), nil
}

// Unsubscribe removes a sender rule for the user
func (a *Actions) Unsubscribe(ctx context.Context, chatID int64, address string) (Reply, error) {
	if address == "" {
		return text("Usage: <code>/unsubscribe news@example.com</code>"), nil
	}
	user, err := a.user(ctx, chatID)
	if err != nil {
		return a.userReply(err)
	}

	err = a.store.Unsubscribe(ctx, user.ID, address)
	if errors.Is(err, content.ErrNotFound) {
		return text("You are not subscribed to <b>%s</b>.", escape(address)), nil
	}
	if err != nil {
		return Reply{}, err
	}
	return text("Unsubscribed from <b>%s</b>.", escape(address)), nil
}

// Callback applies an inline button press and returns the toast text with the refreshed keyboard
func (a *Actions) Callback(ctx context.Context, chatID int64, data models.CallbackData) (string, *tgmodels.InlineKeyboardMarkup, error) {
	user, err := a.user(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		return startFirst, nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	article, err := a.store.GetByID(ctx, data.ArticleID, &user.ID)
	if errors.Is(err, content.ErrNotFound) {
		return "Article not found", nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	var answer string
	switch data.Action {
	case models.CallbackBookmark:
		article, err = a.store.Bookmark(ctx, article.ID, user.ID)
		answer = "Bookmarked"
	case models.CallbackUnbookmark:
		article, err = a.store.Unbookmark(ctx, article.ID, user.ID)
		answer = "Bookmark removed"
	default:
		name, ok := formatter.BoxForAction(data.Action)
		if !ok {
			return "Unknown action", nil, nil
		}
		answer, err = a.move(ctx, article, name)
	}
	if err != nil {
		return "", nil, err
	}

	reply, err := a.articleReply(ctx, article)
	if err != nil {
		return "", nil, err
	}
	return answer, reply.Keyboard, nil
}

func (a *Actions) move(ctx context.Context, article *models.Article, boxName string) (string, error) {
	var (
		box     *models.Box
		outcome triage.Outcome
	)
	err := a.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		engine := a.engine.WithTx(tx)
		var err error
		if box, err = engine.BoxByName(ctx, article.UserID, boxName); err != nil {
			return err
		}
		outcome, err = engine.Place(ctx, article, box)
		return err
	})
	if err != nil {
		return "", err
	}
	a.engine.ArchiveMoved(ctx, article, box, outcome)

	if outcome == triage.OutcomeNoop {
		return "Already in " + box.Name, nil
	}
	return "Moved to " + box.Name, nil
}

func (a *Actions) articleReply(ctx context.Context, article *models.Article) (Reply, error) {
	var boxName string
	box, err := a.engine.BoxForArticle(ctx, article.UserID, article.ID)
	switch {
	case err == nil:
		boxName = box.Name
	case !errors.Is(err, triage.ErrNoActivePlacement):
		return Reply{}, err
	}

	return Reply{
		Text:     a.formatter.FormatArticle(article, boxName),
		Keyboard: formatter.BuildArticleKeyboard(article.ID, boxName, article.Bookmarked),
	}, nil
}

func (a *Actions) load(ctx context.Context, userID int64, ids []int64) ([]*models.Article, error) {
	if len(ids) > listLimit {
		ids = ids[:listLimit]
	}
	articles := make([]*models.Article, 0, len(ids))
	for _, id := range ids {
		article, err := a.store.GetByID(ctx, id, &userID)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func (a *Actions) user(ctx context.Context, chatID int64) (*models.User, error) {
	return a.users.GetUserByChatID(ctx, chatID)
}

// userReply turns a missing chat user into a hint
func (a *Actions) userReply(err error) (Reply, error) {
	if errors.Is(err, database.ErrNotFound) {
		return text(startFirst), nil
	}
	return Reply{}, err
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
