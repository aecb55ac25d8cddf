package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/whittle/internal/formatter"
	appmodels "github.com/mixelka/whittle/pkg/models"
)

// Bot represents the Telegram bot
type Bot struct {
	bot       *bot.Bot
	actions   *Actions
	formatter *formatter.TelegramFormatter
	logger    *slog.Logger
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Token     string
	Actions   *Actions
	Formatter *formatter.TelegramFormatter
	Logger    *slog.Logger
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		actions:   deps.Actions,
		formatter: deps.Formatter,
		logger:    deps.Logger.With("component", "telegram_bot"),
	}
	if b.formatter == nil {
		b.formatter = formatter.NewTelegramFormatter()
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}

	tgBot, err := bot.New(deps.Token, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	commands := map[string]bot.HandlerFunc{
		"start":        b.handleStart,
		"help":         b.handleHelp,
		"connect":      b.handleConnect,
		"connect_imap": b.handleConnectIMAP,
		"boxes":        b.handleBoxes,
		"box":          b.handleBox,
		"read":         b.handleRead,
		"search":       b.handleSearch,
		"autoarchive":  b.handleAutoArchive,
		"subscribe":    b.handleSubscribe,
		"unsubscribe":  b.handleUnsubscribe,
	}
	for name, handler := range commands {
		b.bot.RegisterHandlerMatchFunc(matchCommand(name), handler)
	}
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot")
	b.bot.Start(ctx)
}

// NotifyNewArticles sends a digest of freshly ingested articles to the user's chat
func (b *Bot) NotifyNewArticles(ctx context.Context, user *appmodels.User, articles []*appmodels.Article) error {
	if !user.TelegramChatID.Valid || len(articles) == 0 {
		return nil
	}
	_, err := b.sendMessage(ctx, user.TelegramChatID.Int64, b.formatter.FormatDigest(articles))
	return err
}

// defaultHandler handles unknown messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	if strings.HasPrefix(update.Message.Text, "/") {
		b.logger.Debug("unknown command", "text", update.Message.Text)
		b.sendMessage(ctx, update.Message.Chat.ID, "Unknown command. See /help.")
	}
}

// matchCommand matches "/name", "/name args", "/name@bot" and "/name_arg"
func matchCommand(name string) bot.MatchFunc {
	return func(update *models.Update) bool {
		if update.Message == nil {
			return false
		}
		cmd, _ := parseCommand(update.Message.Text)
		return cmd == name
	}
}

// parseCommand splits a message into its command name and arguments.
// "/read_12" yields ("read", ["12"]) so digest links work as commands.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}

	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	cmd = strings.ToLower(cmd)
	args := fields[1:]

	if rest, ok := strings.CutPrefix(cmd, "read_"); ok && rest != "" {
		return "read", append([]string{rest}, args...)
	}
	return cmd, args
}
