package telegram

import (
	"context"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/whittle/internal/formatter"
)

const failedText = "Something went wrong, please try again."

// reply sends the result of an action, or a generic failure
func (b *Bot) reply(ctx context.Context, msg *models.Message, command string, r Reply, err error) {
	if err != nil {
		b.logger.Error("command failed", "command", command, "chat_id", msg.Chat.ID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, failedText)
		return
	}

	if r.Keyboard != nil {
		_, err = b.sendMessageWithKeyboard(ctx, msg.Chat.ID, r.Text, r.Keyboard)
	} else {
		_, err = b.sendMessage(ctx, msg.Chat.ID, r.Text)
	}
	if err != nil {
		b.logger.Error("failed to send reply", "command", command, "chat_id", msg.Chat.ID, "error", err)
	}
}

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	r, err := b.actions.Start(ctx, msg.Chat.ID)
	b.reply(ctx, msg, "start", r, err)
}

// handleHelp handles /help command
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.reply(ctx, update.Message, "help", b.actions.Help(), nil)
}

// handleConnect handles /connect command
func (b *Bot) handleConnect(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	r, err := b.actions.Connect(ctx, msg.Chat.ID)
	b.reply(ctx, msg, "connect", r, err)
}

// handleConnectIMAP handles /connect_imap command
// Usage: /connect_imap email password [imap_server]
func (b *Bot) handleConnectIMAP(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	// Delete the message with password immediately
	if err := b.deleteMessage(ctx, msg.Chat.ID, msg.ID); err != nil {
		b.logger.Warn("failed to delete connect message", "error", err)
	}

	_, args := parseCommand(msg.Text)
	if len(args) >= 2 {
		b.sendMessage(ctx, msg.Chat.ID, "Checking the connection...")
	}
	r, err := b.actions.ConnectIMAP(ctx, msg.Chat.ID, args)
	b.reply(ctx, msg, "connect_imap", r, err)
}

// handleBoxes handles /boxes command
func (b *Bot) handleBoxes(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	r, err := b.actions.Boxes(ctx, msg.Chat.ID)
	b.reply(ctx, msg, "boxes", r, err)
}

// handleBox handles /box command
func (b *Bot) handleBox(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	_, args := parseCommand(msg.Text)
	r, err := b.actions.Box(ctx, msg.Chat.ID, strings.Join(args, " "))
	b.reply(ctx, msg, "box", r, err)
}

// handleRead handles /read ID and /read_ID
func (b *Bot) handleRead(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	_, args := parseCommand(msg.Text)
	var id string
	if len(args) > 0 {
		id = args[0]
	}
	r, err := b.actions.Read(ctx, msg.Chat.ID, id)
	b.reply(ctx, msg, "read", r, err)
}

// handleSearch handles /search command
func (b *Bot) handleSearch(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	_, args := parseCommand(msg.Text)
	r, err := b.actions.Search(ctx, msg.Chat.ID, args)
	b.reply(ctx, msg, "search", r, err)
}

// handleAutoArchive handles /autoarchive command
func (b *Bot) handleAutoArchive(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	_, args := parseCommand(msg.Text)
	r, err := b.actions.AutoArchive(ctx, msg.Chat.ID, strings.Join(args, ""))
	b.reply(ctx, msg, "autoarchive", r, err)
}

// handleSubscribe handles /subscribe command
func (b *Bot) handleSubscribe(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	_, args := parseCommand(msg.Text)
	r, err := b.actions.Subscribe(ctx, msg.Chat.ID, strings.Join(args, ""))
	b.reply(ctx, msg, "subscribe", r, err)
}

// handleUnsubscribe handles /unsubscribe command
func (b *Bot) handleUnsubscribe(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	_, args := parseCommand(msg.Text)
	r, err := b.actions.Unsubscribe(ctx, msg.Chat.ID, strings.Join(args, ""))
	b.reply(ctx, msg, "unsubscribe", r, err)
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	chatID := callback.From.ID
	msg := callback.Message.Message
	if msg != nil {
		chatID = msg.Chat.ID
	}

	answer, keyboard, err := b.actions.Callback(ctx, chatID, data)
	if err != nil {
		b.logger.Error("callback failed", "action", data.Action, "article_id", data.ArticleID, "error", err)
		b.answerCallback(ctx, callback.ID, "Error: "+err.Error(), false)
		return
	}

	if keyboard != nil && msg != nil {
		if err := b.editMessageReplyMarkup(ctx, msg.Chat.ID, msg.ID, keyboard); err != nil {
			b.logger.Warn("failed to update keyboard", "error", err)
		}
	}
	b.answerCallback(ctx, callback.ID, answer, false)
}
