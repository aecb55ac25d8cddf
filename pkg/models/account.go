package models

import (
	"database/sql"
	"time"
)

// Mail providers a credential can belong to
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// User represents a person whose mailbox is triaged
type User struct {
	ID             int64         `db:"id"`
	Email          string        `db:"email"`            // Mailbox address, empty until an account is connected
	TelegramChatID sql.NullInt64 `db:"telegram_chat_id"` // Private chat linked via /start
	CreatedAt      time.Time     `db:"created_at"`
}

// UserConfig per-user preferences
type UserConfig struct {
	UserID            int64     `db:"user_id"`
	AutoArchive       bool      `db:"auto_archive"`        // Archive the mail when an article lands in Library
	NotifyNewArticles bool      `db:"notify_new_articles"` // Send a Telegram digest after each sync
	CreatedAt         time.Time `db:"created_at"`
}

// SyncCheckpoint is one entry of the append-only checkpoint history
type SyncCheckpoint struct {
	ID         int64     `db:"id"`
	UserID     int64     `db:"user_id"`
	Checkpoint string    `db:"checkpoint"` // Opaque provider cursor (history id, uidvalidity:uid)
	CreatedAt  time.Time `db:"created_at"`
}

// MailCredential is one entry of the append-only credential history
type MailCredential struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Provider    string    `db:"provider"`
	Credentials string    `db:"credentials"` // Encrypted JSON
	CreatedAt   time.Time `db:"created_at"`
}

// OAuthState binds an authorization request to the user who started it
type OAuthState struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	State     string    `db:"state"`
	CreatedAt time.Time `db:"created_at"`
}
