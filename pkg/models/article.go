package models

import "time"

// Names of the boxes every user starts with
const (
	BoxInbox   = "Inbox"
	BoxQueue   = "Queue"
	BoxLibrary = "Library"
)

// Article is a newsletter message converted for reading
type Article struct {
	ID                int64     `db:"id"`
	UserID            int64     `db:"user_id"`
	Title             string    `db:"title"`
	Source            string    `db:"source"` // Sender address
	Author            string    `db:"author"` // Sender display name
	Outline           string    `db:"outline"`
	TextContent       string    `db:"text_content"`
	HTMLContent       string    `db:"html_content"`
	ProviderMessageID string    `db:"provider_message_id"`
	MessageReceivedAt time.Time `db:"message_received_at"`
	Bookmarked        bool      `db:"bookmarked"`
	CreatedAt         time.Time `db:"created_at"`
}

// Box is a named triage bucket owned by a user
type Box struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Triage records an article being placed in a box
type Triage struct {
	ID        int64     `db:"id"`
	ArticleID int64     `db:"article_id"`
	BoxID     int64     `db:"box_id"`
	IsActive  bool      `db:"is_active"` // Only the current placement is active
	CreatedAt time.Time `db:"created_at"`
}

// Subscription is a sender rule: both patterns are matched case-insensitively
type Subscription struct {
	ID          int64     `db:"id"`
	FromAddress string    `db:"from_address"`
	Name        string    `db:"name"`
	CreatedAt   time.Time `db:"created_at"`
}

// UserSubscription links a user to a subscription
type UserSubscription struct {
	ID             int64     `db:"id"`
	UserID         int64     `db:"user_id"`
	SubscriptionID int64     `db:"subscription_id"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
}
