// Package dbtest opens migrated throwaway databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/pkg/models"
)

// New creates a migrated SQLite database in a temp dir.
// It automatically closes the database when the test completes.
func New(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "whittle.db"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing test database: %v", err)
		}
	})

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	return db
}

// User inserts a bare user row.
func User(t *testing.T, db *database.DB, email string) *models.User {
	t.Helper()

	user, err := database.NewAccounts(db).CreateUser(context.Background(), email)
	if err != nil {
		t.Fatalf("creating test user: %v", err)
	}
	return user
}

// Article inserts an article received at the given time.
func Article(t *testing.T, db *database.DB, userID int64, messageID string, receivedAt time.Time) *models.Article {
	t.Helper()

	result, err := db.Exec(
		`INSERT INTO articles (user_id, title, source, provider_message_id, message_received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, "Article "+messageID, "news@example.com", messageID, receivedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("creating test article: %v", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("reading article id: %v", err)
	}

	var article models.Article
	if err := db.Get(&article, `SELECT * FROM articles WHERE id = ?`, id); err != nil {
		t.Fatalf("loading test article: %v", err)
	}
	return &article
}
