package database_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/internal/database/dbtest"
)

func TestCheckpointHistory(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	accounts := database.NewAccounts(db)
	user := dbtest.User(t, db, "reader@example.com")

	checkpoint, err := accounts.LatestCheckpoint(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, checkpoint, "never synced")

	require.NoError(t, accounts.AppendCheckpoint(ctx, user.ID, "100"))
	require.NoError(t, accounts.AppendCheckpoint(ctx, user.ID, "250"))

	checkpoint, err = accounts.LatestCheckpoint(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "250", checkpoint)

	var rows int
	require.NoError(t, db.GetContext(ctx, &rows, `SELECT COUNT(*) FROM sync_checkpoints WHERE user_id = ?`, user.ID))
	assert.Equal(t, 2, rows, "older checkpoints are kept")
}

func TestGetOrCreateUserConfig(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	accounts := database.NewAccounts(db)
	user := dbtest.User(t, db, "reader@example.com")

	cfg, err := accounts.GetOrCreateUserConfig(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, cfg.AutoArchive)
	assert.True(t, cfg.NotifyNewArticles)

	cfg.AutoArchive = true
	require.NoError(t, accounts.UpdateUserConfig(ctx, cfg))

	again, err := accounts.GetOrCreateUserConfig(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, again.AutoArchive, "existing config is not reset")
}

func TestLatestCredential(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	accounts := database.NewAccounts(db)
	user := dbtest.User(t, db, "reader@example.com")

	_, err := accounts.LatestCredential(ctx, user.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	require.NoError(t, accounts.AppendCredential(ctx, user.ID, "gmail", "old"))
	require.NoError(t, accounts.AppendCredential(ctx, user.ID, "gmail", "new"))

	cred, err := accounts.LatestCredential(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", cred.Credentials)

	users, err := accounts.ListUsersWithCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, user.ID, users[0].ID)
}

func TestUserChatLink(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	accounts := database.NewAccounts(db)
	first := dbtest.User(t, db, "a@example.com")
	second := dbtest.User(t, db, "b@example.com")

	require.NoError(t, accounts.SetUserChat(ctx, first.ID, 42))

	found, err := accounts.GetUserByChatID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	err = accounts.SetUserChat(ctx, second.ID, 42)
	assert.ErrorIs(t, err, database.ErrAlreadyExists)

	_, err = accounts.GetUserByChatID(ctx, 7)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestOAuthState(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	accounts := database.NewAccounts(db)
	user := dbtest.User(t, db, "")

	require.NoError(t, accounts.CreateOAuthState(ctx, user.ID, "abc"))
	assert.ErrorIs(t, accounts.CreateOAuthState(ctx, user.ID, "abc"), database.ErrAlreadyExists)

	state, err := accounts.GetOAuthState(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, user.ID, state.UserID)

	_, err = accounts.GetOAuthState(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	user := dbtest.User(t, db, "reader@example.com")

	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := database.NewAccounts(tx).AppendCheckpoint(ctx, user.ID, "1"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	checkpoint, err := database.NewAccounts(db).LatestCheckpoint(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, checkpoint)
}
