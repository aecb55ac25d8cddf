package syncer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/whittle/internal/classifier"
	"github.com/mixelka/whittle/internal/content"
	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/internal/database/dbtest"
	"github.com/mixelka/whittle/internal/mail"
	"github.com/mixelka/whittle/internal/syncer"
	"github.com/mixelka/whittle/internal/transform"
	"github.com/mixelka/whittle/internal/triage"
	"github.com/mixelka/whittle/pkg/models"
)

// fakeMailbox lists messages by position; the checkpoint is the count already seen
type fakeMailbox struct {
	mu        sync.Mutex
	order     []string
	messages  map[string]*mail.Message
	fullErr   map[string]error
	listErr   error
	archived  []string
	onArchive func(id string)
	closed    int
	fullCalls int
}

func newMailbox() *fakeMailbox {
	return &fakeMailbox{messages: map[string]*mail.Message{}, fullErr: map[string]error{}}
}

func (f *fakeMailbox) add(id, from, subject, body string, unread bool) {
	msg := &mail.Message{
		ID:           id,
		InternalDate: time.Date(2024, 5, 1, 8, len(f.order), 0, 0, time.UTC),
		Payload: mail.Part{
			MimeType: "text/html",
			Headers: []mail.Header{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
				{Name: "Content-Type", Value: "text/html; charset=utf-8"},
			},
			Body: body,
		},
	}
	if unread {
		msg.Labels = []string{mail.LabelUnread}
	}
	f.order = append(f.order, id)
	f.messages[id] = msg
}

func (f *fakeMailbox) ListMessagesSince(_ context.Context, checkpoint string) ([]string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	seen := 0
	if checkpoint != "" {
		seen, _ = strconv.Atoi(checkpoint)
	}
	ids := append([]string(nil), f.order[seen:]...)
	return ids, strconv.Itoa(len(f.order)), nil
}

func (f *fakeMailbox) FetchMessage(_ context.Context, id string, format mail.Format) (*mail.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if format == mail.FormatFull {
		f.fullCalls++
		if err := f.fullErr[id]; err != nil {
			return nil, err
		}
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, nil
	}
	return msg, nil
}

func (f *fakeMailbox) Archive(_ context.Context, id string) error {
	if f.onArchive != nil {
		f.onArchive(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, id)
	return nil
}

func (f *fakeMailbox) Profile(context.Context) (string, error) { return "reader@example.com", nil }

func (f *fakeMailbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type fakeFactory map[int64]*fakeMailbox

func (f fakeFactory) ClientFor(_ context.Context, userID int64) (mail.Client, error) {
	box, ok := f[userID]
	if !ok {
		return nil, mail.ErrNoCredentials
	}
	return box, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	articles []*models.Article
}

func (r *recordingNotifier) NotifyNewArticles(_ context.Context, _ *models.User, articles []*models.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.articles = append(r.articles, articles...)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	db       *database.DB
	orch     *syncer.Orchestrator
	factory  fakeFactory
	notifier *recordingNotifier
	engine   *triage.Engine
	store    *content.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.New(t)
	factory := fakeFactory{}
	notifier := &recordingNotifier{}

	orch := syncer.New(syncer.Deps{
		DB:          db,
		Clients:     factory,
		Classifier:  classifier.New(discard()),
		Transformer: transform.NewTransformer(),
		Notifier:    notifier,
		Retry:       mail.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Concurrency: 2,
		Logger:      discard(),
	})

	return &fixture{
		db:       db,
		orch:     orch,
		factory:  factory,
		notifier: notifier,
		engine:   triage.NewEngine(db, nil, discard()),
		store:    content.NewStore(db, discard()),
	}
}

func (f *fixture) user(t *testing.T, email string, box *fakeMailbox) *models.User {
	t.Helper()
	user := dbtest.User(t, f.db, email)
	_, err := f.engine.SeedBoxes(context.Background(), user.ID)
	require.NoError(t, err)
	require.NoError(t, database.NewAccounts(f.db).AppendCredential(context.Background(), user.ID, models.ProviderIMAP, "sealed"))
	f.factory[user.ID] = box
	return user
}

func (f *fixture) idsIn(t *testing.T, userID int64, name string) []int64 {
	t.Helper()
	box, err := f.engine.BoxByName(context.Background(), userID, name)
	require.NoError(t, err)
	ids, err := f.store.ListByBox(context.Background(), userID, box.ID)
	require.NoError(t, err)
	return ids
}

func TestSyncUserIngestsNewsletters(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("m1", "Morning Brew <crew@morningbrew.com>", "Today's brew", "<h1>Markets</h1><p>Stocks rose</p>", true)
	box.add("m2", "Friend <friend@example.com>", "Lunch?", "<p>hi</p>", true)
	box.add("m3", "Writer <writer@substack.com>", "Complete your signup", "<p>confirm</p>", true)
	user := f.user(t, "reader@example.com", box)

	report, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)
	assert.Equal(t, syncer.Report{Listed: 3, Accepted: 1, Created: 1, Skipped: 2}, report)

	inbox := f.idsIn(t, user.ID, models.BoxInbox)
	require.Len(t, inbox, 1)

	article, err := f.store.GetByID(ctx, inbox[0], &user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Today's brew", article.Title)
	assert.Equal(t, "crew@morningbrew.com", article.Source)
	assert.Equal(t, "Morning Brew", article.Author)
	assert.Equal(t, "##### [Markets](#whittle_anchor_0)  \n\n", article.Outline)
	assert.Equal(t, "Markets Stocks rose", article.TextContent)

	checkpoint, err := database.NewAccounts(f.db).LatestCheckpoint(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", checkpoint)

	assert.Len(t, f.notifier.articles, 1)
	assert.Equal(t, 1, box.closed)
}

func TestSyncUserResumesFromCheckpoint(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("m1", "crew@morningbrew.com", "One", "<p>one</p>", true)
	user := f.user(t, "reader@example.com", box)

	_, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)

	box.add("m2", "crew@morningbrew.com", "Two", "<p>two</p>", true)
	report, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Listed, "only messages after the checkpoint")
	assert.Equal(t, 1, report.Created)
	assert.Len(t, f.idsIn(t, user.ID, models.BoxInbox), 2)

	report, err = f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Listed)
}

func TestSyncUserSkipsDuplicates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("m1", "crew@morningbrew.com", "One", "<p>one</p>", true)
	user := f.user(t, "reader@example.com", box)

	_, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)

	// Lose the checkpoint so the same message is listed again
	_, err = f.db.Exec(`DELETE FROM sync_checkpoints`)
	require.NoError(t, err)

	report, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Zero(t, report.Created)
	assert.Len(t, f.idsIn(t, user.ID, models.BoxInbox), 1)
}

func TestSyncUserRollsBackOnTransientFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("m1", "crew@morningbrew.com", "One", "<p>one</p>", true)
	box.add("m2", "crew@morningbrew.com", "Two", "<p>two</p>", true)
	box.fullErr["m2"] = mail.Transient(errors.New("503"))
	user := f.user(t, "reader@example.com", box)

	_, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.Error(t, err)
	assert.True(t, mail.IsTransient(err))
	assert.Equal(t, 1+3, box.fullCalls, "m1 once, m2 until retries ran out")

	checkpoint, err := database.NewAccounts(f.db).LatestCheckpoint(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, checkpoint, "checkpoint not advanced")
	assert.Empty(t, f.idsIn(t, user.ID, models.BoxInbox))
	assert.Empty(t, f.notifier.articles)

	// Next run picks everything up
	delete(box.fullErr, "m2")
	report, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
}

func TestHandleAccountConnectedRoutesReadMail(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("read", "crew@morningbrew.com", "Old", "<p>old</p>", false)
	box.add("unread", "crew@morningbrew.com", "New", "<p>new</p>", true)
	user := f.user(t, "reader@example.com", box)

	require.NoError(t, f.orch.HandleAccountConnected(ctx, user.ID))

	assert.Len(t, f.idsIn(t, user.ID, models.BoxInbox), 1)
	assert.Len(t, f.idsIn(t, user.ID, models.BoxLibrary), 1)
	assert.Empty(t, box.archived, "auto-archive is off by default")
}

func (f *fixture) enableAutoArchive(t *testing.T, userID int64) {
	t.Helper()
	accounts := database.NewAccounts(f.db)
	cfg, err := accounts.GetOrCreateUserConfig(context.Background(), userID)
	require.NoError(t, err)
	cfg.AutoArchive = true
	require.NoError(t, accounts.UpdateUserConfig(context.Background(), cfg))
}

func (f *fixture) triageRows(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Get(&n, `SELECT COUNT(*) FROM triages`))
	return n
}

func TestHandleAccountConnectedArchivesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("r1", "crew@morningbrew.com", "One", "<p>one</p>", false)
	box.add("r2", "crew@morningbrew.com", "Two", "<p>two</p>", false)
	user := f.user(t, "reader@example.com", box)
	f.enableAutoArchive(t, user.ID)

	require.NoError(t, f.orch.HandleAccountConnected(ctx, user.ID))
	assert.Len(t, f.idsIn(t, user.ID, models.BoxLibrary), 2)
	assert.ElementsMatch(t, []string{"r1", "r2"}, box.archived)
	rows := f.triageRows(t)
	assert.Equal(t, 2, rows)

	// Lose the checkpoint so the same messages are listed again
	_, err := f.db.Exec(`DELETE FROM sync_checkpoints`)
	require.NoError(t, err)

	require.NoError(t, f.orch.HandleAccountConnected(ctx, user.ID))
	assert.Equal(t, rows, f.triageRows(t), "duplicates add no placements")
	assert.Len(t, box.archived, 2, "duplicates are not archived again")
	assert.Len(t, f.idsIn(t, user.ID, models.BoxLibrary), 2)
}

func TestSyncUserArchivesAfterCommit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("r1", "crew@morningbrew.com", "One", "<p>one</p>", false)
	user := f.user(t, "reader@example.com", box)
	f.enableAutoArchive(t, user.ID)

	// Runs on its own connection, so it only sees committed rows
	var visible []int
	box.onArchive = func(id string) {
		var n int
		require.NoError(t, f.db.Get(&n, `
			SELECT COUNT(*) FROM triages t
			JOIN articles a ON a.id = t.article_id
			WHERE a.provider_message_id = ? AND t.is_active = 1`, id))
		visible = append(visible, n)
	}

	_, err := f.orch.SyncUser(ctx, user, syncer.Options{RouteReadToLibrary: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, box.archived)
	assert.Equal(t, []int{1}, visible)
}

func TestSyncUserUsesUserSubscriptions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	box := newMailbox()
	box.add("m1", "Local <digest@example.org>", "Digest", "<p>news</p>", true)
	user := f.user(t, "reader@example.com", box)

	_, err := f.store.Subscribe(ctx, user.ID, "digest@example.org")
	require.NoError(t, err)

	report, err := f.orch.SyncUser(ctx, user, syncer.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	good := newMailbox()
	good.add("m1", "crew@morningbrew.com", "One", "<p>one</p>", true)
	f.user(t, "good@example.com", good)

	bad := newMailbox()
	bad.listErr = errors.New("auth revoked")
	f.user(t, "bad@example.com", bad)

	summary, err := f.orch.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncer.Summary{Users: 2, Failed: 1, Created: 1}, summary)
}

func TestSchedulerRunOnce(t *testing.T) {
	f := setup(t)
	box := newMailbox()
	box.add("m1", "crew@morningbrew.com", "One", "<p>one</p>", true)
	user := f.user(t, "reader@example.com", box)

	s := syncer.NewScheduler(f.orch, time.Hour, true, discard())
	require.NoError(t, s.Run(context.Background()))
	assert.Len(t, f.idsIn(t, user.ID, models.BoxInbox), 1)
}

func TestSchedulerStopsWithContext(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- syncer.NewScheduler(f.orch, time.Hour, false, discard()).Run(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
