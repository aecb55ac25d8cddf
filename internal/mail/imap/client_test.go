package imap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/whittle/internal/mail"
)

const newsletter = "From: TechCrunch <newsletter@techcrunch.com>\r\n" +
	"To: username@example.org\r\n" +
	"Subject: Weekly roundup\r\n" +
	"Date: Mon, 18 Mar 2024 08:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Weekly\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<h1>Weekly</h1>\r\n" +
	"--b1--\r\n"

func startServer(t *testing.T) (string, backend.User) {
	t.Helper()

	be := memory.New()
	user, err := be.Login(nil, "username", "password")
	require.NoError(t, err)
	require.NoError(t, user.CreateMailbox("Archive"))

	s := server.New(be)
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	return l.Addr().String(), user
}

func addMessage(t *testing.T, user backend.User, raw string, flags []string) {
	t.Helper()

	mbox, err := user.GetMailbox(inbox)
	require.NoError(t, err)
	require.NoError(t, mbox.CreateMessage(flags, time.Now(), bytes.NewBufferString(raw)))
}

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()

	c := NewClient(Config{
		Username:  "username",
		Password:  "password",
		Server:    addr,
		Plaintext: true,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientIncrementalSync(t *testing.T) {
	addr, user := startServer(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, first, err := c.ListMessagesSince(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, first, ":")

	addMessage(t, user, newsletter, nil)

	ids, second, err := c.ListMessagesSince(ctx, first)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEqual(t, first, second)

	msg, err := c.FetchMessage(ctx, ids[0], mail.FormatFull)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "Weekly roundup", msg.Subject())
	assert.True(t, msg.IsUnread())

	name, address, ok := msg.Sender()
	require.True(t, ok)
	assert.Equal(t, "TechCrunch", name)
	assert.Equal(t, "newsletter@techcrunch.com", address)

	html, ok := msg.HTMLBody()
	require.True(t, ok)
	assert.Contains(t, html, "<h1>Weekly</h1>")

	meta, err := c.FetchMessage(ctx, ids[0], mail.FormatMetadata)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "Weekly roundup", meta.Subject())
	assert.Empty(t, meta.Payload.Parts)

	again, third, err := c.ListMessagesSince(ctx, second)
	require.NoError(t, err)
	assert.Empty(t, again, "no overlap between runs")
	assert.Equal(t, second, third)
}

func TestClientReadMessageIsNotUnread(t *testing.T) {
	addr, user := startServer(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, checkpoint, err := c.ListMessagesSince(ctx, "")
	require.NoError(t, err)

	addMessage(t, user, newsletter, []string{imap.SeenFlag})

	ids, _, err := c.ListMessagesSince(ctx, checkpoint)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	msg, err := c.FetchMessage(ctx, ids[0], mail.FormatMetadata)
	require.NoError(t, err)
	assert.False(t, msg.IsUnread())
}

func TestClientArchive(t *testing.T) {
	addr, user := startServer(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	_, checkpoint, err := c.ListMessagesSince(ctx, "")
	require.NoError(t, err)
	addMessage(t, user, newsletter, nil)

	ids, _, err := c.ListMessagesSince(ctx, checkpoint)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, c.Archive(ctx, ids[0]))

	gone, err := c.FetchMessage(ctx, ids[0], mail.FormatFull)
	require.NoError(t, err)
	assert.Nil(t, gone)

	archive, err := user.GetMailbox("Archive")
	require.NoError(t, err)
	status, err := archive.Status([]imap.StatusItem{imap.StatusMessages})
	require.NoError(t, err)
	assert.EqualValues(t, 1, status.Messages)
}

func TestClientArchiveLeavesOtherDeletedMessages(t *testing.T) {
	addr, user := startServer(t)
	c := newTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	canMove, err := c.client.Support("MOVE")
	require.NoError(t, err)
	if !canMove {
		t.Skip("server does not advertise MOVE")
	}

	_, checkpoint, err := c.ListMessagesSince(ctx, "")
	require.NoError(t, err)
	addMessage(t, user, newsletter, []string{imap.DeletedFlag})
	addMessage(t, user, newsletter, nil)

	ids, _, err := c.ListMessagesSince(ctx, checkpoint)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	require.NoError(t, c.Archive(ctx, ids[1]))

	flagged, err := c.FetchMessage(ctx, ids[0], mail.FormatMetadata)
	require.NoError(t, err)
	assert.NotNil(t, flagged, "a message flagged by someone else stays in INBOX")

	archived, err := c.FetchMessage(ctx, ids[1], mail.FormatMetadata)
	require.NoError(t, err)
	assert.Nil(t, archived)
}

func TestClientUIDValidityChange(t *testing.T) {
	addr, _ := startServer(t)
	c := newTestClient(t, addr)

	_, checkpoint, err := c.ListMessagesSince(context.Background(), "999999:5")
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(checkpoint, "999999:"))
}

func TestParseCheckpoint(t *testing.T) {
	validity, uid, ok := parseCheckpoint("7:42")
	require.True(t, ok)
	assert.EqualValues(t, 7, validity)
	assert.EqualValues(t, 42, uid)

	for _, bad := range []string{"", "42", "a:1", "1:b"} {
		_, _, ok := parseCheckpoint(bad)
		assert.False(t, ok, bad)
	}
}

func TestResolver(t *testing.T) {
	ctx := context.Background()
	reachable := map[string]bool{"mail.example.org:993": true, "imap.mxhost.net:993": true}

	r := &Resolver{
		probe: func(_ context.Context, address string) bool { return reachable[address] },
		lookupMX: func(_ context.Context, domain string) ([]*net.MX, error) {
			return []*net.MX{{Host: "mx1.mxhost.net.", Pref: 10}}, nil
		},
	}

	server, err := r.Resolve(ctx, "someone@Gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "imap.gmail.com:993", server)

	server, err = r.Resolve(ctx, "someone@example.org")
	require.NoError(t, err)
	assert.Equal(t, "mail.example.org:993", server)

	server, err = r.Resolve(ctx, "someone@custom.io")
	require.NoError(t, err)
	assert.Equal(t, "imap.mxhost.net:993", server)

	_, err = r.Resolve(ctx, "not-an-address")
	assert.Error(t, err)
}
