// Package imap implements the mailbox contract over IMAP.
// Checkpoints have the form "<uidvalidity>:<last uid>".
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/mixelka/whittle/internal/mail"
)

const inbox = "INBOX"

// Config configuration for IMAP client
type Config struct {
	Username       string
	Password       string
	Server         string // host:port
	DialTimeout    time.Duration
	ArchiveMailbox string
	Plaintext      bool // Skip TLS, for local bridges
	Now            func() time.Time
}

// Client IMAP client for a single mailbox
type Client struct {
	config    Config
	client    *client.Client
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
}

var _ mail.Client = (*Client)(nil)

// NewClient creates a new IMAP client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.ArchiveMailbox == "" {
		cfg.ArchiveMailbox = "Archive"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		config: cfg,
		logger: logger.With("component", "imap", "email", cfg.Username),
	}
}

// Connect connects and logs in to the IMAP server
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.connected {
		return nil
	}

	c.logger.Debug("connecting to IMAP server", "server", c.config.Server)

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	var conn net.Conn
	var err error
	if c.config.Plaintext {
		conn, err = dialer.DialContext(ctx, "tcp", c.config.Server)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.config.Server, nil)
	}
	if err != nil {
		return mail.Transient(fmt.Errorf("failed to connect: %w", err))
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return mail.Transient(fmt.Errorf("failed to create IMAP client: %w", err))
	}

	if err := imapClient.Login(c.config.Username, c.config.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	c.client = imapClient
	c.connected = true
	return nil
}

// Close logs out
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}
	c.connected = false
	err := c.client.Logout()
	c.client = nil
	return err
}

// ListMessagesSince returns UIDs above the checkpoint, oldest first.
// A missing checkpoint or a UIDVALIDITY change searches the initial window instead.
func (c *Client) ListMessagesSince(ctx context.Context, checkpoint string) ([]string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mbox, err := c.selectInbox(ctx)
	if err != nil {
		return nil, "", err
	}

	validity, last, ok := parseCheckpoint(checkpoint)
	if ok && validity != mbox.UidValidity {
		c.logger.Warn("uidvalidity changed, relisting window", "old", validity, "new", mbox.UidValidity)
		ok = false
	}
	if !ok {
		last = 0
	}

	criteria := imap.NewSearchCriteria()
	if ok {
		seqSet := new(imap.SeqSet)
		seqSet.AddRange(last+1, 0) // 0 means *
		criteria.Uid = seqSet
	} else {
		criteria.Since = mail.SinceWindow(c.config.Now())
	}

	found, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, "", c.fail(fmt.Errorf("failed to search: %w", err))
	}

	// "n:*" always matches the highest UID, even when it is below n
	var uids []uint32
	for _, uid := range found {
		if uid > last {
			uids = append(uids, uid)
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	highest := last
	if len(uids) > 0 {
		highest = uids[len(uids)-1]
	} else if !ok && mbox.UidNext > 0 {
		highest = mbox.UidNext - 1
	}

	ids := make([]string, len(uids))
	for i, uid := range uids {
		ids[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return ids, formatCheckpoint(mbox.UidValidity, highest), nil
}

// FetchMessage fetches one message by UID without setting \Seen
func (c *Client) FetchMessage(ctx context.Context, id string, format mail.Format) (*mail.Message, error) {
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.selectInbox(ctx); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	if format == mail.FormatMetadata {
		section.Specifier = imap.HeaderSpecifier
	}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var found *imap.Message
	for msg := range messages {
		if msg.Uid == uid {
			found = msg
		}
	}

	if err := <-done; err != nil {
		return nil, c.fail(fmt.Errorf("failed to fetch: %w", err))
	}
	if found == nil {
		return nil, nil
	}

	return parseMessage(found, section, format, c.logger)
}

// Archive moves the message to the archive mailbox.
// Without MOVE support it falls back to copy, flag and expunge, which also
// expunges any other message already flagged \Deleted in INBOX.
func (c *Client) Archive(ctx context.Context, id string) error {
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.selectInbox(ctx); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	canMove, err := c.client.Support("MOVE")
	if err != nil {
		return c.fail(fmt.Errorf("failed to read capabilities: %w", err))
	}
	if canMove {
		if err := c.client.UidMove(seqSet, c.config.ArchiveMailbox); err != nil {
			return c.fail(fmt.Errorf("failed to move to %s: %w", c.config.ArchiveMailbox, err))
		}
		return nil
	}

	if err := c.client.UidCopy(seqSet, c.config.ArchiveMailbox); err != nil {
		return c.fail(fmt.Errorf("failed to copy to %s: %w", c.config.ArchiveMailbox, err))
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}
	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return c.fail(fmt.Errorf("failed to mark as deleted: %w", err))
	}

	if err := c.client.Expunge(nil); err != nil {
		return c.fail(fmt.Errorf("failed to expunge: %w", err))
	}

	return nil
}

// Profile returns the login address
func (c *Client) Profile(ctx context.Context) (string, error) {
	return c.config.Username, nil
}

// selectInbox connects if needed and selects INBOX read-write; caller holds mu
func (c *Client) selectInbox(ctx context.Context) (*imap.MailboxStatus, error) {
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(inbox, false)
	if err != nil {
		return nil, c.fail(fmt.Errorf("failed to select INBOX: %w", err))
	}
	return mbox, nil
}

// fail drops a broken connection so the next call reconnects; network failures are transient
func (c *Client) fail(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, client.ErrNotLoggedIn) {
		c.connected = false
		if c.client != nil {
			c.client.Terminate()
			c.client = nil
		}
		return mail.Transient(err)
	}
	return err
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid message uid %q", id)
	}
	return uint32(uid), nil
}

func parseCheckpoint(checkpoint string) (validity, uid uint32, ok bool) {
	v, u, found := strings.Cut(checkpoint, ":")
	if !found {
		return 0, 0, false
	}
	pv, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	pu, err := strconv.ParseUint(u, 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(pv), uint32(pu), true
}

func formatCheckpoint(validity, uid uint32) string {
	return fmt.Sprintf("%d:%d", validity, uid)
}
