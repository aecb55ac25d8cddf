// Package gmail implements the mailbox contract on the Gmail REST API.
// Checkpoints are Gmail history ids.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/mixelka/whittle/internal/mail"
)

const (
	me            = "me"
	listPageSize  = 500
	labelInbox    = "INBOX"
	historyAdded  = "messageAdded"
	searchDateFmt = "2006/01/02"
)

// Config for a Gmail client
type Config struct {
	RequestsPerSecond float64
	Endpoint          string // Overrides the API base URL, used by tests
	Now               func() time.Time
}

// Client is one user's Gmail mailbox
type Client struct {
	svc     *gmailapi.Service
	limiter *rate.Limiter
	now     func() time.Time
	logger  *slog.Logger
}

var _ mail.Client = (*Client)(nil)

// NewClient creates a Gmail client over an authorized HTTP client
func NewClient(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Client, error) {
	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		svc:     svc,
		limiter: rate.NewLimiter(limit, 1),
		now:     now,
		logger:  logger.With("component", "gmail"),
	}, nil
}

// ListMessagesSince lists new message ids. Without a checkpoint it searches the initial window.
func (c *Client) ListMessagesSince(ctx context.Context, checkpoint string) ([]string, string, error) {
	if checkpoint == "" {
		return c.listWindow(ctx)
	}

	startID, err := strconv.ParseUint(checkpoint, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("invalid gmail checkpoint %q: %w", checkpoint, err)
	}

	ids, next, err := c.listHistory(ctx, startID)
	if isNotFound(err) {
		// History ids expire after about a week
		c.logger.Warn("history checkpoint expired, relisting window", "checkpoint", checkpoint)
		return c.listWindow(ctx)
	}
	return ids, next, err
}

// listWindow searches messages received during the initial sync window
func (c *Client) listWindow(ctx context.Context) ([]string, string, error) {
	query := "after:" + mail.SinceWindow(c.now().UTC()).Format(searchDateFmt)

	var ids []string
	pageToken := ""
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		call := c.svc.Users.Messages.List(me).Q(query).MaxResults(listPageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, "", classify(fmt.Errorf("failed to list messages: %w", err))
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	next, err := c.checkpointAfterWindow(ctx, ids)
	if err != nil {
		return nil, "", err
	}
	return ids, next, nil
}

// checkpointAfterWindow takes the history id of the newest listed message,
// or the mailbox's current one when the window is empty
func (c *Client) checkpointAfterWindow(ctx context.Context, ids []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	if len(ids) > 0 {
		msg, err := c.svc.Users.Messages.Get(me, ids[0]).Format("minimal").Context(ctx).Do()
		if err != nil {
			return "", classify(fmt.Errorf("failed to get newest message: %w", err))
		}
		return strconv.FormatUint(msg.HistoryId, 10), nil
	}

	profile, err := c.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("failed to get profile: %w", err))
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// listHistory walks added-message history from startID until the last page
func (c *Client) listHistory(ctx context.Context, startID uint64) ([]string, string, error) {
	var ids []string
	seen := make(map[string]bool)
	next := strconv.FormatUint(startID, 10)
	pageToken := ""

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", err
		}

		call := c.svc.Users.History.List(me).StartHistoryId(startID).HistoryTypes(historyAdded).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			if isNotFound(err) {
				return nil, "", err
			}
			return nil, "", classify(fmt.Errorf("failed to list history: %w", err))
		}

		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				ids = append(ids, added.Message.Id)
			}
		}
		if resp.HistoryId != 0 {
			next = strconv.FormatUint(resp.HistoryId, 10)
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return ids, next, nil
}

// FetchMessage returns nil, nil when Gmail reports the message missing
func (c *Client) FetchMessage(ctx context.Context, id string, format mail.Format) (*mail.Message, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	msg, err := c.svc.Users.Messages.Get(me, id).Format(string(format)).Context(ctx).Do()
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get message %s: %w", id, err))
	}

	return convertMessage(msg), nil
}

// Archive removes the INBOX label
func (c *Client) Archive(ctx context.Context, id string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req := &gmailapi.ModifyMessageRequest{RemoveLabelIds: []string{labelInbox}}
	if _, err := c.svc.Users.Messages.Modify(me, id, req).Context(ctx).Do(); err != nil {
		return classify(fmt.Errorf("failed to archive message %s: %w", id, err))
	}
	return nil
}

// Profile returns the mailbox address
func (c *Client) Profile(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	profile, err := c.svc.Users.GetProfile(me).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Errorf("failed to get profile: %w", err))
	}
	return profile.EmailAddress, nil
}

func convertMessage(msg *gmailapi.Message) *mail.Message {
	out := &mail.Message{
		ID:     msg.Id,
		Labels: msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		out.InternalDate = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		out.Payload = convertPart(msg.Payload)
	}
	return out
}

func convertPart(p *gmailapi.MessagePart) mail.Part {
	part := mail.Part{MimeType: p.MimeType}
	for _, h := range p.Headers {
		part.Headers = append(part.Headers, mail.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil && p.Body.Data != "" {
		part.Body = decodeBody(p.Body.Data)
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}
	return part
}

// decodeBody decodes base64url data with or without padding
func decodeBody(data string) string {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(b)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// classify marks rate limits, server errors and network failures as transient
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= http.StatusInternalServerError:
			return mail.Transient(err)
		case gerr.Code == http.StatusForbidden && isRateLimitReason(gerr):
			return mail.Transient(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return mail.Transient(err)
	}
	return err
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
