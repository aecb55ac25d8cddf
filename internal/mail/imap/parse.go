package imap

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/mixelka/whittle/internal/mail"
)

// parseMessage converts a fetched IMAP message. Transfer encodings and charsets are decoded.
func parseMessage(msg *imap.Message, section *imap.BodySectionName, format mail.Format, logger *slog.Logger) (*mail.Message, error) {
	out := &mail.Message{
		ID:           fmt.Sprint(msg.Uid),
		Labels:       []string{inbox},
		InternalDate: msg.InternalDate.UTC(),
	}

	// IMAP has no unread label; a missing \Seen flag means the same thing
	if !hasFlag(msg.Flags, imap.SeenFlag) {
		out.Labels = append(out.Labels, mail.LabelUnread)
	}

	body := msg.GetBody(section)
	if body == nil {
		return out, nil
	}

	mr, err := gomail.CreateReader(body)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		out.Payload.Headers = append(out.Payload.Headers, mail.Header{Name: fields.Key(), Value: value})
	}

	contentType, _, _ := mr.Header.ContentType()
	out.Payload.MimeType = contentType

	if format == mail.FormatMetadata {
		return out, nil
	}

	var parts []mail.Part
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("failed to read part", "uid", msg.Uid, "error", err)
			break
		}

		h, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue // attachment
		}

		partType, _, _ := h.ContentType()
		data, err := io.ReadAll(p.Body)
		if err != nil {
			logger.Warn("failed to read part body", "uid", msg.Uid, "error", err)
			continue
		}

		parts = append(parts, mail.Part{
			MimeType: partType,
			Headers:  []mail.Header{{Name: "Content-Type", Value: h.Get("Content-Type")}},
			Body:     string(data),
		})
	}

	if strings.HasPrefix(contentType, "multipart/") {
		out.Payload.Parts = parts
	} else if len(parts) > 0 {
		out.Payload.Body = parts[0].Body
	}

	return out, nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}
