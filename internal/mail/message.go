package mail

import (
	netmail "net/mail"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// Format selects how much of a message the provider returns
type Format string

const (
	// FormatMetadata returns labels and headers only
	FormatMetadata Format = "metadata"
	// FormatFull returns headers and decoded bodies
	FormatFull Format = "full"
)

// LabelUnread marks a message the user has not opened yet
const LabelUnread = "UNREAD"

// Header is a single message header
type Header struct {
	Name  string
	Value string
}

// Part is one node of a message's MIME tree. Bodies are already decoded.
type Part struct {
	MimeType string
	Headers  []Header
	Body     string
	Parts    []Part
}

// Message is a provider message
type Message struct {
	ID           string
	Labels       []string
	InternalDate time.Time
	Payload      Part
}

// Header returns every value of the named header, case-insensitively and in order
func (m *Message) Header(name string) []string {
	var values []string
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			values = append(values, h.Value)
		}
	}
	return values
}

// Subject returns the first Subject header
func (m *Message) Subject() string {
	if values := m.Header("Subject"); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

// Sender parses the From header into display name and address, decoding RFC 2047 names
func (m *Message) Sender() (name, address string, ok bool) {
	values := m.Header("From")
	if len(values) == 0 {
		return "", "", false
	}

	addr, err := gomail.ParseAddress(values[0])
	if err != nil {
		// Fall back to a bare address without a display name
		raw := strings.Trim(strings.TrimSpace(values[0]), "<>")
		if !strings.Contains(raw, "@") {
			return "", "", false
		}
		return "", raw, true
	}
	return addr.Name, addr.Address, true
}

// ReceivedAt returns the Date header, or the provider's internal date when the header is unusable
func (m *Message) ReceivedAt() (time.Time, bool) {
	if values := m.Header("Date"); len(values) > 0 {
		if t, err := netmail.ParseDate(values[0]); err == nil {
			return t.UTC(), true
		}
	}
	if !m.InternalDate.IsZero() {
		return m.InternalDate.UTC(), true
	}
	return time.Time{}, false
}

// IsUnread reports whether the message carries the unread label
func (m *Message) IsUnread() bool {
	for _, label := range m.Labels {
		if label == LabelUnread {
			return true
		}
	}
	return false
}

// HTMLBody returns the text/html body
func (m *Message) HTMLBody() (string, bool) {
	return m.body("text/html")
}

// TextBody returns the text/plain body
func (m *Message) TextBody() (string, bool) {
	return m.body("text/plain")
}

// body scans multipart parts for the content type; otherwise the top-level body is used
func (m *Message) body(contentType string) (string, bool) {
	if isMultipart(m.contentType()) {
		return findPart(m.Payload.Parts, contentType)
	}

	if strings.Contains(strings.ToLower(m.contentType()), contentType) {
		return m.Payload.Body, true
	}
	return "", false
}

func (m *Message) contentType() string {
	if values := m.Header("Content-Type"); len(values) > 0 {
		return values[0]
	}
	return m.Payload.MimeType
}

func findPart(parts []Part, contentType string) (string, bool) {
	for _, part := range parts {
		if len(part.Parts) > 0 {
			if body, ok := findPart(part.Parts, contentType); ok {
				return body, true
			}
			continue
		}

		ct := part.MimeType
		for _, h := range part.Headers {
			if strings.EqualFold(h.Name, "Content-Type") {
				ct = h.Value
				break
			}
		}
		if strings.Contains(strings.ToLower(ct), contentType) {
			return part.Body, true
		}
	}
	return "", false
}

func isMultipart(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "multipart/")
}
