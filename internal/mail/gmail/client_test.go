package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/whittle/internal/mail"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), srv.Client(), Config{
		Endpoint: srv.URL + "/",
		Now:      func() time.Time { return time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC) },
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestListMessagesSinceInitialWindow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "after:2024/03/05", r.URL.Query().Get("q"))
		assert.Equal(t, "500", r.URL.Query().Get("maxResults"))

		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, map[string]any{
				"messages":      []map[string]string{{"id": "m3"}, {"id": "m2"}},
				"nextPageToken": "p2",
			})
			return
		}
		writeJSON(w, map[string]any{"messages": []map[string]string{{"id": "m1"}}})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "m3", r.PathValue("id"))
		assert.Equal(t, "minimal", r.URL.Query().Get("format"))
		writeJSON(w, map[string]any{"id": "m3", "historyId": "9001"})
	})

	c := newTestClient(t, mux)
	ids, next, err := c.ListMessagesSince(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, ids)
	assert.Equal(t, "9001", next)
}

func TestListMessagesSinceEmptyWindowUsesProfile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"emailAddress": "reader@gmail.com", "historyId": "77"})
	})

	c := newTestClient(t, mux)
	ids, next, err := c.ListMessagesSince(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, "77", next)
}

func TestListMessagesSinceHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/history", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("startHistoryId"))
		assert.Equal(t, "messageAdded", r.URL.Query().Get("historyTypes"))

		if r.URL.Query().Get("pageToken") == "" {
			writeJSON(w, map[string]any{
				"history": []map[string]any{
					{"messagesAdded": []map[string]any{{"message": map[string]string{"id": "a"}}}},
					{"messagesAdded": []map[string]any{{"message": map[string]string{"id": "b"}}}},
				},
				"historyId":     "110",
				"nextPageToken": "next",
			})
			return
		}
		writeJSON(w, map[string]any{
			"history": []map[string]any{
				{"messagesAdded": []map[string]any{{"message": map[string]string{"id": "b"}}, {"message": map[string]string{"id": "c"}}}},
			},
			"historyId": "120",
		})
	})

	c := newTestClient(t, mux)
	ids, next, err := c.ListMessagesSince(context.Background(), "100")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, "120", next)
}

func TestListMessagesSinceExpiredHistory(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/history", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":404,"message":"Requested entity was not found."}}`, http.StatusNotFound)
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"messages": []map[string]string{{"id": "m1"}}})
	})
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"id": "m1", "historyId": "500"})
	})

	c := newTestClient(t, mux)
	ids, next, err := c.ListMessagesSince(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)
	assert.Equal(t, "500", next)
}

func TestFetchMessage(t *testing.T) {
	html := base64.URLEncoding.EncodeToString([]byte("<h1>Hello</h1>"))
	text := base64.RawURLEncoding.EncodeToString([]byte("Hello"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "gone" {
			http.Error(w, `{"error":{"code":404}}`, http.StatusNotFound)
			return
		}
		assert.Equal(t, "full", r.URL.Query().Get("format"))
		writeJSON(w, map[string]any{
			"id":           "m1",
			"labelIds":     []string{"INBOX", "UNREAD"},
			"internalDate": "1710936000000",
			"payload": map[string]any{
				"mimeType": "multipart/alternative",
				"headers": []map[string]string{
					{"name": "From", "value": "TechCrunch <newsletter@techcrunch.com>"},
					{"name": "Subject", "value": "Daily Crunch"},
					{"name": "Content-Type", "value": "multipart/alternative; boundary=b"},
				},
				"parts": []map[string]any{
					{"mimeType": "text/plain", "headers": []map[string]string{{"name": "Content-Type", "value": "text/plain"}}, "body": map[string]string{"data": text}},
					{"mimeType": "text/html", "headers": []map[string]string{{"name": "Content-Type", "value": "text/html"}}, "body": map[string]string{"data": html}},
				},
			},
		})
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	msg, err := c.FetchMessage(ctx, "m1", mail.FormatFull)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.True(t, msg.IsUnread())
	assert.Equal(t, "Daily Crunch", msg.Subject())

	body, ok := msg.HTMLBody()
	require.True(t, ok)
	assert.Equal(t, "<h1>Hello</h1>", body)

	plain, ok := msg.TextBody()
	require.True(t, ok)
	assert.Equal(t, "Hello", plain)

	missing, err := c.FetchMessage(ctx, "gone", mail.FormatFull)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestArchiveAndErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gmail/v1/users/me/messages/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req map[string][]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"INBOX"}, req["removeLabelIds"])

		if r.PathValue("id") == "busy" {
			http.Error(w, `{"error":{"code":503}}`, http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"id": r.PathValue("id")})
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	require.NoError(t, c.Archive(ctx, "m1"))

	err := c.Archive(ctx, "busy")
	require.Error(t, err)
	assert.True(t, mail.IsTransient(err))
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}
