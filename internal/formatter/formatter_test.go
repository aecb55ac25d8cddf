package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appmodels "github.com/mixelka/whittle/pkg/models"
)

func TestFormatArticle(t *testing.T) {
	f := NewTelegramFormatter()
	a := &appmodels.Article{
		ID:                5,
		Title:             "Rates <up> & away",
		Author:            "Morning Brew",
		Source:            "crew@morningbrew.com",
		TextContent:       strings.Repeat("word ", 500),
		MessageReceivedAt: time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
		Bookmarked:        true,
	}

	text := f.FormatArticle(a, appmodels.BoxQueue)
	assert.Contains(t, text, "<b>Rates &lt;up&gt; &amp; away</b>")
	assert.Contains(t, text, "Morning Brew &lt;crew@morningbrew.com&gt;")
	assert.Contains(t, text, "01 May 2024 08:30 · Queue · ★")
	assert.True(t, strings.HasSuffix(text, "…"))
	assert.Less(t, len([]rune(text)), 4000)
}

func TestFormatLists(t *testing.T) {
	f := NewTelegramFormatter()

	boxes := f.FormatBoxList([]BoxCount{
		{Box: &appmodels.Box{Name: appmodels.BoxInbox}, Count: 3},
		{Box: &appmodels.Box{Name: appmodels.BoxQueue}, Count: 0},
	})
	assert.Contains(t, boxes, "<b>Inbox</b>: 3")
	assert.Contains(t, boxes, "<b>Queue</b>: 0")

	list := f.FormatArticleList("Queue", []*appmodels.Article{{ID: 7, Title: "One"}, {ID: 9, Title: "Two", Bookmarked: true}})
	assert.Contains(t, list, "1. One /read_7")
	assert.Contains(t, list, "2. Two ★ /read_9")

	assert.Contains(t, f.FormatArticleList("Library", nil), "Nothing here yet.")

	digest := f.FormatDigest([]*appmodels.Article{{ID: 1, Title: "A", Author: "X"}})
	assert.Contains(t, digest, "1 new article")
	assert.Contains(t, digest, "/read_1")
}

func TestArticleKeyboard(t *testing.T) {
	kb := BuildArticleKeyboard(42, appmodels.BoxInbox, false)
	require.Len(t, kb.InlineKeyboard, 2)

	moves := kb.InlineKeyboard[0]
	require.Len(t, moves, 2, "no button for the current box")
	first, err := DecodeCallback(moves[0].CallbackData)
	require.NoError(t, err)
	assert.Equal(t, appmodels.CallbackData{Action: appmodels.CallbackMoveQueue, ArticleID: 42}, first)

	bookmark, err := DecodeCallback(kb.InlineKeyboard[1][0].CallbackData)
	require.NoError(t, err)
	assert.Equal(t, appmodels.CallbackBookmark, bookmark.Action)

	kb = BuildArticleKeyboard(42, appmodels.BoxLibrary, true)
	unbookmark, err := DecodeCallback(kb.InlineKeyboard[1][0].CallbackData)
	require.NoError(t, err)
	assert.Equal(t, appmodels.CallbackUnbookmark, unbookmark.Action)

	for _, row := range kb.InlineKeyboard {
		for _, b := range row {
			assert.LessOrEqual(t, len(b.CallbackData), 64, "telegram callback data limit")
		}
	}

	box, ok := BoxForAction(appmodels.CallbackMoveLibrary)
	assert.True(t, ok)
	assert.Equal(t, appmodels.BoxLibrary, box)
	_, ok = BoxForAction(appmodels.CallbackBookmark)
	assert.False(t, ok)
}
