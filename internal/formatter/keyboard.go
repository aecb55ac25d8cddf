package formatter

import (
	"encoding/json"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mixelka/whittle/pkg/models"
)

// moveButtons in display order
var moveButtons = []struct {
	box    string
	label  string
	action appmodels.CallbackAction
}{
	{appmodels.BoxInbox, "Inbox", appmodels.CallbackMoveInbox},
	{appmodels.BoxQueue, "Read later", appmodels.CallbackMoveQueue},
	{appmodels.BoxLibrary, "Done", appmodels.CallbackMoveLibrary},
}

// BuildArticleKeyboard creates the triage buttons for an article; the current box gets no button
func BuildArticleKeyboard(articleID int64, currentBox string, bookmarked bool) *models.InlineKeyboardMarkup {
	var moveRow []models.InlineKeyboardButton
	for _, b := range moveButtons {
		if b.box == currentBox {
			continue
		}
		moveRow = append(moveRow, models.InlineKeyboardButton{
			Text: b.label,
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:    b.action,
				ArticleID: articleID,
			}),
		})
	}

	bookmark := models.InlineKeyboardButton{
		Text: "☆ Bookmark",
		CallbackData: EncodeCallback(appmodels.CallbackData{
			Action:    appmodels.CallbackBookmark,
			ArticleID: articleID,
		}),
	}
	if bookmarked {
		bookmark = models.InlineKeyboardButton{
			Text: "★ Unbookmark",
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action:    appmodels.CallbackUnbookmark,
				ArticleID: articleID,
			}),
		}
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{moveRow, {bookmark}},
	}
}

// BoxForAction maps a move action to its target box
func BoxForAction(action appmodels.CallbackAction) (string, bool) {
	for _, b := range moveButtons {
		if b.action == action {
			return b.box, true
		}
	}
	return "", false
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
