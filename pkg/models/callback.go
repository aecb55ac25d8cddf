package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackMoveInbox   CallbackAction = "mi"
	CallbackMoveQueue   CallbackAction = "mq"
	CallbackMoveLibrary CallbackAction = "ml"
	CallbackBookmark    CallbackAction = "bm"
	CallbackUnbookmark  CallbackAction = "ub"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action    CallbackAction `json:"a"`
	ArticleID int64          `json:"m"`
}
