package chat

import (
	"context"
	"io"
)

// EventKind separates the two inbound shapes the platform delivers: regular
// messages and button callbacks.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventCallback EventKind = "callback"
)

// Event is the platform-neutral form of one inbound chat update. The webhook
// handler enqueues the raw update; the worker parses it into an Event before
// any business logic runs.
type Event struct {
	Kind     EventKind
	UpdateID int

	ChatID    int64
	ChatType  string // "private", "group", "supergroup"
	MessageID int

	UserID    int64
	Username  string // lowercase, without "@"
	FirstName string

	Text        string // message text or media caption
	Command     string // bot command without the slash, empty otherwise
	CommandArgs string

	ReplyToMessageID int
	ReplyToText      string // text or caption of the replied-to message
	PhotoFileID      string // largest photo size, empty when no photo

	CallbackID        string
	CallbackData      string
	CallbackChatID    int64
	CallbackMessageID int
}

func (e Event) IsPrivate() bool {
	return e.ChatType == "private"
}

// Action is an inline button attached to an outbound message.
type Action struct {
	Label string
	Data  string
}

// Sender is the outbound side of the chat platform. Implementations must be
// safe for concurrent use; every notification path in the system fans out
// through this interface.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) (messageID int, err error)
	SendWithAction(ctx context.Context, chatID int64, text string, action Action) (messageID int, err error)
	Reply(ctx context.Context, chatID int64, replyToID int, text string) (messageID int, err error)
	EditText(ctx context.Context, chatID int64, messageID int, text string) error
	ClearActions(ctx context.Context, chatID int64, messageID int) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
	DownloadFile(ctx context.Context, fileID string) (filename string, content io.ReadCloser, err error)
}
