package model

import "time"

type TaskStatus string

const (
	TaskStatusOpen   TaskStatus = "open"
	TaskStatusClosed TaskStatus = "closed"
)

// MessageRef points at a single chat message the bot has sent.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// TrackedTask is the local record of one remote tracker issue the bot
// created or is watching. The Last* fields are change-detection cursors
// owned by the reconciler; they are never rendered to users.
type TrackedTask struct {
	Key             string     `json:"key"`
	OriginChatID    int64      `json:"origin_chat_id"`
	OriginMessageID int        `json:"origin_message_id"`
	Summary         string     `json:"summary"`
	Queue           string     `json:"queue"`
	Department      string     `json:"department,omitempty"` // department code or partner tag (e.g. "WEB2")
	CreatorID       int64      `json:"creator_id"`
	Status          TaskStatus `json:"status"`

	// Both the status key and its display label are cached: remote
	// workflows are inconsistent about which one carries the meaningful
	// value, so change detection must classify the pair.
	LastStatusKey     string `json:"last_status_key,omitempty"`
	LastStatusDisplay string `json:"last_status_display,omitempty"`
	LastAssignee      string `json:"last_assignee,omitempty"`
	LastCommentCount  int    `json:"last_comment_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// DMRef is the private confirmation message carrying the "complete"
	// action; kept only so the action can be retracted once the task closes.
	DMRef *MessageRef `json:"dm_ref,omitempty"`
}

func (t *TrackedTask) IsOpen() bool {
	return t.Status == TaskStatusOpen
}
