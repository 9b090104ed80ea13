package model

import "time"

// Identity maps a chat-platform handle to its numeric user id. Records are
// populated lazily the first time a user sends a message where both fields
// are observable.
type Identity struct {
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"` // stored lowercase, without the leading "@"
	FirstName    string    `json:"first_name,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}
