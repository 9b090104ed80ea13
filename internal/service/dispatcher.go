package service

import (
	"context"
	"log/slog"

	"taskgate.app/bot/internal/chat"
)

// Notifier is the best-effort outbound fanout: each delivery is attempted
// independently and a failed recipient never blocks the rest. Failures are
// logged and dropped, not retried.
type Notifier struct {
	sender chat.Sender
	logger *slog.Logger
}

func NewNotifier(sender chat.Sender, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, logger: logger}
}

// Notify delivers to a single recipient. Reports whether delivery succeeded.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) bool {
	if chatID == 0 {
		return false
	}
	if _, err := n.sender.Send(ctx, chatID, text); err != nil {
		n.logger.WarnContext(ctx, "notification delivery failed",
			"chat_id", chatID,
			"error", err)
		return false
	}
	return true
}

// Broadcast delivers to every recipient, skipping the excluded ids (used to
// avoid double-delivering to the requester). Returns the success count.
func (n *Notifier) Broadcast(ctx context.Context, recipients []int64, text string, exclude ...int64) int {
	skip := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	delivered := 0
	for _, chatID := range recipients {
		if skip[chatID] {
			continue
		}
		if n.Notify(ctx, chatID, text) {
			delivered++
		}
	}
	return delivered
}
