package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taskgate.app/bot/common/logger"
	"taskgate.app/bot/internal/chat"
	"taskgate.app/bot/internal/router"
	"taskgate.app/bot/internal/store"
)

// CommentRelay forwards replies to earlier bot messages as comments on the
// referenced issue. Relay reports false when the message is not its concern,
// letting it fall through to ordinary classification.
type CommentRelay interface {
	Relay(ctx context.Context, event chat.Event) bool
}

type commentRelay struct {
	tasks   store.TaskStore
	gateway TrackerGateway
	sender  chat.Sender
	logger  *slog.Logger
}

func NewCommentRelay(tasks store.TaskStore, gateway TrackerGateway, sender chat.Sender, logger *slog.Logger) CommentRelay {
	if logger == nil {
		logger = slog.Default()
	}
	return &commentRelay{
		tasks:   tasks,
		gateway: gateway,
		sender:  sender,
		logger:  logger,
	}
}

func (s *commentRelay) Relay(ctx context.Context, event chat.Event) bool {
	if event.ReplyToMessageID == 0 || event.ReplyToText == "" {
		return false
	}

	key := router.ExtractIssueKey(event.ReplyToText)
	if key == "" {
		return false
	}

	// An unknown key means the reply references something this system never
	// created; decline rather than comment on a stranger's issue.
	if _, err := s.tasks.Get(ctx, key); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.ErrorContext(ctx, "task lookup failed", "key", key, "error", err)
		}
		return false
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "taskgate.service.relay",
		TaskKey:   logger.Ptr(key),
		UserID:    logger.Ptr(event.UserID),
	})

	author := event.Username
	if author == "" {
		author = event.FirstName
	}
	text := fmt.Sprintf("%s%s:\n%s", relayMarker, author, event.Text)

	if err := s.gateway.AddComment(ctx, key, text); err != nil {
		s.logger.ErrorContext(ctx, "comment relay failed", "error", err)
		s.reply(ctx, event, fmt.Sprintf("❌ Не удалось добавить комментарий к %s: %s", key, errorReason(err)))
		return true
	}

	if event.PhotoFileID != "" {
		s.attachPhoto(ctx, key, event.PhotoFileID)
	}

	s.reply(ctx, event, fmt.Sprintf("💬 Комментарий добавлен в %s", key))
	return true
}

func (s *commentRelay) attachPhoto(ctx context.Context, key, fileID string) {
	filename, content, err := s.sender.DownloadFile(ctx, fileID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to download photo for relay", "error", err)
		return
	}
	defer content.Close()

	if err := s.gateway.AttachFile(ctx, key, filename, content); err != nil {
		s.logger.WarnContext(ctx, "failed to attach photo", "error", err)
	}
}

func (s *commentRelay) reply(ctx context.Context, event chat.Event, text string) {
	if _, err := s.sender.Reply(ctx, event.ChatID, event.MessageID, text); err != nil {
		s.logger.WarnContext(ctx, "relay confirmation failed", "error", err)
	}
}
