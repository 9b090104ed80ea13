package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskgate.app/bot/common/logger"
	"taskgate.app/bot/core/config"
	"taskgate.app/bot/internal/chat"
	"taskgate.app/bot/internal/model"
	"taskgate.app/bot/internal/queue"
	"taskgate.app/bot/internal/router"
	"taskgate.app/bot/internal/store"
)

// UpdateProcessor runs one dequeued chat update through the fixed pipeline:
// identity registration, callback handling, slash commands, reply-comment
// relay, then classification and task creation. Each stage either claims the
// update or passes it along.
type UpdateProcessor struct {
	identities store.IdentityStore
	commands   Commands
	relay      CommentRelay
	router     *router.Router
	creator    TaskCreator
	notifier   *Notifier
	routing    config.Routing
	logger     *slog.Logger
}

func NewUpdateProcessor(
	identities store.IdentityStore,
	commands Commands,
	relay CommentRelay,
	rt *router.Router,
	creator TaskCreator,
	notifier *Notifier,
	routing config.Routing,
	logger *slog.Logger,
) *UpdateProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateProcessor{
		identities: identities,
		commands:   commands,
		relay:      relay,
		router:     rt,
		creator:    creator,
		notifier:   notifier,
		routing:    routing,
		logger:     logger,
	}
}

func (p *UpdateProcessor) Process(ctx context.Context, msg queue.Message) error {
	var update tgbotapi.Update
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		// Poison payload: ack it away instead of looping through the DLQ.
		p.logger.ErrorContext(ctx, "undecodable update payload", "error", err)
		return nil
	}

	event, ok := chat.ParseUpdate(update)
	if !ok {
		return nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "taskgate.service.processor",
		ChatID:    logger.Ptr(event.ChatID),
		UserID:    logger.Ptr(event.UserID),
	})

	p.registerIdentity(ctx, event)

	if event.Kind == chat.EventCallback {
		p.commands.HandleCallback(ctx, event)
		return nil
	}

	if event.Command != "" {
		if !p.commands.Handle(ctx, event) {
			p.logger.DebugContext(ctx, "unknown command ignored", "command", event.Command)
		}
		return nil
	}

	if p.relay.Relay(ctx, event) {
		return nil
	}

	c := p.router.Classify(event.Text, p.routing.IsManager(event.UserID))
	switch c.Kind {
	case router.KindRejected:
		p.notifier.Notify(ctx, event.ChatID, "⛔ "+c.Reason)
	case router.KindDepartmentTask, router.KindPartnerTask:
		// Creation failures are already reported to the chat; requeueing
		// here would duplicate the successfully created issues.
		if err := p.creator.Create(ctx, event, c); err != nil {
			p.logger.ErrorContext(ctx, "task creation failed", "error", err)
		}
	case router.KindIgnored:
		// Ordinary chatter.
	}
	return nil
}

// registerIdentity lazily records the handle-to-id binding the first time
// both fields are observable on a message.
func (p *UpdateProcessor) registerIdentity(ctx context.Context, event chat.Event) {
	if event.UserID == 0 || event.Username == "" {
		return
	}
	err := p.identities.Register(ctx, &model.Identity{
		UserID:       event.UserID,
		Username:     event.Username,
		FirstName:    event.FirstName,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "identity registration failed", "error", err)
	}
}
