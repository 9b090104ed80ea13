package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"taskgate.app/bot/common/logger"
	"taskgate.app/bot/core/config"
	"taskgate.app/bot/internal/chat"
	"taskgate.app/bot/internal/model"
	"taskgate.app/bot/internal/store"
	"taskgate.app/bot/internal/tracker"
)

// Commands serves the slash commands and the inline "complete" action.
type Commands interface {
	Handle(ctx context.Context, event chat.Event) bool
	HandleCallback(ctx context.Context, event chat.Event) bool
}

type commands struct {
	tasks      store.TaskStore
	gateway    TrackerGateway
	sender     chat.Sender
	notifier   *Notifier
	classifier *tracker.StatusClassifier
	routing    config.Routing
	defaults   config.Defaults
	logger     *slog.Logger
}

func NewCommands(
	tasks store.TaskStore,
	gateway TrackerGateway,
	sender chat.Sender,
	notifier *Notifier,
	classifier *tracker.StatusClassifier,
	routing config.Routing,
	defaults config.Defaults,
	logger *slog.Logger,
) Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &commands{
		tasks:      tasks,
		gateway:    gateway,
		sender:     sender,
		notifier:   notifier,
		classifier: classifier,
		routing:    routing,
		defaults:   defaults,
		logger:     logger,
	}
}

func (s *commands) Handle(ctx context.Context, event chat.Event) bool {
	if event.Command == "" {
		return false
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "taskgate.service.commands",
		ChatID:    logger.Ptr(event.ChatID),
		UserID:    logger.Ptr(event.UserID),
	})

	switch event.Command {
	case "start":
		s.notifier.Notify(ctx, event.ChatID, s.renderStart())
	case "help":
		s.notifier.Notify(ctx, event.ChatID, s.renderHelp())
	case "mytasks":
		s.handleMyTasks(ctx, event)
	case "history":
		s.handleHistory(ctx, event)
	case "partners":
		s.handlePartners(ctx, event)
	case "partner":
		s.handlePartner(ctx, event)
	default:
		return false
	}
	return true
}

func (s *commands) renderStart() string {
	return "Привет! Я создаю задачи в трекере из сообщений.\n" +
		"Начните сообщение с хэштега отдела, например #hr, и я заведу задачу.\n" +
		"Команда /help покажет все возможности."
}

func (s *commands) renderHelp() string {
	codes := make([]string, 0, len(s.routing.Departments))
	for code := range s.routing.Departments {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var b strings.Builder
	b.WriteString("Как создать задачу:\n")
	for _, code := range codes {
		dept := s.routing.Departments[code]
		fmt.Fprintf(&b, "  #%s — %s (очередь %s)\n", code, dept.Name, dept.Queue)
	}
	fmt.Fprintf(&b, "\nМенеджеры также могут использовать %s в любом месте сообщения,\n", s.routing.TaskMarker)
	b.WriteString("в том числе с номером партнёра (WEB#42).\n\n")
	b.WriteString("Ответьте на сообщение с номером задачи, чтобы добавить комментарий.\n\n")
	b.WriteString("Команды:\n")
	b.WriteString("  /mytasks — мои открытые задачи\n")
	b.WriteString("  /history — закрытые за последнюю неделю\n")
	b.WriteString("  /partners — таблица партнёров (для менеджеров)\n")
	b.WriteString("  /partner <id> — задачи партнёра (для менеджеров)")
	return b.String()
}

func (s *commands) handleMyTasks(ctx context.Context, event chat.Event) {
	open, err := s.tasks.ListByCreator(ctx, event.UserID, model.TaskStatusOpen)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing creator tasks failed", "error", err)
		s.notifier.Notify(ctx, event.ChatID, "❌ Не удалось получить список задач.")
		return
	}
	open = s.refreshOpen(ctx, open)
	if len(open) == 0 {
		s.notifier.Notify(ctx, event.ChatID, "У вас нет открытых задач. 🎉")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Ваши открытые задачи (%d):\n", len(open))
	for _, t := range open {
		fmt.Fprintf(&b, "• %s — %s\n  %s\n", t.Key, t.Summary, issueLink(s.defaults.IssueBaseURL, t.Key))
	}
	s.notifier.Notify(ctx, event.ChatID, strings.TrimRight(b.String(), "\n"))
}

// refreshOpen re-checks each listed task against the tracker so the listing
// never shows an issue somebody closed in the web UI since the last
// reconcile. Fetch failures keep the cached record.
func (s *commands) refreshOpen(ctx context.Context, open []model.TrackedTask) []model.TrackedTask {
	fresh := open[:0]
	for _, t := range open {
		issue, err := s.gateway.GetIssue(ctx, t.Key)
		if err != nil {
			fresh = append(fresh, t)
			continue
		}
		if s.classifier.ClassifyStatus(issue.Status) != tracker.StatusCompleted {
			fresh = append(fresh, t)
			continue
		}
		if _, err := s.tasks.Update(ctx, t.Key, func(rec *model.TrackedTask) error {
			rec.Status = model.TaskStatusClosed
			rec.DMRef = nil
			rec.UpdatedAt = time.Now()
			return nil
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark task closed locally", "error", err, "task", t.Key)
		}
	}
	return fresh
}

func (s *commands) handleHistory(ctx context.Context, event chat.Event) {
	closed, err := s.tasks.ListByCreator(ctx, event.UserID, model.TaskStatusClosed)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing task history failed", "error", err)
		s.notifier.Notify(ctx, event.ChatID, "❌ Не удалось получить историю.")
		return
	}

	weekAgo := time.Now().AddDate(0, 0, -7)
	var recent []model.TrackedTask
	for _, t := range closed {
		if t.UpdatedAt.After(weekAgo) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		s.notifier.Notify(ctx, event.ChatID, "За последнюю неделю закрытых задач нет.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Закрыто за неделю (%d):\n", len(recent))
	for _, t := range recent {
		fmt.Fprintf(&b, "• %s — %s (%s)\n", t.Key, t.Summary, t.UpdatedAt.Format("02.01"))
	}
	s.notifier.Notify(ctx, event.ChatID, strings.TrimRight(b.String(), "\n"))
}

func (s *commands) handlePartners(ctx context.Context, event chat.Event) {
	if !s.routing.IsManager(event.UserID) {
		s.notifier.Notify(ctx, event.ChatID, "Команда доступна только менеджерам.")
		return
	}
	if len(s.routing.PartnerAssignees) == 0 {
		s.notifier.Notify(ctx, event.ChatID, "Партнёры не настроены.")
		return
	}

	ids := make([]string, 0, len(s.routing.PartnerAssignees))
	for id := range s.routing.PartnerAssignees {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Партнёры:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "• %s → %s\n", s.routing.PartnerTag(id), s.routing.PartnerAssignees[id])
	}
	s.notifier.Notify(ctx, event.ChatID, strings.TrimRight(b.String(), "\n"))
}

func (s *commands) handlePartner(ctx context.Context, event chat.Event) {
	if !s.routing.IsManager(event.UserID) {
		s.notifier.Notify(ctx, event.ChatID, "Команда доступна только менеджерам.")
		return
	}
	partnerID := strings.TrimSpace(strings.TrimPrefix(event.CommandArgs, "#"))
	if partnerID == "" {
		s.notifier.Notify(ctx, event.ChatID, "Укажите номер партнёра: /partner 42")
		return
	}

	tag := s.routing.PartnerTag(partnerID)
	all, err := s.tasks.ListByQueue(ctx, s.routing.PartnersQueue, model.TaskStatusOpen)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing partner tasks failed", "error", err)
		s.notifier.Notify(ctx, event.ChatID, "❌ Не удалось получить задачи партнёра.")
		return
	}

	var matched []model.TrackedTask
	for _, t := range all {
		if t.Department == tag {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		s.notifier.Notify(ctx, event.ChatID, fmt.Sprintf("У партнёра %s нет открытых задач.", tag))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Открытые задачи %s (%d):\n", tag, len(matched))
	for _, t := range matched {
		fmt.Fprintf(&b, "• %s — %s\n  %s\n", t.Key, t.Summary, issueLink(s.defaults.IssueBaseURL, t.Key))
	}
	s.notifier.Notify(ctx, event.ChatID, strings.TrimRight(b.String(), "\n"))
}

// HandleCallback serves the inline "complete" button: closes the remote
// issue through the transition graph, marks the local record closed, and
// retracts the button.
func (s *commands) HandleCallback(ctx context.Context, event chat.Event) bool {
	if event.Kind != chat.EventCallback {
		return false
	}
	key, ok := parseCompleteCallback(event.CallbackData)
	if !ok {
		return false
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "taskgate.service.commands",
		TaskKey:   logger.Ptr(key),
		UserID:    logger.Ptr(event.UserID),
	})

	task, err := s.tasks.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.answer(ctx, event, "Задача не найдена.")
			return true
		}
		s.logger.ErrorContext(ctx, "task lookup failed", "error", err)
		s.answer(ctx, event, "Ошибка, попробуйте позже.")
		return true
	}
	if task.Status == model.TaskStatusClosed {
		s.answer(ctx, event, "Задача уже закрыта.")
		return true
	}

	if err := s.gateway.CloseIssue(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "remote close failed", "error", err)
		s.answer(ctx, event, "Не получилось закрыть задачу.")
		if errors.Is(err, tracker.ErrNoTransition) {
			s.notifier.Notify(ctx, event.ChatID, renderManualCloseHint(key))
		} else {
			s.notifier.Notify(ctx, event.ChatID, fmt.Sprintf("❌ Не удалось закрыть %s: %s", key, errorReason(err)))
		}
		return true
	}

	updated, err := s.tasks.Update(ctx, key, func(t *model.TrackedTask) error {
		t.Status = model.TaskStatusClosed
		t.DMRef = nil
		t.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to mark task closed locally", "error", err)
	}

	s.answer(ctx, event, "Задача закрыта ✅")
	if event.CallbackMessageID != 0 {
		done := fmt.Sprintf("✅ %s закрыта: %s", key, task.Summary)
		if err := s.sender.EditText(ctx, event.CallbackChatID, event.CallbackMessageID, done); err != nil {
			s.logger.WarnContext(ctx, "failed to edit confirmation message", "error", err)
		}
	}
	if updated != nil && updated.OriginChatID != 0 && updated.OriginChatID != event.CallbackChatID {
		s.notifier.Notify(ctx, updated.OriginChatID, fmt.Sprintf("✅ Задача %s выполнена.", key))
	}
	return true
}

func (s *commands) answer(ctx context.Context, event chat.Event, text string) {
	if err := s.sender.AnswerCallback(ctx, event.CallbackID, text); err != nil {
		s.logger.WarnContext(ctx, "failed to answer callback", "error", err)
	}
}
