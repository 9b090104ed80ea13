package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskgate.app/bot/common/logger"
	"taskgate.app/bot/core/config"
	"taskgate.app/bot/internal/chat"
	"taskgate.app/bot/internal/model"
	"taskgate.app/bot/internal/router"
	"taskgate.app/bot/internal/store"
	"taskgate.app/bot/internal/tracker"
)

const originTag = "taskgate"

// TaskCreator turns a classified request into remote issues plus local
// tracking records and delivers the confirmation fanout.
type TaskCreator interface {
	Create(ctx context.Context, event chat.Event, c router.Classification) error
}

type taskCreator struct {
	tasks    store.TaskStore
	gateway  TrackerGateway
	sender   chat.Sender
	notifier *Notifier
	boards   *BoardCache
	routing  config.Routing
	defaults config.Defaults
	logger   *slog.Logger
}

func NewTaskCreator(
	tasks store.TaskStore,
	gateway TrackerGateway,
	sender chat.Sender,
	notifier *Notifier,
	boards *BoardCache,
	routing config.Routing,
	defaults config.Defaults,
	logger *slog.Logger,
) TaskCreator {
	if logger == nil {
		logger = slog.Default()
	}
	return &taskCreator{
		tasks:    tasks,
		gateway:  gateway,
		sender:   sender,
		notifier: notifier,
		boards:   boards,
		routing:  routing,
		defaults: defaults,
		logger:   logger,
	}
}

// creationTarget is one remote issue to be created for a single request.
type creationTarget struct {
	queue      string
	department string // department code or partner tag
	assignee   string
	followers  []string
	tags       []string
}

func (s *taskCreator) Create(ctx context.Context, event chat.Event, c router.Classification) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "taskgate.service.creator",
		ChatID:    logger.Ptr(event.ChatID),
		UserID:    logger.Ptr(event.UserID),
	})

	targets := s.resolveTargets(ctx, event, c)
	if len(targets) == 0 {
		return nil
	}

	description := s.buildDescription(event, c.Description)
	deadline := time.Now().AddDate(0, 0, s.defaults.DeadlineDays).Format("2006-01-02")

	var created []model.TrackedTask
	var lastErr error

	// One failed queue must not block the others; partial success is
	// expected and reported per issue.
	for _, target := range targets {
		issue, err := s.gateway.CreateIssue(ctx, tracker.CreateIssueParams{
			Queue:       target.queue,
			Summary:     c.Summary,
			Description: description,
			Assignee:    target.assignee,
			Priority:    s.defaults.Priority,
			Deadline:    deadline,
			Tags:        target.tags,
			Followers:   target.followers,
		})
		if err != nil {
			lastErr = err
			s.logger.ErrorContext(ctx, "issue creation failed",
				"queue", target.queue,
				"department", target.department,
				"error", err)
			continue
		}

		task := model.TrackedTask{
			Key:             issue.Key,
			OriginChatID:    event.ChatID,
			OriginMessageID: event.MessageID,
			Summary:         c.Summary,
			Queue:           target.queue,
			Department:      target.department,
			CreatorID:       event.UserID,
			Status:          model.TaskStatusOpen,
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		if err := s.tasks.Put(ctx, &task); err != nil {
			s.logger.ErrorContext(ctx, "failed to persist tracked task", "key", issue.Key, "error", err)
		}
		created = append(created, task)

		s.logger.InfoContext(ctx, "issue created",
			"key", issue.Key,
			"queue", target.queue,
			"department", target.department)
	}

	if len(created) == 0 {
		s.notifier.Notify(ctx, event.ChatID, renderCreationFailure(errorReason(lastErr)))
		return fmt.Errorf("all creation attempts failed: %w", lastErr)
	}

	s.notifier.Notify(ctx, event.ChatID, renderGroupConfirmation(created))
	s.deliverDetailed(ctx, event, created)
	return nil
}

func (s *taskCreator) resolveTargets(ctx context.Context, event chat.Event, c router.Classification) []creationTarget {
	chatTag := fmt.Sprintf("chat-%d", event.ChatID)

	switch c.Kind {
	case router.KindDepartmentTask:
		dept, ok := s.routing.DepartmentByCode(c.Department)
		if !ok {
			return nil
		}
		return []creationTarget{s.departmentTarget(event, dept, chatTag)}

	case router.KindPartnerTask:
		var targets []creationTarget
		for _, code := range c.Departments {
			dept, ok := s.routing.DepartmentByCode(code)
			if !ok {
				s.logger.WarnContext(ctx, "unknown department code skipped", "code", code)
				continue
			}
			targets = append(targets, s.departmentTarget(event, dept, chatTag))
		}

		if c.PartnerID != "" {
			tag := s.routing.PartnerTag(c.PartnerID)
			s.boards.GetOrCreate(ctx, c.PartnerID, tag)
			targets = append(targets, creationTarget{
				queue:      s.routing.PartnersQueue,
				department: tag,
				assignee:   s.routing.PartnerAssignee(c.PartnerID),
				followers:  s.requesterFollowers(event),
				tags:       []string{originTag, tag, chatTag},
			})
		}

		// A bare marker message from a manager still deserves a task.
		if len(targets) == 0 {
			targets = append(targets, creationTarget{
				queue:      s.routing.DefaultQueue,
				department: "",
				followers:  s.requesterFollowers(event),
				tags:       []string{originTag, chatTag},
			})
		}
		return targets

	default:
		return nil
	}
}

func (s *taskCreator) departmentTarget(event chat.Event, dept config.Department, chatTag string) creationTarget {
	followers := append([]string{}, dept.Followers...)
	followers = append(followers, s.requesterFollowers(event)...)
	return creationTarget{
		queue:      dept.Queue,
		department: dept.Code,
		assignee:   dept.Assignee,
		followers:  followers,
		tags:       []string{originTag, dept.Code, chatTag},
	}
}

// requesterFollowers resolves the requester's tracker login so they follow
// their own task. Empty when the handle has no configured login.
func (s *taskCreator) requesterFollowers(event chat.Event) []string {
	if login, ok := s.routing.LoginForHandle(event.Username); ok {
		return []string{login}
	}
	return nil
}

func (s *taskCreator) buildDescription(event chat.Event, description string) string {
	origin := fmt.Sprintf("Автор: %s", event.FirstName)
	if event.Username != "" {
		origin = fmt.Sprintf("Автор: @%s", event.Username)
	}
	if description == "" {
		return origin
	}
	return description + "\n\n" + origin
}

// deliverDetailed sends one actionable confirmation per created issue to the
// requester's private channel, falling back to the originating chat so the
// complete action is never silently lost. A copy of each detailed text also
// goes to the notify-all recipients.
func (s *taskCreator) deliverDetailed(ctx context.Context, event chat.Event, created []model.TrackedTask) {
	for _, task := range created {
		text := renderDetailedConfirmation(task, s.defaults.IssueBaseURL)
		action := chat.Action{Label: "✅ Завершить", Data: completeCallbackData(task.Key)}

		targetChat := event.UserID
		msgID, err := s.sender.SendWithAction(ctx, targetChat, text, action)
		if err != nil {
			s.logger.WarnContext(ctx, "private confirmation failed, falling back to origin chat",
				"key", task.Key,
				"error", err)
			targetChat = event.ChatID
			msgID, err = s.sender.SendWithAction(ctx, targetChat, text, action)
			if err != nil {
				s.logger.ErrorContext(ctx, "confirmation delivery failed entirely",
					"key", task.Key,
					"error", err)
				continue
			}
		}

		ref := model.MessageRef{ChatID: targetChat, MessageID: msgID}
		if _, err := s.tasks.Update(ctx, task.Key, func(t *model.TrackedTask) error {
			t.DMRef = &ref
			t.UpdatedAt = time.Now()
			return nil
		}); err != nil {
			s.logger.WarnContext(ctx, "failed to record confirmation reference",
				"key", task.Key,
				"error", err)
		}

		s.notifier.Broadcast(ctx, s.routing.NotifyAllIDs, text, event.UserID)
	}
}

func errorReason(err error) string {
	if err == nil {
		return "неизвестная ошибка"
	}
	var apiErr *tracker.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Reason()
	}
	return err.Error()
}
