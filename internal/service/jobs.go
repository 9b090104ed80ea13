package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"taskgate.app/bot/common/logger"
	"taskgate.app/bot/core/config"
	"taskgate.app/bot/internal/model"
	"taskgate.app/bot/internal/store"
	"taskgate.app/bot/internal/tracker"
)

// RedisOnceMarker implements OnceMarker with SETNX. The TTL outlives the
// dedupe window (one day) so a marker never expires mid-window; stale
// markers age out on their own.
type RedisOnceMarker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisOnceMarker(client *redis.Client, ttl time.Duration) *RedisOnceMarker {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &RedisOnceMarker{client: client, ttl: ttl}
}

func (m *RedisOnceMarker) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := m.client.SetNX(ctx, "taskgate:once:"+key, 1, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring once marker %s: %w", key, err)
	}
	return ok, nil
}

// Jobs hosts the scheduled reports that share the reconciler's iterate,
// derive, notify shape: overdue sweep, per-assignee digest, per-department
// digest and the weekly aggregate. Every send is latched through the
// OnceMarker so a restart or a second sweep the same day stays silent.
type Jobs struct {
	tasks      store.TaskStore
	identities store.IdentityStore
	gateway    TrackerGateway
	notifier   *Notifier
	marker     OnceMarker
	classifier *tracker.StatusClassifier
	routing    config.Routing
	defaults   config.Defaults
	location   *time.Location
	logger     *slog.Logger
}

func NewJobs(
	tasks store.TaskStore,
	identities store.IdentityStore,
	gateway TrackerGateway,
	notifier *Notifier,
	marker OnceMarker,
	classifier *tracker.StatusClassifier,
	routing config.Routing,
	defaults config.Defaults,
	location *time.Location,
	logger *slog.Logger,
) *Jobs {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		tasks:      tasks,
		identities: identities,
		gateway:    gateway,
		notifier:   notifier,
		marker:     marker,
		classifier: classifier,
		routing:    routing,
		defaults:   defaults,
		location:   location,
		logger:     logger,
	}
}

func (j *Jobs) today() string {
	return time.Now().In(j.location).Format("2006-01-02")
}

// OverdueSweep reminds each creator about open tasks past their deadline.
// At most one reminder per task per day, across both daily sweep slots.
func (j *Jobs) OverdueSweep(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Job: "overdue_sweep"})

	open, err := j.tasks.ListOpen(ctx)
	if err != nil {
		return err
	}

	today := j.today()
	for _, task := range open {
		issue, err := j.gateway.GetIssue(ctx, task.Key)
		if err != nil {
			j.logger.WarnContext(ctx, "overdue check fetch failed", "key", task.Key, "error", err)
			continue
		}
		if issue.Deadline == "" || issue.Deadline >= today {
			continue
		}

		ok, err := j.marker.Acquire(ctx, fmt.Sprintf("overdue:%s:%s", task.Key, today))
		if err != nil {
			j.logger.WarnContext(ctx, "once marker unavailable", "key", task.Key, "error", err)
			continue
		}
		if !ok {
			continue
		}
		j.notifier.Notify(ctx, task.CreatorID, renderOverdueNotice(task, issue.Deadline, j.defaults.IssueBaseURL))
	}
	return nil
}

// AssigneeDigest sends each configured person the list of unfinished issues
// assigned to them on the remote side.
func (j *Jobs) AssigneeDigest(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Job: "assignee_digest"})

	today := j.today()
	for login, handle := range j.routing.LoginHandles {
		identity, err := j.identities.GetByUsername(ctx, handle)
		if err != nil {
			continue // never wrote to the bot, nowhere to deliver
		}

		issues, err := j.gateway.SearchIssues(ctx, map[string]any{"assignee": login})
		if err != nil {
			// The marker is untouched; the next run retries this person.
			j.logger.WarnContext(ctx, "assignee search failed", "login", login, "error", err)
			continue
		}

		var pending []tracker.Issue
		for _, issue := range issues {
			if j.classifier.ClassifyStatus(issue.Status) != tracker.StatusCompleted {
				pending = append(pending, issue)
			}
		}
		if len(pending) == 0 {
			continue
		}

		ok, err := j.marker.Acquire(ctx, fmt.Sprintf("digest:assignee:%s:%s", login, today))
		if err != nil || !ok {
			continue
		}

		var b strings.Builder
		fmt.Fprintf(&b, "🗓 Ваши задачи на сегодня (%d):\n", len(pending))
		for _, issue := range pending {
			fmt.Fprintf(&b, "• %s — %s\n  %s\n", issue.Key, issue.Summary, issueLink(j.defaults.IssueBaseURL, issue.Key))
		}
		j.notifier.Notify(ctx, identity.UserID, strings.TrimRight(b.String(), "\n"))
	}
	return nil
}

// DepartmentDigest posts per-queue open task counts to the notify-all set.
func (j *Jobs) DepartmentDigest(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Job: "department_digest"})

	ok, err := j.marker.Acquire(ctx, "digest:department:"+j.today())
	if err != nil || !ok {
		return err
	}

	codes := make([]string, 0, len(j.routing.Departments))
	for code := range j.routing.Departments {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var b strings.Builder
	b.WriteString("📊 Открытые задачи по отделам:\n")
	total := 0
	for _, code := range codes {
		dept := j.routing.Departments[code]
		open, err := j.tasks.ListByQueue(ctx, dept.Queue, model.TaskStatusOpen)
		if err != nil {
			j.logger.WarnContext(ctx, "queue listing failed", "queue", dept.Queue, "error", err)
			continue
		}
		if len(open) == 0 {
			continue
		}
		total += len(open)
		fmt.Fprintf(&b, "• %s (%s): %d\n", dept.Name, dept.Queue, len(open))
	}
	if partners, err := j.tasks.ListByQueue(ctx, j.routing.PartnersQueue, model.TaskStatusOpen); err == nil && len(partners) > 0 {
		total += len(partners)
		fmt.Fprintf(&b, "• Партнёры (%s): %d\n", j.routing.PartnersQueue, len(partners))
	}
	if total == 0 {
		b.WriteString("Открытых задач нет. 🎉")
	}

	j.notifier.Broadcast(ctx, j.routing.NotifyAllIDs, strings.TrimRight(b.String(), "\n"))
	return nil
}

// WeeklyReport aggregates creations and closures over the past seven days.
func (j *Jobs) WeeklyReport(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Job: "weekly_report"})

	year, week := time.Now().In(j.location).ISOWeek()
	ok, err := j.marker.Acquire(ctx, fmt.Sprintf("report:week:%d-%02d", year, week))
	if err != nil || !ok {
		return err
	}

	weekAgo := time.Now().AddDate(0, 0, -7)
	createdCount := 0
	closedCount := 0
	for _, task := range j.allTasks(ctx) {
		if task.CreatedAt.After(weekAgo) {
			createdCount++
		}
		if task.Status == model.TaskStatusClosed && task.UpdatedAt.After(weekAgo) {
			closedCount++
		}
	}

	text := fmt.Sprintf("📈 Итоги недели:\nсоздано задач: %d\nзакрыто задач: %d", createdCount, closedCount)
	j.notifier.Broadcast(ctx, j.routing.NotifyAllIDs, text)
	return nil
}

// allTasks walks every configured queue; the routing tables cover all queues
// this system ever creates issues in.
func (j *Jobs) allTasks(ctx context.Context) []model.TrackedTask {
	seen := make(map[string]bool)
	var all []model.TrackedTask

	queues := []string{j.routing.PartnersQueue, j.routing.DefaultQueue}
	for _, dept := range j.routing.Departments {
		queues = append(queues, dept.Queue)
	}
	for _, queue := range queues {
		tasks, err := j.tasks.ListByQueue(ctx, queue, "")
		if err != nil {
			j.logger.WarnContext(ctx, "queue listing failed", "queue", queue, "error", err)
			continue
		}
		for _, t := range tasks {
			if seen[t.Key] {
				continue
			}
			seen[t.Key] = true
			all = append(all, t)
		}
	}
	return all
}
