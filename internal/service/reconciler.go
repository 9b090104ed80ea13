package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskgate.app/bot/common/logger"
	"taskgate.app/bot/core/config"
	"taskgate.app/bot/internal/model"
	"taskgate.app/bot/internal/store"
	"taskgate.app/bot/internal/tracker"
)

const commentPreviewLen = 200

// Reconciler is the periodic change-data-capture loop: for every open
// tracked task it pulls remote state, runs four independent detectors
// against the task's cursors, persists the cursor advance, and fans out
// notifications. Detector order within one task is fixed: closure, approval,
// assignee, comments.
type Reconciler interface {
	Run(ctx context.Context) error
}

type reconciler struct {
	tasks      store.TaskStore
	identities store.IdentityStore
	gateway    TrackerGateway
	notifier   *Notifier
	sender     actionClearer
	classifier *tracker.StatusClassifier
	routing    config.Routing
	defaults   config.Defaults
	workers    int
	logger     *slog.Logger
}

// actionClearer is the slice of the chat sender the reconciler needs to
// retract a "complete" button once a task closes.
type actionClearer interface {
	ClearActions(ctx context.Context, chatID int64, messageID int) error
}

func NewReconciler(
	tasks store.TaskStore,
	identities store.IdentityStore,
	gateway TrackerGateway,
	notifier *Notifier,
	sender actionClearer,
	classifier *tracker.StatusClassifier,
	routing config.Routing,
	defaults config.Defaults,
	workers int,
	logger *slog.Logger,
) Reconciler {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &reconciler{
		tasks:      tasks,
		identities: identities,
		gateway:    gateway,
		notifier:   notifier,
		sender:     sender,
		classifier: classifier,
		routing:    routing,
		defaults:   defaults,
		workers:    workers,
		logger:     logger,
	}
}

func (r *reconciler) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "taskgate.service.reconciler",
		Job:       "reconcile",
	})

	open, err := r.tasks.ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	start := time.Now()
	r.logger.InfoContext(ctx, "reconciliation cycle started", "open_tasks", len(open))

	// Tasks are independent of each other; the store serializes writes per
	// key, so a bounded pool is safe.
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for _, task := range open {
		wg.Add(1)
		sem <- struct{}{}
		go func(task model.TrackedTask) {
			defer wg.Done()
			defer func() { <-sem }()
			r.reconcileOne(ctx, task)
		}(task)
	}
	wg.Wait()

	r.logger.InfoContext(ctx, "reconciliation cycle finished",
		"open_tasks", len(open),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *reconciler) reconcileOne(ctx context.Context, cached model.TrackedTask) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{TaskKey: logger.Ptr(cached.Key)})

	issue, err := r.gateway.GetIssue(ctx, cached.Key)
	if err != nil || issue == nil {
		// Never mutate cursors or close a task on a failed fetch.
		r.logger.WarnContext(ctx, "remote fetch failed, skipping task this cycle", "error", err)
		return
	}

	remoteClass := r.classifier.ClassifyStatus(issue.Status)
	cachedClass := r.classifier.Classify(cached.LastStatusKey, cached.LastStatusDisplay)

	closing := remoteClass == tracker.StatusCompleted && cached.Status == model.TaskStatusOpen
	approval := remoteClass == tracker.StatusNeedsApproval && cachedClass != tracker.StatusNeedsApproval

	remoteAssignee := ""
	if issue.Assignee != nil {
		remoteAssignee = issue.Assignee.Login
	}
	// An empty remote assignee is treated as "no information", not an
	// unassignment; the cursor keeps its last known value.
	firstAssignment := remoteAssignee != "" && cached.LastAssignee == ""
	reassignment := remoteAssignee != "" && cached.LastAssignee != "" && remoteAssignee != cached.LastAssignee

	comments, commentsErr := r.gateway.ListComments(ctx, cached.Key)
	var freshComments []tracker.Comment
	if commentsErr != nil {
		r.logger.WarnContext(ctx, "comment fetch failed, skipping comment detection", "error", commentsErr)
	} else if len(comments) > cached.LastCommentCount {
		freshComments = comments[cached.LastCommentCount:]
	}

	var clearedRef *model.MessageRef
	updated, err := r.tasks.Update(ctx, cached.Key, func(t *model.TrackedTask) error {
		t.LastStatusKey = issue.Status.Key
		t.LastStatusDisplay = issue.Status.Display
		if remoteAssignee != "" {
			t.LastAssignee = remoteAssignee
		}
		if commentsErr == nil {
			t.LastCommentCount = len(comments)
		}
		if closing {
			t.Status = model.TaskStatusClosed
			clearedRef = t.DMRef
			t.DMRef = nil
		}
		t.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to persist cursors", "error", err)
		return
	}

	// Cursors are already persisted; from here every delivery is best
	// effort and never re-runs detection.
	if closing {
		r.notifier.Notify(ctx, updated.CreatorID, renderClosureNotice(*updated, r.defaults.IssueBaseURL))
		if clearedRef != nil {
			if err := r.sender.ClearActions(ctx, clearedRef.ChatID, clearedRef.MessageID); err != nil {
				r.logger.WarnContext(ctx, "failed to retract complete action", "error", err)
			}
		}
	}

	if approval {
		r.notifier.Broadcast(ctx, r.routing.ApprovalNotifyIDs, renderApprovalNotice(*updated, r.defaults.IssueBaseURL))
	}

	if firstAssignment {
		// Initial assignment is routine: tell the assignee, not the creator.
		if chatID, ok := r.chatIDForLogin(ctx, remoteAssignee); ok {
			r.notifier.Notify(ctx, chatID, renderAssignedNotice(*updated, r.defaults.IssueBaseURL))
		} else {
			r.logger.InfoContext(ctx, "assignee has no reachable chat, skipping notice", "assignee", remoteAssignee)
		}
	} else if reassignment {
		r.notifier.Notify(ctx, updated.CreatorID, renderReassignedNotice(*updated, remoteAssignee, r.defaults.IssueBaseURL))
	}

	for _, comment := range freshComments {
		if strings.HasPrefix(comment.Text, relayMarker) {
			continue // our own relayed comment, don't echo it back
		}
		author := ""
		if comment.CreatedBy != nil {
			author = comment.CreatedBy.Display
		}
		preview := logger.Truncate(comment.Text, commentPreviewLen)
		r.notifier.Notify(ctx, updated.CreatorID, renderNewCommentNotice(*updated, author, preview, r.defaults.IssueBaseURL))
	}
}

// chatIDForLogin resolves a tracker login to a chat id via the static
// login-to-handle table and the lazily built identity records.
func (r *reconciler) chatIDForLogin(ctx context.Context, login string) (int64, bool) {
	handle, ok := r.routing.HandleForLogin(login)
	if !ok {
		return 0, false
	}
	identity, err := r.identities.GetByUsername(ctx, handle)
	if err != nil {
		return 0, false
	}
	return identity.UserID, true
}
