package service_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taskgate.app/bot/internal/model"
	"taskgate.app/bot/internal/service"
	"taskgate.app/bot/internal/store"
	"taskgate.app/bot/internal/tracker"
)

var _ = Describe("Reconciler", func() {
	var (
		ctx     context.Context
		tasks   *store.DocumentStore
		gateway *mockGateway
		sender  *mockSender
		rec     service.Reconciler
	)

	const (
		creatorChat  = int64(777)
		assigneeChat = int64(555)
	)

	put := func(task model.TrackedTask) {
		Expect(tasks.Put(ctx, &task)).To(Succeed())
	}

	baseTask := func() model.TrackedTask {
		return model.TrackedTask{
			Key:          "HR-1",
			OriginChatID: -100123,
			Summary:      "найти рекрутера",
			Queue:        "HR",
			Department:   "hr",
			CreatorID:    creatorChat,
			Status:       model.TaskStatusOpen,
			CreatedAt:    time.Now(),
			UpdatedAt:    time.Now(),
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		tasks = newTestStore()
		gateway = &mockGateway{}
		sender = &mockSender{}

		Expect(tasks.Register(ctx, &model.Identity{UserID: assigneeChat, Username: "ivanov"})).To(Succeed())

		classifier := tracker.NewStatusClassifier(testStatusAliases())
		notifier := service.NewNotifier(sender, nil)
		rec = service.NewReconciler(tasks, tasks, gateway, notifier, sender, classifier, testRouting(), testDefaults(), 2, nil)
	})

	remoteIssue := func(statusKey, assignee string) *tracker.Issue {
		issue := &tracker.Issue{
			Key:     "HR-1",
			Summary: "найти рекрутера",
			Status:  tracker.Status{Key: statusKey, Display: statusKey},
		}
		if assignee != "" {
			issue.Assignee = &tracker.UserRef{Login: assignee}
		}
		return issue
	}

	Describe("failed fetch", func() {
		It("leaves cursors untouched and sends nothing", func() {
			task := baseTask()
			task.LastAssignee = "i.ivanov"
			task.LastCommentCount = 3
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return nil, errors.New("connection refused")
			}

			Expect(rec.Run(ctx)).To(Succeed())

			after, err := tasks.Get(ctx, "HR-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(after.LastAssignee).To(Equal("i.ivanov"))
			Expect(after.LastCommentCount).To(Equal(3))
			Expect(after.Status).To(Equal(model.TaskStatusOpen))
			Expect(sender.Sent()).To(BeEmpty())
		})
	})

	Describe("closure detection", func() {
		It("closes the task, notifies the creator once, and retracts the complete action", func() {
			task := baseTask()
			task.DMRef = &model.MessageRef{ChatID: creatorChat, MessageID: 33}
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("closed", ""), nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			after, err := tasks.Get(ctx, "HR-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(after.Status).To(Equal(model.TaskStatusClosed))
			Expect(after.DMRef).To(BeNil())

			notices := sender.SentTo(creatorChat)
			Expect(notices).To(HaveLen(1))
			Expect(notices[0].Text).To(ContainSubstring("закрыта"))
			Expect(sender.cleared).To(HaveLen(1))

			// Second cycle: the task is closed, nothing more happens.
			Expect(rec.Run(ctx)).To(Succeed())
			Expect(sender.SentTo(creatorChat)).To(HaveLen(1))
		})

		It("recognizes completion by display label when the key is unhelpful", func() {
			put(baseTask())
			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				issue := remoteIssue("someCustomKey", "")
				issue.Status.Display = "Закрыта"
				return issue, nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			after, _ := tasks.Get(ctx, "HR-1")
			Expect(after.Status).To(Equal(model.TaskStatusClosed))
		})
	})

	Describe("approval detection", func() {
		It("notifies the approval set exactly once per entry into the stage", func() {
			task := baseTask()
			task.LastStatusKey = "open"
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("needsApproval", ""), nil
			}

			Expect(rec.Run(ctx)).To(Succeed())
			Expect(sender.SentTo(901)).To(HaveLen(1))
			Expect(sender.SentTo(901)[0].Text).To(ContainSubstring("согласования"))

			// Status cursor now caches needsApproval; a second cycle in the
			// same stage is silent.
			Expect(rec.Run(ctx)).To(Succeed())
			Expect(sender.SentTo(901)).To(HaveLen(1))
		})

		It("stays silent across cycles when only the display label marks the stage", func() {
			task := baseTask()
			task.LastStatusKey = "open"
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				issue := remoteIssue("approvalStage42", "")
				issue.Status.Display = "На согласовании"
				return issue, nil
			}

			for i := 0; i < 3; i++ {
				Expect(rec.Run(ctx)).To(Succeed())
			}

			// The cached display label is classified too, so only the first
			// cycle counts as entering the stage.
			Expect(sender.SentTo(901)).To(HaveLen(1))

			after, _ := tasks.Get(ctx, "HR-1")
			Expect(after.LastStatusDisplay).To(Equal("На согласовании"))
		})
	})

	Describe("assignee detection", func() {
		It("notifies only the assignee on first assignment", func() {
			put(baseTask())
			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("open", "i.ivanov"), nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			Expect(sender.SentTo(assigneeChat)).To(HaveLen(1))
			Expect(sender.SentTo(assigneeChat)[0].Text).To(ContainSubstring("назначена"))
			Expect(sender.SentTo(creatorChat)).To(BeEmpty())

			after, _ := tasks.Get(ctx, "HR-1")
			Expect(after.LastAssignee).To(Equal("i.ivanov"))
		})

		It("notifies only the creator on reassignment", func() {
			task := baseTask()
			task.LastAssignee = "i.ivanov"
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("open", "p.petrov"), nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			Expect(sender.SentTo(creatorChat)).To(HaveLen(1))
			Expect(sender.SentTo(creatorChat)[0].Text).To(ContainSubstring("p.petrov"))
			Expect(sender.SentTo(assigneeChat)).To(BeEmpty())

			after, _ := tasks.Get(ctx, "HR-1")
			Expect(after.LastAssignee).To(Equal("p.petrov"))
		})

		It("treats a vanished remote assignee as no change", func() {
			task := baseTask()
			task.LastAssignee = "i.ivanov"
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("open", ""), nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			Expect(sender.Sent()).To(BeEmpty())
			after, _ := tasks.Get(ctx, "HR-1")
			Expect(after.LastAssignee).To(Equal("i.ivanov"))
		})
	})

	Describe("comment detection", func() {
		It("relays only genuinely new external comments and never echoes its own", func() {
			task := baseTask()
			task.LastCommentCount = 1
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("open", ""), nil
			}
			gateway.listCommentsFn = func(ctx context.Context, key string) ([]tracker.Comment, error) {
				return []tracker.Comment{
					{ID: 1, Text: "старый комментарий"},
					{ID: 2, Text: "💬 Комментарий от @ivanov:\nпересланный текст"},
					{ID: 3, Text: "настоящий ответ исполнителя", CreatedBy: &tracker.UserRef{Display: "Пётр"}},
				}, nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			notices := sender.SentTo(creatorChat)
			Expect(notices).To(HaveLen(1))
			Expect(notices[0].Text).To(ContainSubstring("настоящий ответ"))
			Expect(notices[0].Text).To(ContainSubstring("Пётр"))

			// Cursor advances past the relayed comment too.
			after, _ := tasks.Get(ctx, "HR-1")
			Expect(after.LastCommentCount).To(Equal(3))
		})

		It("keeps the comment cursor when the comment fetch fails", func() {
			task := baseTask()
			task.LastCommentCount = 2
			put(task)

			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("open", ""), nil
			}
			gateway.listCommentsFn = func(ctx context.Context, key string) ([]tracker.Comment, error) {
				return nil, errors.New("timeout")
			}

			Expect(rec.Run(ctx)).To(Succeed())

			after, _ := tasks.Get(ctx, "HR-1")
			Expect(after.LastCommentCount).To(Equal(2))
			Expect(sender.Sent()).To(BeEmpty())
		})

		It("truncates long comment previews", func() {
			put(baseTask())

			long := ""
			for i := 0; i < 30; i++ {
				long += "0123456789"
			}
			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return remoteIssue("open", ""), nil
			}
			gateway.listCommentsFn = func(ctx context.Context, key string) ([]tracker.Comment, error) {
				return []tracker.Comment{{ID: 1, Text: long}}, nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			notices := sender.SentTo(creatorChat)
			Expect(notices).To(HaveLen(1))
			Expect(notices[0].Text).To(ContainSubstring("..."))
			Expect(notices[0].Text).NotTo(ContainSubstring(long))
		})
	})

	Describe("many tasks", func() {
		It("processes every open task under the bounded pool", func() {
			for i := 1; i <= 20; i++ {
				task := baseTask()
				task.Key = fmt.Sprintf("HR-%d", i)
				put(task)
			}
			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return &tracker.Issue{Key: key, Status: tracker.Status{Key: "closed"}}, nil
			}

			Expect(rec.Run(ctx)).To(Succeed())

			open, err := tasks.ListOpen(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(BeEmpty())
			Expect(sender.SentTo(creatorChat)).To(HaveLen(20))
		})
	})
})
