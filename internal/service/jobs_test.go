package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taskgate.app/bot/internal/model"
	"taskgate.app/bot/internal/service"
	"taskgate.app/bot/internal/store"
	"taskgate.app/bot/internal/tracker"
)

var _ = Describe("Jobs", func() {
	var (
		ctx     context.Context
		tasks   *store.DocumentStore
		gateway *mockGateway
		sender  *mockSender
		marker  *mockOnceMarker
		jobs    *service.Jobs
	)

	const creatorChat = int64(777)

	BeforeEach(func() {
		ctx = context.Background()
		tasks = newTestStore()
		gateway = &mockGateway{}
		sender = &mockSender{}
		marker = newMockOnceMarker()

		classifier := tracker.NewStatusClassifier(testStatusAliases())
		notifier := service.NewNotifier(sender, nil)
		jobs = service.NewJobs(tasks, tasks, gateway, notifier, marker, classifier, testRouting(), testDefaults(), time.UTC, nil)
	})

	seedOpen := func(key string) {
		Expect(tasks.Put(ctx, &model.TrackedTask{
			Key:       key,
			Summary:   "задача " + key,
			Queue:     "HR",
			CreatorID: creatorChat,
			Status:    model.TaskStatusOpen,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})).To(Succeed())
	}

	Describe("OverdueSweep", func() {
		It("reminds the creator once per day about a past deadline", func() {
			seedOpen("HR-1")
			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return &tracker.Issue{Key: key, Deadline: "2020-01-01", Status: tracker.Status{Key: "open"}}, nil
			}

			Expect(jobs.OverdueSweep(ctx)).To(Succeed())
			Expect(sender.SentTo(creatorChat)).To(HaveLen(1))
			Expect(sender.SentTo(creatorChat)[0].Text).To(ContainSubstring("просрочена"))

			// Second sweep the same day stays silent.
			Expect(jobs.OverdueSweep(ctx)).To(Succeed())
			Expect(sender.SentTo(creatorChat)).To(HaveLen(1))
		})

		It("leaves tasks without a deadline alone", func() {
			seedOpen("HR-1")
			gateway.getIssueFn = func(ctx context.Context, key string) (*tracker.Issue, error) {
				return &tracker.Issue{Key: key, Status: tracker.Status{Key: "open"}}, nil
			}

			Expect(jobs.OverdueSweep(ctx)).To(Succeed())
			Expect(sender.Sent()).To(BeEmpty())
		})
	})

	Describe("AssigneeDigest", func() {
		It("sends each reachable assignee their unfinished issues", func() {
			Expect(tasks.Register(ctx, &model.Identity{UserID: 555, Username: "ivanov"})).To(Succeed())

			gateway.searchIssuesFn = func(ctx context.Context, filter map[string]any) ([]tracker.Issue, error) {
				Expect(filter["assignee"]).To(Equal("i.ivanov"))
				return []tracker.Issue{
					{Key: "HR-1", Summary: "открытая", Status: tracker.Status{Key: "open"}},
					{Key: "HR-2", Summary: "уже готова", Status: tracker.Status{Key: "closed"}},
				}, nil
			}

			Expect(jobs.AssigneeDigest(ctx)).To(Succeed())

			digest := sender.SentTo(555)
			Expect(digest).To(HaveLen(1))
			Expect(digest[0].Text).To(ContainSubstring("HR-1"))
			Expect(digest[0].Text).NotTo(ContainSubstring("HR-2"))
		})

		It("skips logins whose handle never wrote to the bot", func() {
			Expect(jobs.AssigneeDigest(ctx)).To(Succeed())
			Expect(sender.Sent()).To(BeEmpty())
		})

		It("retries after a failed search instead of losing the day's digest", func() {
			Expect(tasks.Register(ctx, &model.Identity{UserID: 555, Username: "ivanov"})).To(Succeed())

			failing := true
			gateway.searchIssuesFn = func(ctx context.Context, filter map[string]any) ([]tracker.Issue, error) {
				if failing {
					return nil, errors.New("service unavailable")
				}
				return []tracker.Issue{
					{Key: "HR-1", Summary: "открытая", Status: tracker.Status{Key: "open"}},
				}, nil
			}

			Expect(jobs.AssigneeDigest(ctx)).To(Succeed())
			Expect(sender.Sent()).To(BeEmpty())

			// The daily marker must survive the failure so the retry delivers.
			failing = false
			Expect(jobs.AssigneeDigest(ctx)).To(Succeed())

			digest := sender.SentTo(555)
			Expect(digest).To(HaveLen(1))
			Expect(digest[0].Text).To(ContainSubstring("HR-1"))

			// And the delivered digest is still latched for the day.
			Expect(jobs.AssigneeDigest(ctx)).To(Succeed())
			Expect(sender.SentTo(555)).To(HaveLen(1))
		})
	})

	Describe("DepartmentDigest", func() {
		It("posts per-queue counts to the notify-all set once per day", func() {
			seedOpen("HR-1")
			seedOpen("HR-2")

			Expect(jobs.DepartmentDigest(ctx)).To(Succeed())

			digest := sender.SentTo(900)
			Expect(digest).To(HaveLen(1))
			Expect(digest[0].Text).To(ContainSubstring("HR"))
			Expect(digest[0].Text).To(ContainSubstring("2"))

			Expect(jobs.DepartmentDigest(ctx)).To(Succeed())
			Expect(sender.SentTo(900)).To(HaveLen(1))
		})
	})

	Describe("WeeklyReport", func() {
		It("aggregates the week's creations and closures", func() {
			seedOpen("HR-1")
			closed := model.TrackedTask{
				Key:       "HR-2",
				Summary:   "закрытая",
				Queue:     "HR",
				CreatorID: creatorChat,
				Status:    model.TaskStatusClosed,
				CreatedAt: time.Now().AddDate(0, 0, -3),
				UpdatedAt: time.Now().AddDate(0, 0, -1),
			}
			Expect(tasks.Put(ctx, &closed)).To(Succeed())

			Expect(jobs.WeeklyReport(ctx)).To(Succeed())

			report := sender.SentTo(900)
			Expect(report).To(HaveLen(1))
			Expect(report[0].Text).To(ContainSubstring("создано задач: 2"))
			Expect(report[0].Text).To(ContainSubstring("закрыто задач: 1"))
		})
	})
})
