package service_test

import (
	"context"
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskgate.app/bot/internal/chat"
	"taskgate.app/bot/internal/queue"
	"taskgate.app/bot/internal/router"
	"taskgate.app/bot/internal/service"
	"taskgate.app/bot/internal/store"
)

type stubCommands struct {
	handled   []string
	callbacks []string
}

func (s *stubCommands) Handle(ctx context.Context, event chat.Event) bool {
	s.handled = append(s.handled, event.Command)
	return true
}

func (s *stubCommands) HandleCallback(ctx context.Context, event chat.Event) bool {
	s.callbacks = append(s.callbacks, event.CallbackData)
	return true
}

type stubRelay struct {
	claim  bool
	events []chat.Event
}

func (s *stubRelay) Relay(ctx context.Context, event chat.Event) bool {
	s.events = append(s.events, event)
	return s.claim
}

type stubCreator struct {
	created []router.Classification
}

func (s *stubCreator) Create(ctx context.Context, event chat.Event, c router.Classification) error {
	s.created = append(s.created, c)
	return nil
}

var _ = Describe("UpdateProcessor", func() {
	var (
		ctx        context.Context
		identities *store.DocumentStore
		commands   *stubCommands
		relay      *stubRelay
		creator    *stubCreator
		sender     *mockSender
		processor  *service.UpdateProcessor
	)

	BeforeEach(func() {
		ctx = context.Background()
		identities = newTestStore()
		commands = &stubCommands{}
		relay = &stubRelay{}
		creator = &stubCreator{}
		sender = &mockSender{}

		routing := testRouting()
		processor = service.NewUpdateProcessor(
			identities,
			commands,
			relay,
			router.New(routing),
			creator,
			service.NewNotifier(sender, nil),
			routing,
			nil,
		)
	})

	enqueue := func(update tgbotapi.Update) queue.Message {
		payload, err := json.Marshal(update)
		Expect(err).NotTo(HaveOccurred())
		return queue.Message{ID: "1-0", EventID: 1, Payload: payload, Attempt: 1}
	}

	messageUpdate := func(text string, userID int64) tgbotapi.Update {
		return tgbotapi.Update{
			UpdateID: 7,
			Message: &tgbotapi.Message{
				MessageID: 5,
				From:      &tgbotapi.User{ID: userID, UserName: "Petrov", FirstName: "Пётр"},
				Chat:      &tgbotapi.Chat{ID: -100123, Type: "supergroup"},
				Text:      text,
			},
		}
	}

	It("registers the sender's identity from any message", func() {
		Expect(processor.Process(ctx, enqueue(messageUpdate("всем привет", 777)))).To(Succeed())

		identity, err := identities.GetByUsername(ctx, "petrov")
		Expect(err).NotTo(HaveOccurred())
		Expect(identity.UserID).To(Equal(int64(777)))
	})

	It("routes a department request to the creator", func() {
		Expect(processor.Process(ctx, enqueue(messageUpdate("#hr найти рекрутера", 777)))).To(Succeed())

		Expect(creator.created).To(HaveLen(1))
		Expect(creator.created[0].Kind).To(Equal(router.KindDepartmentTask))
		Expect(creator.created[0].Department).To(Equal("hr"))
	})

	It("rejects the task marker from a non-manager with a visible reply", func() {
		Expect(processor.Process(ctx, enqueue(messageUpdate("#задача сделать что-то", 777)))).To(Succeed())

		Expect(creator.created).To(BeEmpty())
		Expect(sender.SentTo(-100123)).To(HaveLen(1))
		Expect(sender.SentTo(-100123)[0].Text).To(HavePrefix("⛔"))
	})

	It("lets a manager use the task marker", func() {
		Expect(processor.Process(ctx, enqueue(messageUpdate("#задача сделать что-то", 100)))).To(Succeed())
		Expect(creator.created).To(HaveLen(1))
		Expect(creator.created[0].Kind).To(Equal(router.KindPartnerTask))
	})

	It("gives the comment relay first claim on replies", func() {
		relay.claim = true
		update := messageUpdate("#hr выглядит как задача", 777)
		update.Message.ReplyToMessage = &tgbotapi.Message{MessageID: 4, Text: "Задача MNG-1"}

		Expect(processor.Process(ctx, enqueue(update))).To(Succeed())

		Expect(relay.events).To(HaveLen(1))
		Expect(creator.created).To(BeEmpty())
	})

	It("dispatches callbacks to the command handler", func() {
		update := tgbotapi.Update{
			CallbackQuery: &tgbotapi.CallbackQuery{
				ID:   "cb-1",
				Data: "complete_HR-1",
				From: &tgbotapi.User{ID: 777, UserName: "petrov"},
				Message: &tgbotapi.Message{
					MessageID: 9,
					Chat:      &tgbotapi.Chat{ID: 777, Type: "private"},
				},
			},
		}

		Expect(processor.Process(ctx, enqueue(update))).To(Succeed())
		Expect(commands.callbacks).To(Equal([]string{"complete_HR-1"}))
	})

	It("swallows undecodable payloads instead of requeueing them", func() {
		msg := queue.Message{ID: "1-0", EventID: 1, Payload: []byte("{not json"), Attempt: 1}
		Expect(processor.Process(ctx, msg)).To(Succeed())
	})

	It("ignores plain chatter", func() {
		Expect(processor.Process(ctx, enqueue(messageUpdate("как дела?", 777)))).To(Succeed())
		Expect(creator.created).To(BeEmpty())
		Expect(sender.Sent()).To(BeEmpty())
	})
})
