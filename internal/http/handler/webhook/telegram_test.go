package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"taskgate.app/bot/common/id"
	"taskgate.app/bot/internal/http/handler/webhook"
	"taskgate.app/bot/internal/queue"
)

type fakeProducer struct {
	enqueued []queue.UpdateMessage
	fail     bool
}

func (f *fakeProducer) Enqueue(ctx context.Context, msg queue.UpdateMessage) error {
	if f.fail {
		return errors.New("stream unavailable")
	}
	f.enqueued = append(f.enqueued, msg)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

var _ = Describe("TelegramWebhookHandler", func() {
	var (
		router   *gin.Engine
		producer *fakeProducer
	)

	BeforeEach(func() {
		Expect(id.Init(1)).To(Succeed())
		gin.SetMode(gin.TestMode)
		router = gin.New()
		producer = &fakeProducer{}

		h := webhook.NewTelegramWebhookHandler(producer, "secret", nil)
		router.POST("/webhook/telegram", h.HandleUpdate)
	})

	post := func(payload []byte, secret string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		if secret != "" {
			req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("enqueues the raw body of a valid update", func() {
		payload, _ := json.Marshal(map[string]any{
			"update_id": 42,
			"message": map[string]any{
				"message_id": 5,
				"text":       "#hr найти рекрутера",
				"chat":       map[string]any{"id": -100123, "type": "supergroup"},
				"from":       map[string]any{"id": 777, "username": "petrov"},
			},
		})

		w := post(payload, "secret")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(producer.enqueued).To(HaveLen(1))
		Expect(producer.enqueued[0].Payload).To(Equal(payload))
		Expect(producer.enqueued[0].EventID).NotTo(BeZero())
		Expect(producer.enqueued[0].Attempt).To(Equal(1))
	})

	It("rejects a wrong secret token", func() {
		w := post([]byte(`{"update_id":1}`), "wrong")
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(producer.enqueued).To(BeEmpty())
	})

	It("rejects a missing secret token", func() {
		w := post([]byte(`{"update_id":1}`), "")
		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects a body that is not an update", func() {
		w := post([]byte("{not json"), "secret")
		Expect(w.Code).To(Equal(http.StatusBadRequest))
		Expect(producer.enqueued).To(BeEmpty())
	})

	It("reports a stream failure so the platform retries delivery", func() {
		producer.fail = true
		w := post([]byte(`{"update_id":1}`), "secret")
		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})
