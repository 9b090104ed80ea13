package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"taskgate.app/bot/common/id"
	"taskgate.app/bot/internal/queue"
)

const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramWebhookHandler accepts raw bot updates and hands them to the
// stream. Updates are not interpreted here; the worker owns all semantics,
// so a slow tracker call can never stall the webhook.
type TelegramWebhookHandler struct {
	producer queue.Producer
	secret   string
	logger   *slog.Logger
}

func NewTelegramWebhookHandler(producer queue.Producer, secret string, logger *slog.Logger) *TelegramWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramWebhookHandler{
		producer: producer,
		secret:   secret,
		logger:   logger,
	}
}

func (h *TelegramWebhookHandler) HandleUpdate(c *gin.Context) {
	ctx := c.Request.Context()

	if h.secret != "" && c.GetHeader(secretTokenHeader) != h.secret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid secret token"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	msg := queue.UpdateMessage{
		EventID: id.New(),
		Payload: body,
		Attempt: 1,
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		traceID := spanCtx.TraceID().String()
		msg.TraceID = &traceID
	}

	if err := h.producer.Enqueue(ctx, msg); err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue update",
			"error", err,
			"event_id", msg.EventID,
			"update_id", update.UpdateID,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue update"})
		return
	}

	h.logger.InfoContext(ctx, "telegram update accepted",
		"event_id", msg.EventID,
		"update_id", update.UpdateID,
	)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
