package router

import (
	"github.com/gin-gonic/gin"

	"taskgate.app/bot/internal/http/handler/webhook"
)

func SetupRoutes(router *gin.Engine, telegramHandler *webhook.TelegramWebhookHandler) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	router.POST("/webhook/telegram", telegramHandler.HandleUpdate)
}
