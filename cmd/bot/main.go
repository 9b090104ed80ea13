package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"taskgate.app/bot/common/id"
	"taskgate.app/bot/common/logger"
	"taskgate.app/bot/common/otel"
	"taskgate.app/bot/core/config"
	"taskgate.app/bot/internal/chat"
	"taskgate.app/bot/internal/http/handler/webhook"
	"taskgate.app/bot/internal/http/middleware"
	httprouter "taskgate.app/bot/internal/http/router"
	"taskgate.app/bot/internal/queue"
	"taskgate.app/bot/internal/router"
	"taskgate.app/bot/internal/sched"
	"taskgate.app/bot/internal/service"
	"taskgate.app/bot/internal/store"
	"taskgate.app/bot/internal/tracker"
	"taskgate.app/bot/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "taskgate starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	location, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load schedule timezone", "error", err, "timezone", cfg.Schedule.Timezone)
		os.Exit(1)
	}

	db, err := store.Open(cfg.StoreFile)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open task store", "error", err, "path", cfg.StoreFile)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "task store opened", "path", cfg.StoreFile)

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to telegram", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "telegram connected", "bot", botAPI.Self.UserName)

	if cfg.Telegram.WebhookURL != "" {
		if err := registerWebhook(botAPI, cfg.Telegram); err != nil {
			slog.ErrorContext(ctx, "failed to register telegram webhook", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "telegram webhook registered", "url", cfg.Telegram.WebhookURL)
	}

	trackerClient := tracker.NewClient(cfg.Tracker)
	classifier := tracker.NewStatusClassifier(cfg.Statuses)
	gateway := tracker.NewGateway(trackerClient, classifier)

	sender := chat.NewTelegram(botAPI)
	notifier := service.NewNotifier(sender, nil)
	boards := service.NewBoardCache(gateway, cfg.Routing.AutoCreateBoards, nil)
	creator := service.NewTaskCreator(db, gateway, sender, notifier, boards, cfg.Routing, cfg.Defaults, nil)
	relay := service.NewCommentRelay(db, gateway, sender, nil)
	commands := service.NewCommands(db, gateway, sender, notifier, classifier, cfg.Routing, cfg.Defaults, nil)
	processor := service.NewUpdateProcessor(db, commands, relay, router.New(cfg.Routing), creator, notifier, cfg.Routing, nil)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQ,
		BatchSize:    1, // Process one update at a time
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, processor, worker.Config{
		MaxAttempts: 3,
	})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, w.ProcessMessage)

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go func() {
		reclaimer.Run(ctx)
		errCh <- nil
	}()

	marker := service.NewRedisOnceMarker(redisClient, 0)
	reconciler := service.NewReconciler(db, db, gateway, notifier, sender, classifier, cfg.Routing, cfg.Defaults, 0, nil)
	jobs := service.NewJobs(db, db, gateway, notifier, marker, classifier, cfg.Routing, cfg.Defaults, location, nil)

	scheduler, err := setupScheduler(cfg.Schedule, location, reconciler, jobs)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up scheduler", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := setupRouter(cfg, producer)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	scheduler.Stop()

	// Stop reclaimer first (quick), then the worker which may be mid-message
	reclaimer.Stop()
	w.Stop()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// registerWebhook goes through MakeRequest because the library's
// WebhookConfig predates the secret_token parameter.
func registerWebhook(botAPI *tgbotapi.BotAPI, cfg config.TelegramConfig) error {
	params := tgbotapi.Params{
		"url": cfg.WebhookURL + "/webhook/telegram",
	}
	if cfg.WebhookSecret != "" {
		params["secret_token"] = cfg.WebhookSecret
	}
	_, err := botAPI.MakeRequest("setWebhook", params)
	return err
}

func setupRouter(cfg config.Config, producer queue.Producer) *gin.Engine {
	engine := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		engine.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	telegramHandler := webhook.NewTelegramWebhookHandler(producer, cfg.Telegram.WebhookSecret, nil)
	httprouter.SetupRoutes(engine, telegramHandler)

	return engine
}

func setupScheduler(cfg config.ScheduleConfig, location *time.Location, reconciler service.Reconciler, jobs *service.Jobs) (*sched.Scheduler, error) {
	scheduler := sched.New(location, slog.Default())

	if err := scheduler.AddInterval("reconcile", cfg.ReconcileInterval, reconciler.Run); err != nil {
		return nil, err
	}
	for _, at := range cfg.OverdueSweepAt {
		if err := scheduler.AddDaily("overdue-sweep-"+at, at, jobs.OverdueSweep); err != nil {
			return nil, err
		}
	}
	if err := scheduler.AddDaily("assignee-digest", cfg.AssigneeDigestAt, jobs.AssigneeDigest); err != nil {
		return nil, err
	}
	if err := scheduler.AddDaily("department-digest", cfg.DepartmentDigestAt, jobs.DepartmentDigest); err != nil {
		return nil, err
	}
	if err := scheduler.AddWeekly("weekly-report", cfg.WeeklyReportAt, jobs.WeeklyReport); err != nil {
		return nil, err
	}

	return scheduler, nil
}

const banner = `
████████╗ █████╗ ███████╗██╗  ██╗ ██████╗  █████╗ ████████╗███████╗
╚══██╔══╝██╔══██╗██╔════╝██║ ██╔╝██╔════╝ ██╔══██╗╚══██╔══╝██╔════╝
   ██║   ███████║███████╗█████╔╝ ██║  ███╗███████║   ██║   █████╗
   ██║   ██╔══██║╚════██║██╔═██╗ ██║   ██║██╔══██║   ██║   ██╔══╝
   ██║   ██║  ██║███████║██║  ██╗╚██████╔╝██║  ██║   ██║   ███████╗
   ╚═╝   ╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═╝   ╚═╝   ╚══════╝
`
