package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env       string
	Port      string
	OTel      OTelConfig
	Telegram  TelegramConfig
	Tracker   TrackerConfig
	Pipeline  PipelineConfig
	Schedule  ScheduleConfig
	Defaults  Defaults
	Routing   Routing
	Statuses  StatusAliases
	StoreFile string
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

type TelegramConfig struct {
	BotToken      string
	WebhookSecret string
	WebhookURL    string // public base URL; webhook registration is skipped when empty
}

type TrackerConfig struct {
	BaseURL string
	Token   string
	OrgID   string
	Timeout time.Duration
}

type PipelineConfig struct {
	RedisURL      string
	RedisStream   string
	RedisGroup    string
	RedisDLQ      string
	RedisConsumer string
}

type ScheduleConfig struct {
	Timezone           string
	ReconcileInterval  time.Duration
	AssigneeDigestAt   string // "HH:MM" wall clock in Timezone
	OverdueSweepAt     []string
	DepartmentDigestAt string
	WeeklyReportAt     string // "DOW HH:MM", e.g. "MON 10:00"
}

type Defaults struct {
	Priority     string
	DeadlineDays int
	IssueBaseURL string // human-facing issue link prefix
}

func Load() (Config, error) {
	if getEnv("BOT_ENV", "development") == "development" {
		_ = godotenv.Load(".env")
	}

	cfg := Config{
		Env:  getEnv("BOT_ENV", "development"),
		Port: getEnv("PORT", "8443"),
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "taskgate"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			WebhookURL:    getEnv("TELEGRAM_WEBHOOK_URL", ""),
		},
		Tracker: TrackerConfig{
			BaseURL: getEnv("TRACKER_BASE_URL", "https://api.tracker.yandex.net/v2"),
			Token:   getEnv("TRACKER_TOKEN", ""),
			OrgID:   getEnv("TRACKER_ORG_ID", ""),
			Timeout: getEnvDuration("TRACKER_TIMEOUT", 10*time.Second),
		},
		Pipeline: PipelineConfig{
			RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisStream:   getEnv("REDIS_STREAM", "taskgate_updates"),
			RedisGroup:    getEnv("REDIS_CONSUMER_GROUP", "taskgate_group"),
			RedisDLQ:      getEnv("REDIS_DLQ_STREAM", "taskgate_updates_dlq"),
			RedisConsumer: getEnv("REDIS_CONSUMER_NAME", "taskgate-bot"),
		},
		Schedule: ScheduleConfig{
			Timezone:           getEnv("SCHEDULE_TZ", "Europe/Moscow"),
			ReconcileInterval:  getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
			AssigneeDigestAt:   getEnv("ASSIGNEE_DIGEST_AT", "09:30"),
			OverdueSweepAt:     getEnvList("OVERDUE_SWEEP_AT", []string{"11:00", "17:00"}),
			DepartmentDigestAt: getEnv("DEPARTMENT_DIGEST_AT", "10:00"),
			WeeklyReportAt:     getEnv("WEEKLY_REPORT_AT", "MON 10:00"),
		},
		Defaults: Defaults{
			Priority:     getEnv("DEFAULT_PRIORITY", "critical"),
			DeadlineDays: getEnvInt("DEFAULT_DEADLINE_DAYS", 0),
			IssueBaseURL: getEnv("ISSUE_BASE_URL", "https://tracker.yandex.ru"),
		},
		Routing:   loadRouting(),
		Statuses:  loadStatusAliases(),
		StoreFile: getEnv("STORE_FILE", "tasks_db.json"),
	}
	cfg.OTel.Environment = cfg.Env

	if cfg.Telegram.BotToken == "" {
		return Config{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.Tracker.Token == "" || cfg.Tracker.OrgID == "" {
		return Config{}, fmt.Errorf("TRACKER_TOKEN and TRACKER_ORG_ID are required")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func getEnvInt64Set(key string) map[int64]bool {
	set := make(map[int64]bool)
	value, ok := os.LookupEnv(key)
	if !ok {
		return set
	}
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			set[id] = true
		}
	}
	return set
}

func getEnvInt64List(key string) []int64 {
	var out []int64
	value, ok := os.LookupEnv(key)
	if !ok {
		return out
	}
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if id, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// getEnvPairs parses "a=b,c=d" into a map. Used for the small operator-edited
// tables (partner assignees, login/handle mapping).
func getEnvPairs(key string) map[string]string {
	out := make(map[string]string)
	value, ok := os.LookupEnv(key)
	if !ok {
		return out
	}
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			k := strings.TrimSpace(kv[0])
			v := strings.TrimSpace(kv[1])
			if k != "" && v != "" {
				out[k] = v
			}
		}
	}
	return out
}
