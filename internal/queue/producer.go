package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// UpdateMessage is one raw chat-platform update on its way through the
// stream. Payload is the update exactly as received from the webhook; it is
// not parsed until a worker picks it up.
type UpdateMessage struct {
	EventID int64
	Payload []byte
	TraceID *string
	Attempt int
}

type Producer interface {
	Enqueue(ctx context.Context, msg UpdateMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg UpdateMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"event_id": msg.EventID,
		"payload":  string(msg.Payload),
		"attempt":  attempt,
	}

	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue update: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued chat update", "event_id", msg.EventID, "attempt", attempt, "payload_bytes", len(msg.Payload))
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
