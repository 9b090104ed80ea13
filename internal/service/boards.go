package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"taskgate.app/bot/internal/tracker"
)

// BoardCache lazily ensures one agile board per partner exists in the remote
// system. The cache is the single owner of partner-board state; callers go
// through GetOrCreate and never track board existence themselves.
type BoardCache struct {
	gateway TrackerGateway
	enabled bool
	logger  *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

func NewBoardCache(gateway TrackerGateway, enabled bool, logger *slog.Logger) *BoardCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &BoardCache{
		gateway: gateway,
		enabled: enabled,
		logger:  logger,
		known:   make(map[string]bool),
	}
}

// GetOrCreate makes sure a board filtered to the partner tag exists. A board
// that already exists remotely counts as success and is cached; any other
// creation failure is logged and left uncached so the next task for the same
// partner retries.
func (b *BoardCache) GetOrCreate(ctx context.Context, partnerID, tag string) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.known[partnerID] {
		return
	}

	if err := b.gateway.CreateBoard(ctx, "Партнёр "+tag, tag); err != nil {
		if isAlreadyExists(err) {
			b.known[partnerID] = true
			b.logger.InfoContext(ctx, "partner board already exists", "partner_id", partnerID, "tag", tag)
			return
		}
		b.logger.WarnContext(ctx, "failed to ensure partner board",
			"partner_id", partnerID,
			"tag", tag,
			"error", err)
		return
	}
	b.known[partnerID] = true
	b.logger.InfoContext(ctx, "partner board ensured", "partner_id", partnerID, "tag", tag)
}

func isAlreadyExists(err error) bool {
	var apiErr *tracker.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}
