package service

import (
	"context"
	"io"

	"taskgate.app/bot/internal/tracker"
)

// TrackerGateway is everything the services need from the remote system.
// Satisfied by *tracker.Gateway; mocked in tests.
type TrackerGateway interface {
	CreateIssue(ctx context.Context, params tracker.CreateIssueParams) (*tracker.Issue, error)
	GetIssue(ctx context.Context, key string) (*tracker.Issue, error)
	CloseIssue(ctx context.Context, key string) error
	AddComment(ctx context.Context, key, text string) error
	ListComments(ctx context.Context, key string) ([]tracker.Comment, error)
	SearchIssues(ctx context.Context, filter map[string]any) ([]tracker.Issue, error)
	AttachFile(ctx context.Context, key, filename string, content io.Reader) error
	CreateBoard(ctx context.Context, name, tag string) error
}

// OnceMarker is a shared dedupe latch for scheduled notifications: Acquire
// returns true exactly once per key within the marker's retention window.
type OnceMarker interface {
	Acquire(ctx context.Context, key string) (bool, error)
}
