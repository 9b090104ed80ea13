package store

import (
	"context"
	"errors"

	"taskgate.app/bot/internal/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// TaskStore defines the contract for tracked-task data access. Update is the
// only way to mutate an existing record; it serializes read-modify-write per
// key so concurrent reconciler workers can't lose updates.
type TaskStore interface {
	Get(ctx context.Context, key string) (*model.TrackedTask, error)
	Put(ctx context.Context, task *model.TrackedTask) error
	Update(ctx context.Context, key string, fn func(task *model.TrackedTask) error) (*model.TrackedTask, error)
	ListOpen(ctx context.Context) ([]model.TrackedTask, error)
	ListByCreator(ctx context.Context, creatorID int64, status model.TaskStatus) ([]model.TrackedTask, error)
	ListByQueue(ctx context.Context, queue string, status model.TaskStatus) ([]model.TrackedTask, error)
}

// IdentityStore defines the contract for chat identity records
type IdentityStore interface {
	Register(ctx context.Context, identity *model.Identity) error
	GetByUsername(ctx context.Context, username string) (*model.Identity, error)
	GetByID(ctx context.Context, userID int64) (*model.Identity, error)
}
