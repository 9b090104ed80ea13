package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"taskgate.app/bot/internal/model"
)

// document is the single persisted form of all local state. It is rewritten
// in full on every mutation and reloaded in full at process start.
type document struct {
	Tasks     map[string]*model.TrackedTask `json:"tasks"`
	Users     map[string]*model.Identity    `json:"users"`
	Usernames map[string]int64              `json:"usernames"`
}

// DocumentStore keeps the task and identity tables in memory and mirrors
// them to a JSON file. Persistence is best-effort: a failed write is logged
// and the in-memory state remains authoritative for the process lifetime.
type DocumentStore struct {
	path string

	mu  sync.RWMutex
	doc document
}

var (
	_ TaskStore     = (*DocumentStore)(nil)
	_ IdentityStore = (*DocumentStore)(nil)
)

func Open(path string) (*DocumentStore, error) {
	s := &DocumentStore{
		path: path,
		doc: document{
			Tasks:     make(map[string]*model.TrackedTask),
			Users:     make(map[string]*model.Identity),
			Usernames: make(map[string]int64),
		},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store file: %w", err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parsing store file %s: %w", path, err)
	}

	// Migration for documents written before these tables existed.
	if s.doc.Tasks == nil {
		s.doc.Tasks = make(map[string]*model.TrackedTask)
	}
	if s.doc.Users == nil {
		s.doc.Users = make(map[string]*model.Identity)
	}
	if s.doc.Usernames == nil {
		s.doc.Usernames = make(map[string]int64)
	}
	for _, u := range s.doc.Users {
		if u.Username != "" {
			s.doc.Usernames[u.Username] = u.UserID
		}
	}

	return s, nil
}

func (s *DocumentStore) Get(ctx context.Context, key string) (*model.TrackedTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.doc.Tasks[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *DocumentStore) Put(ctx context.Context, task *model.TrackedTask) error {
	if task.Key == "" {
		return fmt.Errorf("task key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *task
	s.doc.Tasks[task.Key] = &copied
	s.persistLocked(ctx)
	return nil
}

// Update applies fn to the stored record under the store lock, making the
// read-modify-write atomic per key. ErrNotFound if the key is absent; any
// error from fn aborts the mutation.
func (s *DocumentStore) Update(ctx context.Context, key string, fn func(task *model.TrackedTask) error) (*model.TrackedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.doc.Tasks[key]
	if !ok {
		return nil, ErrNotFound
	}

	updated := *task
	if err := fn(&updated); err != nil {
		return nil, err
	}
	updated.Key = key // the key is immutable

	s.doc.Tasks[key] = &updated
	s.persistLocked(ctx)

	copied := updated
	return &copied, nil
}

func (s *DocumentStore) ListOpen(ctx context.Context) ([]model.TrackedTask, error) {
	return s.list(func(t *model.TrackedTask) bool {
		return t.Status == model.TaskStatusOpen
	}), nil
}

func (s *DocumentStore) ListByCreator(ctx context.Context, creatorID int64, status model.TaskStatus) ([]model.TrackedTask, error) {
	return s.list(func(t *model.TrackedTask) bool {
		return t.CreatorID == creatorID && (status == "" || t.Status == status)
	}), nil
}

func (s *DocumentStore) ListByQueue(ctx context.Context, queue string, status model.TaskStatus) ([]model.TrackedTask, error) {
	return s.list(func(t *model.TrackedTask) bool {
		return t.Queue == queue && (status == "" || t.Status == status)
	}), nil
}

func (s *DocumentStore) list(match func(*model.TrackedTask) bool) []model.TrackedTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.TrackedTask
	for _, t := range s.doc.Tasks {
		if match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *DocumentStore) Register(ctx context.Context, identity *model.Identity) error {
	if identity.UserID == 0 {
		return fmt.Errorf("identity user id is zero")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *identity
	if copied.RegisteredAt.IsZero() {
		copied.RegisteredAt = time.Now()
	}

	userKey := strconv.FormatInt(copied.UserID, 10)
	if existing, ok := s.doc.Users[userKey]; ok {
		// Keep the original registration time; only the handle may change.
		copied.RegisteredAt = existing.RegisteredAt
		if existing.Username != "" && existing.Username != copied.Username {
			delete(s.doc.Usernames, existing.Username)
		}
	}

	s.doc.Users[userKey] = &copied
	if copied.Username != "" {
		s.doc.Usernames[copied.Username] = copied.UserID
	}
	s.persistLocked(ctx)
	return nil
}

func (s *DocumentStore) GetByUsername(ctx context.Context, username string) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.doc.Usernames[username]
	if !ok {
		return nil, ErrNotFound
	}
	identity, ok := s.doc.Users[strconv.FormatInt(userID, 10)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *DocumentStore) GetByID(ctx context.Context, userID int64) (*model.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.doc.Users[strconv.FormatInt(userID, 10)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

// persistLocked rewrites the whole document, via temp file + rename so a
// crash mid-write can't truncate existing state. Callers hold s.mu. Write
// failures are logged, not returned: in-memory state stays authoritative.
func (s *DocumentStore) persistLocked(ctx context.Context) {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal store document", "error", err)
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*.tmp")
	if err != nil {
		slog.ErrorContext(ctx, "failed to create temp store file", "error", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		slog.ErrorContext(ctx, "failed to write store file", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		slog.ErrorContext(ctx, "failed to close store file", "error", err)
		return
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		slog.ErrorContext(ctx, "failed to replace store file", "error", err)
	}
}
