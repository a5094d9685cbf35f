package tracking

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-livetrack/internal/storage"

	"github.com/google/uuid"
)

const queueKey = "pending_position_updates"

// Queue is the durable list of updates waiting for the remote store. Every
// mutation is written through to the local store.
type Queue struct {
	kv     storage.KV
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	items []PendingUpdate
}

func NewQueue(kv storage.KV, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{kv: kv, logger: logger, now: time.Now}
	q.load()
	return q
}

func (q *Queue) load() {
	var items []PendingUpdate
	if err := storage.GetJSON(q.kv, queueKey, &items); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			q.logger.Error("discarding unreadable pending queue", "error", err)
		}
		return
	}
	q.items = items
	if len(items) > 0 {
		q.logger.Info("restored pending updates", "count", len(items))
	}
}

// Enqueue appends u, filling in ID and EnqueuedAt when unset.
func (q *Queue) Enqueue(u PendingUpdate) (PendingUpdate, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	u = q.prepare(u)
	q.items = append(q.items, u)
	return u, q.persistLocked()
}

// EnqueueLanding keeps at most one landing entry per uid. A newer landing
// for the same uid takes the stored one's slot under a fresh ID, so a drain
// still writing the old entry cannot remove it. An older landing never
// replaces a newer one. It reports whether a new entry was added.
func (q *Queue) EnqueueLanding(u PendingUpdate) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if u.AdditionalData == nil {
		u.AdditionalData = map[string]any{}
	}
	u.AdditionalData["type"] = UpdateLanding
	uid := u.UID()
	for i, existing := range q.items {
		if existing.Type() == UpdateLanding && existing.UID() == uid {
			if !u.EnqueuedAt.IsZero() && existing.EnqueuedAt.After(u.EnqueuedAt) {
				return false, nil
			}
			u.ID = ""
			q.items[i] = q.prepare(u)
			return false, q.persistLocked()
		}
	}
	q.items = append(q.items, q.prepare(u))
	return true, q.persistLocked()
}

// Snapshot returns a copy of the queued entries in order.
func (q *Queue) Snapshot() []PendingUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]PendingUpdate(nil), q.items...)
}

// Remove drops the entry with the given ID and persists immediately.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, u := range q.items {
		if u.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return q.persistLocked()
		}
	}
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	return q.persistLocked()
}

func (q *Queue) Persist() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.persistLocked()
}

func (q *Queue) prepare(u PendingUpdate) PendingUpdate {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.EnqueuedAt.IsZero() {
		u.EnqueuedAt = q.now()
	}
	if u.AdditionalData == nil {
		u.AdditionalData = map[string]any{"type": UpdatePosition}
	}
	return u
}

func (q *Queue) persistLocked() error {
	if len(q.items) == 0 {
		if err := q.kv.Delete(queueKey); err != nil {
			q.logger.Error("persist pending queue", "error", err)
			return err
		}
		return nil
	}
	if err := storage.SetJSON(q.kv, queueKey, q.items); err != nil {
		q.logger.Error("persist pending queue", "error", err, "count", len(q.items))
		return err
	}
	return nil
}
