package tracking

import (
	"errors"
	"log/slog"

	"backend-livetrack/internal/storage"
)

const (
	enabledKey = "live_tracking_enabled"
	sessionKey = "live_tracking_session_state"
)

// StateStore persists the enabled setting and the in-flight snapshot.
type StateStore struct {
	kv     storage.KV
	logger *slog.Logger
}

func NewStateStore(kv storage.KV, logger *slog.Logger) *StateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateStore{kv: kv, logger: logger}
}

// Enabled defaults to false when the setting was never written.
func (s *StateStore) Enabled() bool {
	return storage.GetBool(s.kv, enabledKey, false)
}

func (s *StateStore) SetEnabled(enabled bool) error {
	return storage.SetBool(s.kv, enabledKey, enabled)
}

func (s *StateStore) Save(snap SessionSnapshot) error {
	return storage.SetJSON(s.kv, sessionKey, snap)
}

// Load returns the stored snapshot. A malformed snapshot is logged and
// reported as absent.
func (s *StateStore) Load() (SessionSnapshot, bool) {
	var snap SessionSnapshot
	if err := storage.GetJSON(s.kv, sessionKey, &snap); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("discarding unreadable session snapshot", "error", err)
		}
		return SessionSnapshot{}, false
	}
	return snap, true
}

func (s *StateStore) Clear() error {
	return s.kv.Delete(sessionKey)
}
