// Package storage is the local durable key-value store backing settings,
// the pending update queue and session snapshots. It wraps Pebble with an
// fsync policy so that writes survive process death.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	// FsyncAlways syncs the WAL on every write.
	FsyncAlways FsyncMode = iota
	// FsyncInterval lets Pebble coalesce WAL syncs within FsyncInterval.
	FsyncInterval
	// FsyncNever leaves syncing to Pebble's own policy.
	FsyncNever
)

func ParseFsyncMode(s string) (FsyncMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "always":
		return FsyncAlways, nil
	case "interval":
		return FsyncInterval, nil
	case "never":
		return FsyncNever, nil
	default:
		return FsyncAlways, fmt.Errorf("storage: unknown fsync mode %q; use always|interval|never", s)
	}
}

type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// InMemory backs the store with an in-memory filesystem. DataDir is
	// still used as the database path inside that filesystem.
	InMemory bool
}

// KV is the subset of Store consumed by the tracking core.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

type Store struct {
	inner     *pebble.DB
	writeSync bool

	mu     sync.RWMutex
	closed bool
}

func Open(opts Options) (*Store, error) {
	if opts.DataDir == "" {
		return nil, errors.New("storage: Options.DataDir is required")
	}

	po := &pebble.Options{}
	if opts.InMemory {
		po.FS = vfs.NewMem()
	}
	switch opts.Fsync {
	case FsyncInterval:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case FsyncNever, FsyncAlways:
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", opts.DataDir, err)
	}
	return &Store{inner: inner, writeSync: opts.Fsync == FsyncAlways}, nil
}

// OpenInMemory opens a store on an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return Open(Options{DataDir: "livetrack", InMemory: true, Fsync: FsyncNever})
}

func (s *Store) Close() error {
	if s == nil || s.inner == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.inner.Close()
}

// Get copies the value stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, pebble.ErrClosed
	}

	val, closer, err := s.inner.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

func (s *Store) Set(key string, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return pebble.ErrClosed
	}
	return s.inner.Set([]byte(key), value, s.writeOptions())
}

func (s *Store) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return pebble.ErrClosed
	}
	return s.inner.Delete([]byte(key), s.writeOptions())
}

func (s *Store) writeOptions() *pebble.WriteOptions {
	if s.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// GetBool returns def when the key is absent or not a valid boolean.
func GetBool(kv KV, key string, def bool) bool {
	raw, err := kv.Get(key)
	if err != nil {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

func SetBool(kv KV, key string, v bool) error {
	raw, _ := json.Marshal(v)
	return kv.Set(key, raw)
}

// GetJSON decodes the value under key into dst. It returns ErrNotFound for
// absent keys and a wrapped decode error for malformed values.
func GetJSON(kv KV, key string, dst any) error {
	raw, err := kv.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return nil
}

func SetJSON(kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return kv.Set(key, raw)
}
