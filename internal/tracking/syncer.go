package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Connectivity is the watcher contract consumed by the core.
type Connectivity interface {
	IsOnline() bool
	OnConnectivityChanged(cb func(online bool)) (unregister func())
}

var errMalformedEntry = errors.New("tracking: pending update has no uid")

// Syncer drains the durable queue into the remote store. Drains come from
// the periodic timer, the offline-to-online edge and explicit ForceSync
// calls; at most one runs at a time.
type Syncer struct {
	queue    *Queue
	remote   Remote
	conn     Connectivity
	interval time.Duration
	logger   *slog.Logger

	draining atomic.Bool
	rerun    atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	unregister func()
	done       chan struct{}
}

func NewSyncer(queue *Queue, remote Remote, conn Connectivity, interval time.Duration, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{queue: queue, remote: remote, conn: conn, interval: interval, logger: logger}
}

// Start registers the connectivity callback and runs the periodic timer
// until Stop or ctx cancellation.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.unregister = s.conn.OnConnectivityChanged(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := s.SyncPendingPositions(ctx); err != nil {
				s.logger.Warn("sync after reconnect incomplete", "error", err)
			}
		}()
	})

	go s.loop(ctx, s.done)
}

func (s *Syncer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.queue.Len() == 0 || !s.conn.IsOnline() {
				continue
			}
			if _, err := s.SyncPendingPositions(ctx); err != nil {
				s.logger.Warn("periodic sync incomplete", "error", err)
			}
		}
	}
}

// Stop cancels the timer and unregisters the connectivity callback. It
// does not wait for a drain that is already running.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.unregister()
	s.cancel = nil
	s.unregister = nil
}

// ForceSync drains everything now; used at flight end and for manual retry.
func (s *Syncer) ForceSync(ctx context.Context) (int, error) {
	return s.SyncPendingPositions(ctx)
}

// SyncPendingPositions writes queued entries in order. A network-class error
// stops the pass and leaves the rest for the next trigger; any other error
// only skips that entry. It returns how many entries were written.
//
// A call that finds a drain already running asks it for one more pass, so
// entries queued after that drain took its snapshot are not left behind.
func (s *Syncer) SyncPendingPositions(ctx context.Context) (int, error) {
	if !s.draining.CompareAndSwap(false, true) {
		s.rerun.Store(true)
		return 0, nil
	}
	defer s.draining.Store(false)

	total := 0
	for {
		s.rerun.Store(false)
		n, err := s.drain(ctx)
		total += n
		if err != nil || !s.rerun.Load() {
			return total, err
		}
	}
}

func (s *Syncer) drain(ctx context.Context) (int, error) {
	if !s.conn.IsOnline() || s.queue.Len() == 0 {
		return 0, nil
	}

	synced := 0
	for _, u := range s.queue.Snapshot() {
		err := s.write(ctx, u)
		if errors.Is(err, errMalformedEntry) {
			s.logger.Error("dropping malformed pending update", "id", u.ID)
			_ = s.queue.Remove(u.ID)
			continue
		}
		if err != nil {
			if IsNetworkError(err) {
				return synced, fmt.Errorf("sync %s: %w", u.ID, err)
			}
			s.logger.Warn("pending update rejected", "id", u.ID, "type", u.Type(), "error", err)
			continue
		}
		if err := s.queue.Remove(u.ID); err != nil {
			s.logger.Error("remove synced update", "id", u.ID, "error", err)
		}
		synced++
	}
	if synced > 0 {
		s.logger.Info("synced pending updates", "count", synced, "remaining", s.queue.Len())
	}
	return synced, nil
}

func (s *Syncer) write(ctx context.Context, u PendingUpdate) error {
	uid := u.UID()
	if uid == "" {
		return errMalformedEntry
	}
	if u.Type() == UpdateLanding {
		return s.remote.MarkLanded(ctx, uid, timeField(u.AdditionalData, "flightStartTime"), u.EnqueuedAt)
	}

	doc := documentFromPending(u)
	doc.SyncedFromOffline = true
	original := u.Point.Timestamp
	doc.OriginalTimestamp = &original
	return s.remote.UpsertPosition(ctx, doc)
}

// documentFromPending rebuilds a live document from the identity snapshot
// stored with the entry.
func documentFromPending(u PendingUpdate) LiveDocument {
	data := u.AdditionalData
	doc := LiveDocument{
		UID:               stringField(data, "uid"),
		LicenseNumber:     stringField(data, "licenseNumber"),
		DisplayName:       stringField(data, "displayName"),
		LicenseType:       stringField(data, "licenseType"),
		Glider:            stringField(data, "glider"),
		MembershipValid:   boolField(data, "membershipValid", false),
		InsuranceValid:    boolField(data, "insuranceValid", false),
		Latitude:          u.Point.Latitude,
		Longitude:         u.Point.Longitude,
		Altitude:          u.Point.Altitude,
		Heading:           u.Point.Heading,
		Speed:             u.Point.Speed,
		AirspaceViolation: boolField(data, "airspaceViolation", false),
		InFlight:          boolField(data, "inFlight", true),
		TakeoffSite:       stringField(data, "takeoffSite"),
		AlertID:           stringField(data, "alertId"),
	}
	doc.FlightStartTime = timeField(data, "flightStartTime")
	return doc
}

func timeField(data map[string]any, key string) *time.Time {
	raw := stringField(data, key)
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &ts
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func boolField(data map[string]any, key string, def bool) bool {
	if v, ok := data[key].(bool); ok {
		return v
	}
	return def
}
