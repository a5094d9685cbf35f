package tracking

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"backend-livetrack/internal/storage"
	"backend-livetrack/internal/violation"
)

// SiteResolver labels a takeoff position, returning "" when nothing is near.
type SiteResolver interface {
	NearestTakeoff(ctx context.Context, lat, lon float64) (string, error)
}

// Publisher fans an uploaded document out to live subscribers.
type Publisher interface {
	Broadcast(uid string, payload []byte)
}

type Options struct {
	Store        storage.KV
	Remote       Remote
	Safety       violation.Collaborator
	Connectivity Connectivity
	Sites        SiteResolver
	Publisher    Publisher
	Throttle     Throttle
	SyncInterval time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Tracker owns the tracking session. Every public operation serializes on
// mu. Writes to the live record run one at a time, in dispatch order, on a
// background writer; other remote calls run as independent tasks.
type Tracker struct {
	opts   Options
	logger *slog.Logger
	queue  *Queue
	state  *StateStore
	sync   *Syncer

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	writeMu sync.Mutex
	writes  []func(ctx context.Context)
	writing bool

	mu        sync.Mutex
	session   SessionState
	recovered *SessionSnapshot
	closed    bool
}

func NewTracker(opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Throttle == (Throttle{}) {
		opts.Throttle = DefaultThrottle()
	}

	logger := opts.Logger.With("component", "tracker")
	queue := NewQueue(opts.Store, logger)
	queue.now = opts.Now
	ctx, cancel := context.WithCancel(context.Background())

	t := &Tracker{
		opts:   opts,
		logger: logger,
		queue:  queue,
		state:  NewStateStore(opts.Store, logger),
		sync:   NewSyncer(queue, opts.Remote, opts.Connectivity, opts.SyncInterval, opts.Logger.With("component", "syncer")),
		ctx:    ctx,
		cancel: cancel,
	}
	t.session.Enabled = t.state.Enabled()

	if snap, ok := t.state.Load(); ok && snap.Active {
		t.recovered = &snap
		logger.Warn("unfinished flight found from previous run",
			"uid", snap.UID, "flight_start", snap.FlightStartTime, "takeoff_site", snap.TakeoffSite)
	}
	return t
}

// Start begins periodic and reconnect-triggered queue draining.
func (t *Tracker) Start(ctx context.Context) {
	t.sync.Start(ctx)
}

// RecoveredSession returns the in-flight snapshot left by a previous process,
// if any. Tracking is not resumed automatically.
func (t *Tracker) RecoveredSession() (SessionSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recovered == nil {
		return SessionSnapshot{}, false
	}
	return *t.recovered, true
}

// StartTracking moves Idle to Active. It is a silent no-op when tracking is
// disabled, no pilot is signed in, or a flight is already active.
func (t *Tracker) StartTracking(takeoffSite string, at *TrackPoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.session.Active {
		return
	}
	if !t.session.Enabled || t.session.Identity == nil || t.session.Identity.UID == "" {
		t.logger.Debug("start ignored", "enabled", t.session.Enabled, "signed_in", t.session.Identity != nil)
		return
	}

	now := t.opts.Now()
	t.session.Active = true
	t.session.LastUploadTime = nil
	t.session.LastUploadedPosition = nil
	t.session.FlightStartTime = &now
	t.session.TakeoffSite = takeoffSite
	pilotID := *t.session.Identity
	t.session.Pilot = &pilotID
	t.session.LastPosition = nil
	if at != nil {
		p := *at
		t.session.LastPosition = &p
	}
	t.recovered = nil
	t.saveSnapshotLocked()

	pilot := pilotID.pilot()
	var pos violation.Position
	if at != nil {
		pos = at.position()
	}
	// Flight-scoped monitor state is reset here, not in the async check,
	// so fixes arriving before the check finishes are kept.
	t.opts.Safety.BeginFlight()
	t.goTask(func(context.Context) {
		t.opts.Safety.CheckCredentialsAtTakeoff(pilot, pos)
	})

	if takeoffSite == "" && at != nil && t.opts.Sites != nil {
		lat, lon := at.Latitude, at.Longitude
		t.goTask(func(ctx context.Context) { t.resolveTakeoffSite(ctx, now, lat, lon) })
	}
	t.logger.Info("tracking started", "uid", pilot.UID, "takeoff_site", takeoffSite)
}

func (t *Tracker) resolveTakeoffSite(ctx context.Context, flightStart time.Time, lat, lon float64) {
	label, err := t.opts.Sites.NearestTakeoff(ctx, lat, lon)
	if err != nil {
		t.logger.Debug("takeoff site lookup failed", "error", err)
		return
	}
	if label == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.session.Active || t.session.FlightStartTime == nil || !t.session.FlightStartTime.Equal(flightStart) {
		return
	}
	if t.session.TakeoffSite == "" {
		t.session.TakeoffSite = label
		t.saveSnapshotLocked()
	}
}

// ProcessPosition handles one fix. While active, the safety check always
// runs; the remote upload only happens when the throttle says so and the
// store is reachable. Skipped fixes are not queued.
func (t *Tracker) ProcessPosition(p TrackPoint) {
	if err := p.Validate(); err != nil {
		t.logger.Warn("dropping invalid fix", "error", err)
		return
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = t.opts.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.session.Active || t.closed {
		return
	}
	fix := p
	t.session.LastPosition = &fix

	var pilot violation.Pilot
	if t.session.Identity != nil {
		pilot = t.session.Identity.pilot()
	}
	t.opts.Safety.CheckFlightSafety(p.position(), pilot)
	if t.session.Identity == nil {
		return
	}

	now := t.opts.Now()
	if !ShouldUpload(p, t.session.LastUploadTime, t.session.LastUploadedPosition, now, t.opts.Throttle) {
		return
	}
	if !t.opts.Connectivity.IsOnline() {
		return
	}

	uploaded := p
	t.session.LastUploadTime = &now
	t.session.LastUploadedPosition = &uploaded

	doc := t.liveDocumentLocked(p)
	t.goWrite(func(ctx context.Context) { t.upload(ctx, doc) })
}

func (t *Tracker) upload(ctx context.Context, doc LiveDocument) {
	if err := t.opts.Remote.UpsertPosition(ctx, doc); err != nil {
		t.logger.Warn("live position upload failed", "uid", doc.UID, "error", err)
		return
	}
	if t.opts.Publisher != nil {
		payload, _ := json.Marshal(doc)
		t.opts.Publisher.Broadcast(doc.UID, payload)
	}
}

// StopTracking moves Active to Idle. It never fails: a landing mark that
// cannot be written is queued instead.
func (t *Tracker) StopTracking() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked("stopped")
}

func (t *Tracker) stopLocked(reason string) {
	if !t.session.Active {
		return
	}

	now := t.opts.Now()
	landing := t.landingUpdateLocked(now)
	uid := landing.UID()
	flightStart := copyTime(t.session.FlightStartTime)

	mark := false
	switch {
	case uid == "":
		t.logger.Warn("no pilot identity at landing; landing mark skipped")
	case t.opts.Connectivity.IsOnline():
		mark = true
	default:
		t.enqueueLanding(landing)
	}

	ground := violation.Position{Timestamp: now}
	if t.session.LastPosition != nil {
		ground = t.session.LastPosition.position()
	}
	ground.Altitude = 0
	t.opts.Safety.FinalizeActiveViolationsOnLanding(ground)
	t.opts.Safety.ClearRecentAlerts()

	// One ordered job: the mark lands after every upload of this flight, and
	// a failed mark is queued before the drain that should carry it.
	t.goWrite(func(ctx context.Context) {
		if mark {
			if err := t.opts.Remote.MarkLanded(ctx, uid, flightStart, now); err != nil {
				t.logger.Warn("landing mark failed, queueing", "uid", uid, "error", err)
				t.enqueueLanding(landing)
			}
		}
		if err := t.opts.Safety.ForceSyncPendingAlerts(ctx); err != nil {
			t.logger.Warn("alert sync at landing incomplete", "error", err)
		}
		if _, err := t.sync.ForceSync(ctx); err != nil {
			t.logger.Warn("queue sync at landing incomplete", "error", err)
		}
	})

	if err := t.state.Clear(); err != nil {
		t.logger.Error("clear session snapshot", "error", err)
	}
	t.resetFlightLocked()
	t.logger.Info("tracking stopped", "uid", uid, "reason", reason)
}

func (t *Tracker) enqueueLanding(u PendingUpdate) {
	if _, err := t.queue.EnqueueLanding(u); err != nil {
		t.logger.Error("queue landing", "uid", u.UID(), "error", err)
	}
}

// SetEnabled persists the user setting. Disabling during a flight takes the
// same path as StopTracking.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.session.Enabled = enabled
	if err := t.state.SetEnabled(enabled); err != nil {
		t.logger.Error("persist enabled setting", "error", err)
	}
	if !enabled {
		t.stopLocked("disabled")
	}
}

// UpdateProfile replaces the cached identity; nil clears it without changing
// the active state. Validity flags start false and are refreshed in the
// background when online.
func (t *Tracker) UpdateProfile(p *Profile) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p == nil {
		t.session.Identity = nil
		return
	}
	// An active flight keeps writing under session.Pilot.

	identity := &Identity{Profile: *p}
	t.session.Identity = identity
	if p.UID == "" {
		return
	}
	if !t.opts.Connectivity.IsOnline() {
		t.logger.Debug("offline; validity refresh skipped", "uid", p.UID)
		return
	}

	uid := p.UID
	t.goTask(func(ctx context.Context) {
		membership, insurance, err := t.opts.Remote.FetchValidity(ctx, uid)
		if err != nil {
			t.logger.Warn("validity refresh failed", "uid", uid, "error", err)
			return
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.session.Identity != identity {
			return
		}
		t.session.Identity.MembershipValid = membership
		t.session.Identity.InsuranceValid = insurance
	})
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Status{
		Enabled:              t.session.Enabled,
		Active:               t.session.Active,
		Online:               t.opts.Connectivity.IsOnline(),
		PendingCount:         t.queue.Len(),
		LastUpload:           copyTime(t.session.LastUploadTime),
		FlightStartTime:      copyTime(t.session.FlightStartTime),
		TakeoffSite:          t.session.TakeoffSite,
		InRestrictedAirspace: t.opts.Safety.IsInRestrictedAirspace(),
	}
	if t.session.Identity != nil {
		st.UID = t.session.Identity.UID
	}
	return st
}

// SyncAll drains the queue and pending alerts now.
func (t *Tracker) SyncAll(ctx context.Context) (int, error) {
	if err := t.opts.Safety.ForceSyncPendingAlerts(ctx); err != nil {
		t.logger.Warn("alert sync incomplete", "error", err)
	}
	return t.sync.ForceSync(ctx)
}

// Reset discards the durable queue and session snapshot and returns to idle
// without any remote writes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.queue.Clear(); err != nil {
		t.logger.Error("clear pending queue", "error", err)
	}
	if err := t.state.Clear(); err != nil {
		t.logger.Error("clear session snapshot", "error", err)
	}
	t.recovered = nil
	t.resetFlightLocked()
}

// PendingUpdates returns a copy of the durable queue.
func (t *Tracker) PendingUpdates() []PendingUpdate {
	return t.queue.Snapshot()
}

// Wait blocks until background writes started so far have finished.
func (t *Tracker) Wait() {
	t.tasks.Wait()
}

// Close stops the sync timer and connectivity callback, removes the live
// record when a flight is still active, and persists the queue. The removal
// is ordered after every live write already dispatched; Close waits for it
// for at most closeTimeout.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	active := t.session.Active
	uid := ""
	if t.session.Pilot != nil {
		uid = t.session.Pilot.UID
	}
	t.mu.Unlock()

	t.sync.Stop()

	if active && uid != "" && t.opts.Connectivity.IsOnline() {
		removed := make(chan struct{})
		t.goWrite(func(context.Context) {
			defer close(removed)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := t.opts.Remote.RemoveLive(ctx, uid); err != nil {
				t.logger.Warn("remove live record on shutdown", "uid", uid, "error", err)
			}
		})
		select {
		case <-removed:
		case <-time.After(closeTimeout):
			t.logger.Warn("live record removal still pending at shutdown", "uid", uid)
		}
	}
	if err := t.queue.Persist(); err != nil {
		t.logger.Error("persist pending queue on shutdown", "error", err)
	}
	t.cancel()
}

const closeTimeout = 5 * time.Second

func (t *Tracker) goTask(fn func(ctx context.Context)) {
	t.tasks.Add(1)
	go t.runTask(fn)
}

// goWrite queues fn behind every live write dispatched before it.
func (t *Tracker) goWrite(fn func(ctx context.Context)) {
	t.tasks.Add(1)
	t.writeMu.Lock()
	t.writes = append(t.writes, fn)
	start := !t.writing
	t.writing = true
	t.writeMu.Unlock()
	if start {
		go t.runWrites()
	}
}

func (t *Tracker) runWrites() {
	for {
		t.writeMu.Lock()
		if len(t.writes) == 0 {
			t.writing = false
			t.writeMu.Unlock()
			return
		}
		fn := t.writes[0]
		t.writes[0] = nil
		t.writes = t.writes[1:]
		t.writeMu.Unlock()
		t.runTask(fn)
	}
}

func (t *Tracker) runTask(fn func(ctx context.Context)) {
	defer t.tasks.Done()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("background task panicked", "panic", r)
		}
	}()
	fn(t.ctx)
}

func (t *Tracker) liveDocumentLocked(p TrackPoint) LiveDocument {
	id := t.session.Identity
	return LiveDocument{
		UID:               id.UID,
		LicenseNumber:     id.LicenseNumber,
		DisplayName:       id.DisplayName,
		LicenseType:       id.LicenseType,
		Glider:            id.Glider,
		MembershipValid:   id.MembershipValid,
		InsuranceValid:    id.InsuranceValid,
		Latitude:          p.Latitude,
		Longitude:         p.Longitude,
		Altitude:          p.Altitude,
		Heading:           p.Heading,
		Speed:             p.Speed,
		AirspaceViolation: t.opts.Safety.IsInRestrictedAirspace(),
		InFlight:          true,
		FlightStartTime:   copyTime(t.session.FlightStartTime),
		TakeoffSite:       t.session.TakeoffSite,
		AlertID:           t.opts.Safety.CurrentFlightAlertID(),
	}
}

// landingUpdateLocked snapshots the takeoff identity and flight fields so
// the entry can be written after the live session has moved on.
func (t *Tracker) landingUpdateLocked(now time.Time) PendingUpdate {
	point := TrackPoint{Timestamp: now}
	if t.session.LastPosition != nil {
		point = *t.session.LastPosition
	}

	data := map[string]any{
		"type":        UpdateLanding,
		"takeoffSite": t.session.TakeoffSite,
		"inFlight":    false,
	}
	if t.session.FlightStartTime != nil {
		data["flightStartTime"] = t.session.FlightStartTime.Format(time.RFC3339Nano)
	}
	if id := t.session.Pilot; id != nil {
		data["uid"] = id.UID
		data["licenseNumber"] = id.LicenseNumber
		data["displayName"] = id.DisplayName
		data["licenseType"] = id.LicenseType
		data["glider"] = id.Glider
		data["membershipValid"] = id.MembershipValid
		data["insuranceValid"] = id.InsuranceValid
	}
	return PendingUpdate{Point: point, EnqueuedAt: now, AdditionalData: data}
}

func (t *Tracker) saveSnapshotLocked() {
	snap := SessionSnapshot{
		Active:          t.session.Active,
		FlightStartTime: copyTime(t.session.FlightStartTime),
		TakeoffSite:     t.session.TakeoffSite,
		LastPosition:    t.session.LastPosition,
		SavedAt:         t.opts.Now(),
	}
	if t.session.Pilot != nil {
		snap.UID = t.session.Pilot.UID
	}
	if err := t.state.Save(snap); err != nil {
		t.logger.Error("persist session snapshot", "error", err)
	}
}

func (t *Tracker) resetFlightLocked() {
	t.session.Active = false
	t.session.LastUploadTime = nil
	t.session.LastUploadedPosition = nil
	t.session.LastPosition = nil
	t.session.FlightStartTime = nil
	t.session.TakeoffSite = ""
	t.session.Pilot = nil
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	v := *ts
	return &v
}
