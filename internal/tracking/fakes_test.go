package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"backend-livetrack/internal/storage"
	"backend-livetrack/internal/violation"
)

type fakeRemote struct {
	mu           sync.Mutex
	upserts      []LiveDocument
	docs         map[string]LiveDocument
	landed       []string
	removed      []string
	fetches      int
	upsertErr    error
	landErr      error
	upsertErrFn  func(doc LiveDocument) error
	landFailures int           // next N MarkLanded calls fail with ErrOffline
	upsertGate   chan struct{} // gates are waited on before mu is taken
	landGate     chan struct{}
	landStarted  chan struct{} // signalled when MarkLanded reaches its gate
	membership   bool
	insurance    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string]LiveDocument{}}
}

func (f *fakeRemote) UpsertPosition(_ context.Context, doc LiveDocument) error {
	f.mu.Lock()
	gate := f.upsertGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErrFn != nil {
		if err := f.upsertErrFn(doc); err != nil {
			return err
		}
	}
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, doc)
	f.docs[doc.UID] = doc
	return nil
}

func (f *fakeRemote) MarkLanded(_ context.Context, uid string, flightStart *time.Time, _ time.Time) error {
	f.mu.Lock()
	gate, started := f.landGate, f.landStarted
	f.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.landErr != nil {
		return f.landErr
	}
	if f.landFailures > 0 {
		f.landFailures--
		return ErrOffline
	}
	f.landed = append(f.landed, uid)
	doc, ok := f.docs[uid]
	if !ok {
		return nil
	}
	if flightStart != nil && doc.FlightStartTime != nil && doc.FlightStartTime.After(*flightStart) {
		return nil
	}
	doc.InFlight = false
	f.docs[uid] = doc
	return nil
}

func (f *fakeRemote) RemoveLive(_ context.Context, uid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, uid)
	delete(f.docs, uid)
	return nil
}

func (f *fakeRemote) FetchValidity(context.Context, string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.membership, f.insurance, nil
}

func (f *fakeRemote) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

func (f *fakeRemote) doc(uid string) (LiveDocument, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[uid]
	return doc, ok
}

func (f *fakeRemote) setGates(upsert, land chan struct{}) {
	f.mu.Lock()
	f.upsertGate, f.landGate = upsert, land
	f.mu.Unlock()
}

func (f *fakeRemote) landedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.landed)
}

type fakeSafety struct {
	mu          sync.Mutex
	begins      int
	takeoff     int
	checks      int
	finalized   []violation.Position
	clears      int
	alertSyncs  int
	restricted  bool
	flightAlert string
}

func (f *fakeSafety) BeginFlight() {
	f.mu.Lock()
	f.begins++
	f.mu.Unlock()
}

func (f *fakeSafety) CheckCredentialsAtTakeoff(violation.Pilot, violation.Position) {
	f.mu.Lock()
	f.takeoff++
	f.mu.Unlock()
}

func (f *fakeSafety) CheckFlightSafety(violation.Position, violation.Pilot) {
	f.mu.Lock()
	f.checks++
	f.mu.Unlock()
}

func (f *fakeSafety) FinalizeActiveViolationsOnLanding(pos violation.Position) {
	f.mu.Lock()
	f.finalized = append(f.finalized, pos)
	f.mu.Unlock()
}

func (f *fakeSafety) ClearRecentAlerts() {
	f.mu.Lock()
	f.clears++
	f.mu.Unlock()
}

func (f *fakeSafety) ForceSyncPendingAlerts(context.Context) error {
	f.mu.Lock()
	f.alertSyncs++
	f.mu.Unlock()
	return nil
}

func (f *fakeSafety) IsInRestrictedAirspace() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restricted
}

func (f *fakeSafety) ActiveViolations() map[string]violation.Violation { return nil }

func (f *fakeSafety) CurrentFlightAlertID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flightAlert
}

func (f *fakeSafety) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checks
}

type fakeConn struct {
	mu        sync.Mutex
	online    bool
	listeners map[int]func(bool)
	next      int
}

func newFakeConn(online bool) *fakeConn {
	return &fakeConn{online: online, listeners: map[int]func(bool){}}
}

func (f *fakeConn) IsOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeConn) OnConnectivityChanged(cb func(bool)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.listeners[id] = cb
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeConn) Set(online bool) {
	f.mu.Lock()
	changed := f.online != online
	f.online = online
	var cbs []func(bool)
	for _, cb := range f.listeners {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	if !changed {
		return
	}
	for _, cb := range cbs {
		cb(online)
	}
}

func (f *fakeConn) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	tracker *Tracker
	remote  *fakeRemote
	safety  *fakeSafety
	conn    *fakeConn
	clock   *fakeClock
	store   *storage.Store
}

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.OpenInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	return newHarnessWithStore(t, online, newStore(t))
}

func newHarnessWithStore(t *testing.T, online bool, store *storage.Store) *harness {
	t.Helper()
	h := &harness{
		remote: newFakeRemote(),
		safety: &fakeSafety{},
		conn:   newFakeConn(online),
		clock:  &fakeClock{t: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)},
		store:  store,
	}
	h.tracker = NewTracker(Options{
		Store:        store,
		Remote:       h.remote,
		Safety:       h.safety,
		Connectivity: h.conn,
		Now:          h.clock.Now,
	})
	t.Cleanup(h.tracker.Wait)
	return h
}

// signIn enables tracking and sets a profile for pilot-1.
func (h *harness) signIn() {
	h.tracker.SetEnabled(true)
	h.tracker.UpdateProfile(&Profile{UID: "pilot-1", LicenseNumber: "L-42", DisplayName: "Ana", Glider: "Mentor 7"})
	h.tracker.Wait()
}

func fixAt(lat, lon, alt float64, ts time.Time) TrackPoint {
	return TrackPoint{Latitude: lat, Longitude: lon, Altitude: alt, Timestamp: ts}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
