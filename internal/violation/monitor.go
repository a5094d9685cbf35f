package violation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"backend-livetrack/internal/storage"

	"github.com/google/uuid"
)

const pendingAlertsKey = "pending_flight_alerts"

type Options struct {
	// MaxAltitudeM disables the altitude rule when zero.
	MaxAltitudeM float64
	DedupWindow  time.Duration
	Airspace     AirspaceIndex
	Sink         AlertSink
	Store        storage.KV
	OnAlert      func(Alert)
	Logger       *slog.Logger
	Now          func() time.Time
}

type recentAlert struct {
	id string
	at time.Time
}

// Monitor is the default Collaborator.
type Monitor struct {
	opts Options

	mu         sync.Mutex
	recent     map[string]recentAlert
	active     map[string]*Violation
	inAirspace bool
	flightID   string
	pending    []Alert
	dirty      bool

	syncing atomic.Bool
}

func NewMonitor(opts Options) *Monitor {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Monitor{
		opts:   opts,
		recent: map[string]recentAlert{},
		active: map[string]*Violation{},
	}
	m.loadPending()
	return m
}

// BeginFlight drops flight-scoped state left by a previous flight. It must
// run before the first fix of the new flight is checked.
func (m *Monitor) BeginFlight() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = map[string]*Violation{}
	m.inAirspace = false
	m.flightID = ""
}

// CheckCredentialsAtTakeoff raises credential alerts for the flight that
// BeginFlight started. It leaves airspace and altitude windows alone, so it
// may finish after the first fixes were checked.
func (m *Monitor) CheckCredentialsAtTakeoff(pilot Pilot, pos Position) {
	m.mu.Lock()
	var raised []Alert
	if !pilot.MembershipValid {
		raised = m.raiseLocked(pilot.UID, AlertMembershipInvalid, "", "membership is not valid", pos)
	}
	if !pilot.InsuranceValid {
		raised = append(raised, m.raiseLocked(pilot.UID, AlertInsuranceInvalid, "", "insurance is not valid", pos)...)
	}
	if pilot.LicenseNumber == "" {
		raised = append(raised, m.raiseLocked(pilot.UID, AlertLicenseMissing, "", "no license on file", pos)...)
	}
	m.persistPendingLocked()
	m.mu.Unlock()

	m.emit(raised)
}

func (m *Monitor) CheckFlightSafety(pos Position, pilot Pilot) {
	m.mu.Lock()
	var raised []Alert

	zoneID, restricted := "", false
	if m.opts.Airspace != nil {
		zoneID, restricted = m.opts.Airspace.Lookup(pos.Latitude, pos.Longitude, pos.Altitude)
	}
	m.inAirspace = restricted
	for key, v := range m.active {
		if v.Type == AlertAirspace && (!restricted || v.ZoneID != zoneID) {
			m.closeLocked(key, pos)
		}
	}
	if restricted {
		raised = append(raised, m.openLocked(pilot.UID, AlertAirspace, zoneID, fmt.Sprintf("entered restricted airspace %s", zoneID), pos)...)
	}

	if m.opts.MaxAltitudeM > 0 {
		if pos.Altitude > m.opts.MaxAltitudeM {
			msg := fmt.Sprintf("altitude %.0fm above limit %.0fm", pos.Altitude, m.opts.MaxAltitudeM)
			raised = append(raised, m.openLocked(pilot.UID, AlertAltitude, "", msg, pos)...)
		} else if _, ok := m.active[violationKey(AlertAltitude, "")]; ok {
			m.closeLocked(violationKey(AlertAltitude, ""), pos)
		}
	}
	if m.dirty {
		m.persistPendingLocked()
	}
	m.mu.Unlock()

	m.emit(raised)
}

// FinalizeActiveViolationsOnLanding closes every open window at pos and
// ends the current flight.
func (m *Monitor) FinalizeActiveViolationsOnLanding(pos Position) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.active {
		m.closeLocked(key, pos)
	}
	m.active = map[string]*Violation{}
	m.inAirspace = false
	m.flightID = ""
	m.persistPendingLocked()
}

func (m *Monitor) ClearRecentAlerts() {
	m.mu.Lock()
	m.recent = map[string]recentAlert{}
	m.mu.Unlock()
}

// ForceSyncPendingAlerts pushes queued alerts to the sink. It stops at the
// first failure and keeps the rest for the next attempt.
func (m *Monitor) ForceSyncPendingAlerts(ctx context.Context) error {
	if m.opts.Sink == nil {
		return nil
	}
	if !m.syncing.CompareAndSwap(false, true) {
		return nil
	}
	defer m.syncing.Store(false)

	m.mu.Lock()
	batch := append([]Alert(nil), m.pending...)
	m.mu.Unlock()

	var syncErr error
	synced := map[string]time.Time{}
	for _, alert := range batch {
		if err := m.opts.Sink.SaveAlert(ctx, alert); err != nil {
			syncErr = fmt.Errorf("sync alert %s: %w", alert.ID, err)
			break
		}
		synced[alert.ID] = alertVersion(alert)
	}

	m.mu.Lock()
	kept := m.pending[:0]
	for _, alert := range m.pending {
		if v, ok := synced[alert.ID]; ok && v.Equal(alertVersion(alert)) {
			continue
		}
		kept = append(kept, alert)
	}
	m.pending = kept
	m.persistPendingLocked()
	m.mu.Unlock()

	if syncErr != nil {
		m.opts.Logger.Warn("alert sync incomplete", "error", syncErr, "synced", len(synced))
	}
	return syncErr
}

func (m *Monitor) IsInRestrictedAirspace() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inAirspace
}

func (m *Monitor) ActiveViolations() map[string]Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Violation, len(m.active))
	for k, v := range m.active {
		out[k] = *v
	}
	return out
}

func (m *Monitor) CurrentFlightAlertID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flightID
}

// PendingAlerts returns the number of alerts not yet synced.
func (m *Monitor) PendingAlerts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Monitor) openLocked(uid string, typ AlertType, zoneID, msg string, pos Position) []Alert {
	key := violationKey(typ, zoneID)
	if v, ok := m.active[key]; ok {
		if pos.Altitude > v.MaxAltitude {
			v.MaxAltitude = pos.Altitude
		}
		return nil
	}

	raised := m.raiseLocked(uid, typ, zoneID, msg, pos)
	alertID := ""
	if r, ok := m.recent[dedupKey(uid, typ, zoneID)]; ok {
		alertID = r.id
	}
	m.active[key] = &Violation{
		UID:         uid,
		Type:        typ,
		ZoneID:      zoneID,
		AlertID:     alertID,
		StartedAt:   m.opts.Now(),
		Start:       pos,
		MaxAltitude: pos.Altitude,
	}
	return raised
}

// closeLocked ends a window and queues the final version of its alert.
func (m *Monitor) closeLocked(key string, pos Position) {
	v, ok := m.active[key]
	if !ok {
		return
	}
	delete(m.active, key)

	ended := m.opts.Now()
	end := pos
	v.EndedAt = &ended
	v.End = &end
	if v.AlertID == "" {
		return
	}

	m.dirty = true
	for i := range m.pending {
		if m.pending[i].ID == v.AlertID {
			m.pending[i].EndedAt = &ended
			m.pending[i].MaxAltitude = v.MaxAltitude
			return
		}
	}
	m.pending = append(m.pending, Alert{
		ID:          v.AlertID,
		UID:         v.UID,
		Type:        v.Type,
		ZoneID:      v.ZoneID,
		Latitude:    v.Start.Latitude,
		Longitude:   v.Start.Longitude,
		Altitude:    v.Start.Altitude,
		MaxAltitude: v.MaxAltitude,
		CreatedAt:   v.StartedAt,
		EndedAt:     &ended,
	})
}

// raiseLocked creates an alert unless an identical one was raised within the
// dedup window.
func (m *Monitor) raiseLocked(uid string, typ AlertType, zoneID, msg string, pos Position) []Alert {
	now := m.opts.Now()
	key := dedupKey(uid, typ, zoneID)
	if r, ok := m.recent[key]; ok && now.Sub(r.at) < m.opts.DedupWindow {
		return nil
	}

	alert := Alert{
		ID:          uuid.NewString(),
		UID:         uid,
		Type:        typ,
		Message:     msg,
		ZoneID:      zoneID,
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Altitude:    pos.Altitude,
		MaxAltitude: pos.Altitude,
		CreatedAt:   now,
	}
	m.recent[key] = recentAlert{id: alert.ID, at: now}
	if m.flightID == "" {
		m.flightID = alert.ID
	}
	m.pending = append(m.pending, alert)
	m.dirty = true
	return []Alert{alert}
}

func (m *Monitor) emit(alerts []Alert) {
	if m.opts.OnAlert == nil {
		return
	}
	for _, a := range alerts {
		m.opts.OnAlert(a)
	}
}

func (m *Monitor) loadPending() {
	if m.opts.Store == nil {
		return
	}
	var pending []Alert
	if err := storage.GetJSON(m.opts.Store, pendingAlertsKey, &pending); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.opts.Logger.Error("discarding unreadable pending alerts", "error", err)
		}
		return
	}
	m.pending = pending
}

func (m *Monitor) persistPendingLocked() {
	m.dirty = false
	if m.opts.Store == nil {
		return
	}
	if err := storage.SetJSON(m.opts.Store, pendingAlertsKey, m.pending); err != nil {
		m.opts.Logger.Error("persist pending alerts", "error", err)
	}
}

func alertVersion(a Alert) time.Time {
	if a.EndedAt != nil {
		return *a.EndedAt
	}
	return time.Time{}
}

func violationKey(typ AlertType, zoneID string) string {
	if zoneID == "" {
		return string(typ)
	}
	return string(typ) + ":" + zoneID
}

func dedupKey(uid string, typ AlertType, zoneID string) string {
	return uid + "|" + violationKey(typ, zoneID)
}
