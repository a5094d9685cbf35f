package tracking

import (
	"testing"
	"time"
)

func TestStateStoreEnabledDefault(t *testing.T) {
	s := NewStateStore(newStore(t), nil)
	if s.Enabled() {
		t.Fatalf("expected disabled by default")
	}
	if err := s.SetEnabled(true); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	if !s.Enabled() {
		t.Fatalf("expected enabled")
	}
}

func TestStateStoreSnapshot(t *testing.T) {
	s := NewStateStore(newStore(t), nil)
	if _, ok := s.Load(); ok {
		t.Fatalf("expected no snapshot")
	}

	start := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Save(SessionSnapshot{Active: true, UID: "pilot-1", FlightStartTime: &start, TakeoffSite: "Hoher Kranz"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap, ok := s.Load()
	if !ok || !snap.Active || snap.UID != "pilot-1" || !snap.FlightStartTime.Equal(start) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok := s.Load(); ok {
		t.Fatalf("expected snapshot cleared")
	}
}

func TestStateStoreCorruptSnapshot(t *testing.T) {
	store := newStore(t)
	_ = store.Set(sessionKey, []byte("{not json"))
	if _, ok := NewStateStore(store, nil).Load(); ok {
		t.Fatalf("expected corrupt snapshot to be ignored")
	}
}
