package tracking

import (
	"testing"
	"time"

	"backend-livetrack/internal/shared/geo"
)

func TestShouldUploadFirstSample(t *testing.T) {
	now := time.Now()
	if !ShouldUpload(fixAt(47, 11, 1000, now), nil, nil, now, DefaultThrottle()) {
		t.Fatalf("expected first sample to upload")
	}
}

func TestShouldUploadDistanceGate(t *testing.T) {
	th := DefaultThrottle()
	base := time.Now()
	last := fixAt(47, 11, 1000, base)

	// offsets in degrees latitude; 0.0005 deg ~ 55.6m, 0.0004 deg ~ 44.5m
	for _, dLat := range []float64{0.0005, 0.001, 0.01, 1} {
		cur := fixAt(47+dLat, 11, 1000, base)
		if geo.HaversineMeters(last.Latitude, last.Longitude, cur.Latitude, cur.Longitude) < th.DistanceM {
			t.Fatalf("test point %v is not beyond threshold", dLat)
		}
		for _, elapsed := range []time.Duration{0, time.Second, 11 * time.Second} {
			uploaded := base
			if !ShouldUpload(cur, &uploaded, &last, base.Add(elapsed), th) {
				t.Fatalf("expected upload at %v moved, %v elapsed", dLat, elapsed)
			}
		}
	}
}

func TestShouldUploadTimeGate(t *testing.T) {
	th := DefaultThrottle()
	base := time.Now()
	last := fixAt(47, 11, 1000, base)

	for _, elapsed := range []time.Duration{12 * time.Second, 13 * time.Second, time.Hour} {
		for _, dLat := range []float64{0, 0.0001, 0.01} {
			uploaded := base
			if !ShouldUpload(fixAt(47+dLat, 11, 1000, base), &uploaded, &last, base.Add(elapsed), th) {
				t.Fatalf("expected upload after %v regardless of distance", elapsed)
			}
		}
	}
}

func TestShouldUploadSuppressed(t *testing.T) {
	th := DefaultThrottle()
	base := time.Now()
	last := fixAt(47, 11, 1000, base)

	for _, elapsed := range []time.Duration{0, time.Second, 11*time.Second + 999*time.Millisecond} {
		for _, dLat := range []float64{0, 0.0001, 0.0004} {
			uploaded := base
			if ShouldUpload(fixAt(47+dLat, 11, 1000, base), &uploaded, &last, base.Add(elapsed), th) {
				t.Fatalf("expected suppression at %v elapsed, %v moved", elapsed, dLat)
			}
		}
	}
}

func TestShouldUploadThresholdInclusive(t *testing.T) {
	base := time.Now()
	last := fixAt(47, 11, 1000, base)
	cur := fixAt(47.0003, 11, 1000, base)
	exact := geo.HaversineMeters(last.Latitude, last.Longitude, cur.Latitude, cur.Longitude)

	uploaded := base
	th := Throttle{Interval: time.Hour, DistanceM: exact}
	if !ShouldUpload(cur, &uploaded, &last, base, th) {
		t.Fatalf("expected distance equal to threshold to upload")
	}

	th = Throttle{Interval: 12 * time.Second, DistanceM: 1e9}
	if !ShouldUpload(last, &uploaded, &last, base.Add(12*time.Second), th) {
		t.Fatalf("expected elapsed equal to interval to upload")
	}
}
