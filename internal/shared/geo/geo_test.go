package geo

import (
	"math"
	"testing"
)

func TestHaversineKm(t *testing.T) {
	// Innsbruck (47.2692, 11.4041) to Munich (48.1351, 11.5820) ~ 96-98 km
	d := HaversineKm(47.2692, 11.4041, 48.1351, 11.5820)
	if d < 94 || d > 100 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestHaversineMetersSamePoint(t *testing.T) {
	if d := HaversineMeters(47.0, 11.0, 47.0, 11.0); d != 0 {
		t.Fatalf("expected zero distance, got %v", d)
	}
}

func TestHaversineMetersSymmetric(t *testing.T) {
	a := HaversineMeters(47.0, 11.0, 47.001, 11.002)
	b := HaversineMeters(47.001, 11.002, 47.0, 11.0)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("expected symmetric distance: %v vs %v", a, b)
	}
}

func TestHaversineMetersOneDegreeLatitude(t *testing.T) {
	// one degree of latitude on a 6371km sphere is ~111.19km
	d := HaversineMeters(0, 0, 1, 0)
	if math.Abs(d-111194.93) > 1 {
		t.Fatalf("unexpected one-degree distance: %v", d)
	}
}

func TestValidCoordinate(t *testing.T) {
	cases := []struct {
		lat, lng float64
		ok       bool
	}{
		{47, 11, true},
		{90, 180, true},
		{-90, -180, true},
		{90.1, 0, false},
		{0, -180.5, false},
		{math.NaN(), 0, false},
	}
	for _, c := range cases {
		if got := ValidCoordinate(c.lat, c.lng); got != c.ok {
			t.Fatalf("ValidCoordinate(%v,%v)=%v want %v", c.lat, c.lng, got, c.ok)
		}
	}
}
