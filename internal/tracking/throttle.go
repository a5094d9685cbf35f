package tracking

import (
	"time"

	"backend-livetrack/internal/shared/geo"
)

// Throttle holds the two independent upload gates.
type Throttle struct {
	Interval  time.Duration
	DistanceM float64
}

func DefaultThrottle() Throttle {
	return Throttle{Interval: 12 * time.Second, DistanceM: 50}
}

// ShouldUpload reports whether current is due for upload: the first sample
// after activation, or enough time elapsed, or far enough moved. Thresholds
// are inclusive.
func ShouldUpload(current TrackPoint, lastUploadTime *time.Time, lastUploaded *TrackPoint, now time.Time, th Throttle) bool {
	if lastUploadTime == nil || lastUploaded == nil {
		return true
	}
	if now.Sub(*lastUploadTime) >= th.Interval {
		return true
	}
	moved := geo.HaversineMeters(lastUploaded.Latitude, lastUploaded.Longitude, current.Latitude, current.Longitude)
	return moved >= th.DistanceM
}
