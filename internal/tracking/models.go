package tracking

import (
	"fmt"
	"time"

	"backend-livetrack/internal/shared/geo"
	"backend-livetrack/internal/violation"
)

const (
	UpdatePosition = "position"
	UpdateLanding  = "landing"
)

// TrackPoint is one positioning fix. Altitude is meters above the sensor's
// reference; no datum conversion is done.
type TrackPoint struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  float64   `json:"alt"`
	Speed     *float64  `json:"speed,omitempty"`
	Heading   *float64  `json:"heading,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (p TrackPoint) Validate() error {
	if !geo.ValidCoordinate(p.Latitude, p.Longitude) {
		return fmt.Errorf("tracking: coordinate out of range (%v, %v)", p.Latitude, p.Longitude)
	}
	return nil
}

func (p TrackPoint) position() violation.Position {
	return violation.Position{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Altitude:  p.Altitude,
		Timestamp: p.Timestamp,
	}
}

// Profile is what the host hands over after sign-in.
type Profile struct {
	UID           string `json:"uid"`
	LicenseNumber string `json:"licenseNumber"`
	DisplayName   string `json:"displayName"`
	LicenseType   string `json:"licenseType"`
	Glider        string `json:"glider"`
}

// Identity is the cached pilot identity including the remotely refreshed
// validity flags.
type Identity struct {
	Profile
	MembershipValid bool `json:"membershipValid"`
	InsuranceValid  bool `json:"insuranceValid"`
}

func (i Identity) pilot() violation.Pilot {
	return violation.Pilot{
		UID:             i.UID,
		LicenseNumber:   i.LicenseNumber,
		DisplayName:     i.DisplayName,
		LicenseType:     i.LicenseType,
		Glider:          i.Glider,
		MembershipValid: i.MembershipValid,
		InsuranceValid:  i.InsuranceValid,
	}
}

// PendingUpdate is a durable queue entry. AdditionalData carries the record
// type and the identity snapshot taken at enqueue time.
type PendingUpdate struct {
	ID             string         `json:"id"`
	Point          TrackPoint     `json:"position"`
	EnqueuedAt     time.Time      `json:"timestamp"`
	AdditionalData map[string]any `json:"additionalData"`
}

func (u PendingUpdate) Type() string {
	if v, ok := u.AdditionalData["type"].(string); ok {
		return v
	}
	return UpdatePosition
}

func (u PendingUpdate) UID() string {
	v, _ := u.AdditionalData["uid"].(string)
	return v
}

// SessionState is owned by the Tracker. LastUploadTime and
// LastUploadedPosition are always both nil or both set.
type SessionState struct {
	Enabled              bool
	Active               bool
	LastUploadTime       *time.Time
	LastUploadedPosition *TrackPoint
	LastPosition         *TrackPoint
	FlightStartTime      *time.Time
	TakeoffSite          string
	Identity             *Identity
	// Pilot is the identity captured at takeoff. Landing and shutdown
	// writes use it so a profile change mid-flight cannot orphan the record.
	Pilot *Identity
}

// SessionSnapshot is the persisted form of an in-flight session, used to
// detect flights interrupted by process death.
type SessionSnapshot struct {
	Active          bool        `json:"active"`
	UID             string      `json:"uid"`
	FlightStartTime *time.Time  `json:"flightStartTime,omitempty"`
	TakeoffSite     string      `json:"takeoffSite"`
	LastPosition    *TrackPoint `json:"lastPosition,omitempty"`
	SavedAt         time.Time   `json:"savedAt"`
}

type Status struct {
	Enabled              bool       `json:"enabled"`
	Active               bool       `json:"active"`
	Online               bool       `json:"online"`
	PendingCount         int        `json:"pendingCount"`
	LastUpload           *time.Time `json:"lastUpload,omitempty"`
	FlightStartTime      *time.Time `json:"flightStartTime,omitempty"`
	TakeoffSite          string     `json:"takeoffSite,omitempty"`
	UID                  string     `json:"uid,omitempty"`
	InRestrictedAirspace bool       `json:"inRestrictedAirspace"`
}

// LiveDocument is the full remote record for one pilot. Writes replace the
// whole record.
type LiveDocument struct {
	UID               string     `json:"uid"`
	LicenseNumber     string     `json:"licenseNumber"`
	DisplayName       string     `json:"displayName"`
	LicenseType       string     `json:"licenseType"`
	Glider            string     `json:"glider"`
	MembershipValid   bool       `json:"membershipValid"`
	InsuranceValid    bool       `json:"insuranceValid"`
	Latitude          float64    `json:"lat"`
	Longitude         float64    `json:"lon"`
	Altitude          float64    `json:"alt"`
	Heading           *float64   `json:"heading,omitempty"`
	Speed             *float64   `json:"speed,omitempty"`
	AirspaceViolation bool       `json:"airspaceViolation"`
	InFlight          bool       `json:"inFlight"`
	FlightStartTime   *time.Time `json:"flightStartTime,omitempty"`
	TakeoffSite       string     `json:"takeoffSite"`
	AlertID           string     `json:"alertId,omitempty"`
	SyncedFromOffline bool       `json:"syncedFromOffline,omitempty"`
	OriginalTimestamp *time.Time `json:"originalTimestamp,omitempty"`
}
