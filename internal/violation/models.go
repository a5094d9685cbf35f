package violation

import (
	"context"
	"time"
)

type AlertType string

const (
	AlertMembershipInvalid AlertType = "membership_invalid"
	AlertInsuranceInvalid  AlertType = "insurance_invalid"
	AlertLicenseMissing    AlertType = "license_missing"
	AlertAirspace          AlertType = "airspace_violation"
	AlertAltitude          AlertType = "altitude_violation"
)

// Position is the subset of a fix the rules look at.
type Position struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Altitude  float64   `json:"alt"`
	Timestamp time.Time `json:"timestamp"`
}

// Pilot is the identity snapshot evaluated by the credential rules.
type Pilot struct {
	UID             string `json:"uid"`
	LicenseNumber   string `json:"licenseNumber"`
	DisplayName     string `json:"displayName"`
	LicenseType     string `json:"licenseType"`
	Glider          string `json:"glider"`
	MembershipValid bool   `json:"membershipValid"`
	InsuranceValid  bool   `json:"insuranceValid"`
}

type Alert struct {
	ID          string     `json:"id"`
	UID         string     `json:"uid"`
	Type        AlertType  `json:"type"`
	Message     string     `json:"message"`
	ZoneID      string     `json:"zoneId,omitempty"`
	Latitude    float64    `json:"lat"`
	Longitude   float64    `json:"lon"`
	Altitude    float64    `json:"alt"`
	MaxAltitude float64    `json:"maxAltitude"`
	CreatedAt   time.Time  `json:"createdAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// Violation is an open or closed window during which a rule was broken.
type Violation struct {
	UID         string     `json:"uid"`
	Type        AlertType  `json:"type"`
	ZoneID      string     `json:"zoneId,omitempty"`
	AlertID     string     `json:"alertId"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	Start       Position   `json:"start"`
	End         *Position  `json:"end,omitempty"`
	MaxAltitude float64    `json:"maxAltitude"`
}

// Collaborator evaluates airspace, altitude and credential rules for the
// tracking core. CheckFlightSafety is called on every fix and must not
// block on the network.
type Collaborator interface {
	BeginFlight()
	CheckCredentialsAtTakeoff(pilot Pilot, pos Position)
	CheckFlightSafety(pos Position, pilot Pilot)
	FinalizeActiveViolationsOnLanding(pos Position)
	ClearRecentAlerts()
	ForceSyncPendingAlerts(ctx context.Context) error

	IsInRestrictedAirspace() bool
	ActiveViolations() map[string]Violation
	CurrentFlightAlertID() string
}

// AirspaceIndex answers containment queries. The polygon geometry lives
// outside this daemon.
type AirspaceIndex interface {
	Lookup(lat, lon, alt float64) (zoneID string, restricted bool)
}

// AlertSink persists alerts remotely. SaveAlert must be idempotent per ID.
type AlertSink interface {
	SaveAlert(ctx context.Context, alert Alert) error
}
