package tracking

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"backend-livetrack/internal/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrOffline marks a write that was not attempted because the remote store
// is unreachable.
var ErrOffline = errors.New("tracking: offline")

// Remote is the live-position document store.
type Remote interface {
	// UpsertPosition replaces the whole record for doc.UID.
	UpsertPosition(ctx context.Context, doc LiveDocument) error
	// MarkLanded flips the record to not-in-flight. A non-nil flightStart
	// limits it to a record of that flight or an earlier one, so a stale
	// landing never ends a newer flight.
	MarkLanded(ctx context.Context, uid string, flightStart *time.Time, at time.Time) error
	RemoveLive(ctx context.Context, uid string) error
	FetchValidity(ctx context.Context, uid string) (membership, insurance bool, err error)
}

// IsNetworkError reports whether err is a transport-level failure, as
// opposed to a rejection of the data itself.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOffline) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// Unreachable is the Remote used when no store is configured. Every call
// fails with ErrOffline.
type Unreachable struct{}

func (Unreachable) UpsertPosition(context.Context, LiveDocument) error { return ErrOffline }
func (Unreachable) RemoveLive(context.Context, string) error { return ErrOffline }
func (Unreachable) MarkLanded(context.Context, string, *time.Time, time.Time) error {
	return ErrOffline
}
func (Unreachable) FetchValidity(context.Context, string) (bool, bool, error) {
	return false, false, ErrOffline
}

// PGRemote stores live documents in the live_positions table.
type PGRemote struct {
	db db.Querier
}

func NewPGRemote(q db.Querier) *PGRemote {
	return &PGRemote{db: q}
}

func (r *PGRemote) UpsertPosition(ctx context.Context, d LiveDocument) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO live_positions (
			uid, license_number, display_name, license_type, glider,
			membership_valid, insurance_valid, lat, lon, alt, heading, speed,
			airspace_violation, in_flight, flight_start_time, takeoff_site, alert_id,
			synced_from_offline, original_timestamp, landed_at, last_update
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,NULL,now())
		ON CONFLICT (uid) DO UPDATE
		SET license_number=EXCLUDED.license_number, display_name=EXCLUDED.display_name,
		    license_type=EXCLUDED.license_type, glider=EXCLUDED.glider,
		    membership_valid=EXCLUDED.membership_valid, insurance_valid=EXCLUDED.insurance_valid,
		    lat=EXCLUDED.lat, lon=EXCLUDED.lon, alt=EXCLUDED.alt,
		    heading=EXCLUDED.heading, speed=EXCLUDED.speed,
		    airspace_violation=EXCLUDED.airspace_violation, in_flight=EXCLUDED.in_flight,
		    flight_start_time=EXCLUDED.flight_start_time, takeoff_site=EXCLUDED.takeoff_site,
		    alert_id=EXCLUDED.alert_id, synced_from_offline=EXCLUDED.synced_from_offline,
		    original_timestamp=EXCLUDED.original_timestamp, landed_at=NULL, last_update=now()
	`, d.UID, d.LicenseNumber, d.DisplayName, d.LicenseType, d.Glider,
		d.MembershipValid, d.InsuranceValid, d.Latitude, d.Longitude, d.Altitude, d.Heading, d.Speed,
		d.AirspaceViolation, d.InFlight, d.FlightStartTime, d.TakeoffSite, nullable(d.AlertID),
		d.SyncedFromOffline, d.OriginalTimestamp)
	return err
}

func (r *PGRemote) MarkLanded(ctx context.Context, uid string, flightStart *time.Time, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE live_positions
		SET in_flight=false, landed_at=$2, last_update=now()
		WHERE uid=$1
		  AND ($3::timestamptz IS NULL OR flight_start_time IS NULL OR flight_start_time <= $3)
	`, uid, at, flightStart)
	return err
}

func (r *PGRemote) RemoveLive(ctx context.Context, uid string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM live_positions WHERE uid=$1`, uid)
	return err
}

// FetchValidity reads the membership and insurance flags. An unknown pilot
// is reported as invalid on both.
func (r *PGRemote) FetchValidity(ctx context.Context, uid string) (bool, bool, error) {
	var membership, insurance bool
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(membership_valid,false), COALESCE(insurance_valid,false)
		FROM pilots WHERE uid=$1
	`, uid).Scan(&membership, &insurance)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return membership, insurance, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
