package violation

import (
	"context"

	"backend-livetrack/internal/db"
)

// PGSink writes alerts to the flight_alerts table. Replays of the same alert
// only move its closing fields forward.
type PGSink struct {
	db db.Querier
}

func NewPGSink(q db.Querier) *PGSink {
	return &PGSink{db: q}
}

func (s *PGSink) SaveAlert(ctx context.Context, a Alert) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO flight_alerts (id, uid, type, message, zone_id, lat, lon, alt, max_altitude, created_at, ended_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE
		SET max_altitude=GREATEST(flight_alerts.max_altitude, EXCLUDED.max_altitude),
		    ended_at=COALESCE(EXCLUDED.ended_at, flight_alerts.ended_at)
	`, a.ID, a.UID, string(a.Type), a.Message, a.ZoneID, a.Latitude, a.Longitude, a.Altitude, a.MaxAltitude, a.CreatedAt, a.EndedAt)
	return err
}
