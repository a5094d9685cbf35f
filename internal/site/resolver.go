package site

import (
	"context"
	"fmt"

	"backend-livetrack/internal/db"
	"backend-livetrack/internal/shared/geo"
)

// Takeoff is a known launch site from the waypoints table.
type Takeoff struct {
	ID         string
	Name       string
	Lat        float64
	Lng        float64
	ElevationM float64
}

// Resolver labels a takeoff position with the nearest known launch site.
type Resolver struct {
	db       db.Querier
	radiusKm float64
}

func NewResolver(q db.Querier, radiusKm float64) *Resolver {
	if radiusKm <= 0 {
		radiusKm = 2
	}
	return &Resolver{db: q, radiusKm: radiusKm}
}

// Candidates returns the verified takeoff waypoints within the search radius.
func (r *Resolver) Candidates(ctx context.Context, lat, lon float64) ([]Takeoff, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, ST_Y(location::geometry), ST_X(location::geometry), COALESCE(elevation_m,0)
		FROM waypoints
		WHERE type='takeoff' AND is_verified
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1,$2), 4326)::geography, $3)
	`, lon, lat, r.radiusKm*1000)
	if err != nil {
		return nil, fmt.Errorf("query takeoff sites: %w", err)
	}
	defer rows.Close()

	var out []Takeoff
	for rows.Next() {
		var t Takeoff
		if err := rows.Scan(&t.ID, &t.Name, &t.Lat, &t.Lng, &t.ElevationM); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// NearestTakeoff returns the name of the closest candidate, or "" when none
// is within the radius.
func (r *Resolver) NearestTakeoff(ctx context.Context, lat, lon float64) (string, error) {
	candidates, err := r.Candidates(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	best, bestKm := "", r.radiusKm
	for _, c := range candidates {
		if d := geo.HaversineKm(lat, lon, c.Lat, c.Lng); d <= bestKm {
			best, bestKm = c.Name, d
		}
	}
	return best, nil
}
