// README: Append-only position sample store.
package tracking

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"lifeline/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// AppendSample inserts one sample. Samples are never updated or deleted;
// deactivating a route only stops new ones from arriving.
func (s *PGStore) AppendSample(ctx context.Context, sample *Sample) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO route_samples (
			route_id, lat, lng, heading_deg, speed_kmh, accuracy_m,
			distance_from_route_m, on_route, progress_pct, recorded_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		string(sample.RouteID), sample.Position.Lat, sample.Position.Lng,
		sample.HeadingDeg, sample.SpeedKmh, sample.AccuracyM,
		sample.DistanceFromRouteM, sample.OnRoute, sample.ProgressPct, sample.RecordedAt,
	)
	if err := row.Scan(&sample.ID); err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// SamplesByRoute returns the newest samples first.
func (s *PGStore) SamplesByRoute(ctx context.Context, routeID types.ID, limit int) ([]Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, route_id, lat, lng, heading_deg, speed_kmh, accuracy_m,
		       distance_from_route_m, on_route, progress_pct, recorded_at
		FROM route_samples
		WHERE route_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2`, string(routeID), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sm Sample
		err := rows.Scan(
			&sm.ID, &sm.RouteID, &sm.Position.Lat, &sm.Position.Lng,
			&sm.HeadingDeg, &sm.SpeedKmh, &sm.AccuracyM,
			&sm.DistanceFromRouteM, &sm.OnRoute, &sm.ProgressPct, &sm.RecordedAt,
		)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}
