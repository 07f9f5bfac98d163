// README: Route store backed by Postgres, with Redis for the directions cache and share tokens.
package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lifeline/internal/types"
)

const (
	directionsCachePrefix = "route:cache:"
	shareTokenPrefix      = "route:share:"
)

type PGStore struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewPGStore(db *pgxpool.Pool, redis *redis.Client) *PGStore {
	return &PGStore{db: db, redis: redis}
}

func (s *PGStore) CreateRoute(ctx context.Context, r *Route) error {
	waypoints, geometry, steps, err := encodeRouteJSON(r)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO routes (
			id, request_id, assignment_id, status, status_version,
			origin_lat, origin_lng, dest_lat, dest_lng, waypoints,
			polyline, geometry, distance_m, duration_s, traffic_duration_s, steps,
			original_eta, current_eta, deviation_count, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		string(r.ID), string(r.RequestID), string(r.AssignmentID), string(r.Status), r.StatusVersion,
		r.Origin.Lat, r.Origin.Lng, r.Destination.Lat, r.Destination.Lng, waypoints,
		r.Polyline, geometry, r.DistanceM, int64(r.Duration.Seconds()), int64(r.TrafficDuration.Seconds()), steps,
		r.OriginalETA, r.CurrentETA, r.DeviationCount, r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert route: %w", err)
	}
	return nil
}

func (s *PGStore) GetRoute(ctx context.Context, id types.ID) (*Route, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, request_id, assignment_id, status, status_version,
		       origin_lat, origin_lng, dest_lat, dest_lng, waypoints,
		       polyline, geometry, distance_m, duration_s, traffic_duration_s, steps,
		       original_eta, current_eta, deviation_count, expires_at, created_at, updated_at
		FROM routes
		WHERE id = $1`, string(id),
	)
	r, err := scanRoute(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateStatus applies a conditional status change guarded by the optimistic
// version and reports false when a concurrent writer won.
func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE routes
		SET status = $1, status_version = status_version + 1, updated_at = now()
		WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(to), string(id), string(from), version,
	)
	if err != nil {
		return false, fmt.Errorf("update route status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordProgress persists one tracking update: status, current ETA, and the
// deviation counter move together, guarded by the optimistic version.
func (s *PGStore) RecordProgress(ctx context.Context, id types.ID, from, to Status, version int, currentETA time.Time, deviationCount int) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE routes
		SET status = $1, status_version = status_version + 1,
		    current_eta = $2, deviation_count = $3, updated_at = now()
		WHERE id = $4 AND status = $5 AND status_version = $6`,
		string(to), currentETA, deviationCount, string(id), string(from), version,
	)
	if err != nil {
		return false, fmt.Errorf("record route progress: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ApplyReroute swaps the path wholesale. original_eta is deliberately not in
// the SET list.
func (s *PGStore) ApplyReroute(ctx context.Context, r *Route) (bool, error) {
	_, geometry, steps, err := encodeRouteJSON(r)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE routes
		SET status = $1, status_version = status_version + 1,
		    origin_lat = $2, origin_lng = $3,
		    polyline = $4, geometry = $5, distance_m = $6,
		    duration_s = $7, traffic_duration_s = $8, steps = $9,
		    current_eta = $10, deviation_count = 0, updated_at = now()
		WHERE id = $11 AND status_version = $12 AND status <> 'completed'`,
		string(r.Status), r.Origin.Lat, r.Origin.Lng,
		r.Polyline, geometry, r.DistanceM,
		int64(r.Duration.Seconds()), int64(r.TrafficDuration.Seconds()), steps,
		r.CurrentETA, string(r.ID), r.StatusVersion,
	)
	if err != nil {
		return false, fmt.Errorf("apply reroute: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateByRequest closes all live routes of a request in one statement.
// No version guard: cancellation wins over concurrent tracking updates.
func (s *PGStore) DeactivateByRequest(ctx context.Context, requestID types.ID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE routes
		SET status = 'completed', status_version = status_version + 1, updated_at = now()
		WHERE request_id = $1 AND status <> 'completed'`,
		string(requestID),
	)
	if err != nil {
		return fmt.Errorf("deactivate routes: %w", err)
	}
	return nil
}

func (s *PGStore) CachedDirections(ctx context.Context, key string) (*DirectionsResult, bool, error) {
	raw, err := s.redis.Get(ctx, directionsCachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var res DirectionsResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, err
	}
	return &res, true, nil
}

func (s *PGStore) SaveDirections(ctx context.Context, key string, res *DirectionsResult, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, directionsCachePrefix+key, raw, ttl).Err()
}

func (s *PGStore) SaveShareToken(ctx context.Context, token string, routeID types.ID, ttl time.Duration) error {
	return s.redis.Set(ctx, shareTokenPrefix+token, string(routeID), ttl).Err()
}

func (s *PGStore) RouteIDByToken(ctx context.Context, token string) (types.ID, error) {
	id, err := s.redis.Get(ctx, shareTokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenExpired
	}
	if err != nil {
		return "", err
	}
	return types.ID(id), nil
}

func scanRoute(row interface{ Scan(dest ...any) error }) (*Route, error) {
	var (
		r               Route
		durationS       int64
		trafficS        int64
		waypointsJSON   []byte
		geometryJSON    []byte
		stepsJSON       []byte
	)
	err := row.Scan(
		&r.ID, &r.RequestID, &r.AssignmentID, &r.Status, &r.StatusVersion,
		&r.Origin.Lat, &r.Origin.Lng, &r.Destination.Lat, &r.Destination.Lng, &waypointsJSON,
		&r.Polyline, &geometryJSON, &r.DistanceM, &durationS, &trafficS, &stepsJSON,
		&r.OriginalETA, &r.CurrentETA, &r.DeviationCount, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Duration = time.Duration(durationS) * time.Second
	r.TrafficDuration = time.Duration(trafficS) * time.Second
	if len(waypointsJSON) > 0 {
		if err := json.Unmarshal(waypointsJSON, &r.Waypoints); err != nil {
			return nil, err
		}
	}
	if len(geometryJSON) > 0 {
		if err := json.Unmarshal(geometryJSON, &r.Geometry); err != nil {
			return nil, err
		}
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &r.Steps); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func encodeRouteJSON(r *Route) (waypoints, geometry, steps []byte, err error) {
	if waypoints, err = json.Marshal(r.Waypoints); err != nil {
		return nil, nil, nil, err
	}
	if geometry, err = json.Marshal(r.Geometry); err != nil {
		return nil, nil, nil, err
	}
	if steps, err = json.Marshal(r.Steps); err != nil {
		return nil, nil, nil, err
	}
	return waypoints, geometry, steps, nil
}
