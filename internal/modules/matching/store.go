// README: Candidate store backed by Postgres snapshots and a Redis GEO index.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lifeline/internal/types"
)

const (
	donorGeoKey     = "matching:donors"
	volunteerGeoKey = "matching:volunteers"
)

var ErrCandidateNotFound = errors.New("candidate not found")

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

// UpsertDonorPosition mirrors a donor's position into the GEO index.
func (s *Store) UpsertDonorPosition(ctx context.Context, id types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, donorGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

// UpsertVolunteerPosition mirrors a volunteer's position into the GEO index.
func (s *Store) UpsertVolunteerPosition(ctx context.Context, id types.ID, pos types.Point) error {
	return s.redis.GeoAdd(ctx, volunteerGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	}).Err()
}

func (s *Store) RemoveDonorPosition(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, donorGeoKey, string(id)).Err()
}

func (s *Store) RemoveVolunteerPosition(ctx context.Context, id types.ID) error {
	return s.redis.ZRem(ctx, volunteerGeoKey, string(id)).Err()
}

// NearbyDonorIDs returns donor IDs within radiusKm of origin, nearest first.
func (s *Store) NearbyDonorIDs(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error) {
	return s.geoSearch(ctx, donorGeoKey, origin, radiusKm)
}

// NearbyVolunteerIDs returns volunteer IDs within radiusKm of origin, nearest first.
func (s *Store) NearbyVolunteerIDs(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error) {
	return s.geoSearch(ctx, volunteerGeoKey, origin, radiusKm)
}

func (s *Store) geoSearch(ctx context.Context, key string, origin types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, key, &redis.GeoSearchQuery{
		Longitude:  origin.Lng,
		Latitude:   origin.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search %s: %w", key, err)
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}

// DonorsByID loads donor snapshots for the given IDs. Missing IDs are
// silently skipped; the GEO index may briefly lead the table.
func (s *Store) DonorsByID(ctx context.Context, ids []types.ID) ([]Donor, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, blood_group, lat, lng, available,
		       donation_count, last_donation_at, next_eligible_at
		FROM donors
		WHERE id = ANY($1)`, idStrings(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var donors []Donor
	for rows.Next() {
		d, err := scanDonor(rows)
		if err != nil {
			return nil, err
		}
		donors = append(donors, d)
	}
	return donors, rows.Err()
}

func (s *Store) Donor(ctx context.Context, id types.ID) (*Donor, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, blood_group, lat, lng, available,
		       donation_count, last_donation_at, next_eligible_at
		FROM donors
		WHERE id = $1`, string(id),
	)
	d, err := scanDonor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// VolunteersByID loads volunteer snapshots for the given IDs.
func (s *Store) VolunteersByID(ctx context.Context, ids []types.ID) ([]Volunteer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, name, lat, lng, active, success_rate_pct, requests_handled
		FROM volunteers
		WHERE id = ANY($1)`, idStrings(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vols []Volunteer
	for rows.Next() {
		v, err := scanVolunteer(rows)
		if err != nil {
			return nil, err
		}
		vols = append(vols, v)
	}
	return vols, rows.Err()
}

func (s *Store) Volunteer(ctx context.Context, id types.ID) (*Volunteer, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, lat, lng, active, success_rate_pct, requests_handled
		FROM volunteers
		WHERE id = $1`, string(id),
	)
	v, err := scanVolunteer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SetDonorAvailability is the delegated candidate write used when a donor
// assignment is accepted.
func (s *Store) SetDonorAvailability(ctx context.Context, id types.ID, available bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE donors SET available = $1 WHERE id = $2`, available, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}
	return nil
}

// RecordDonation bumps a donor's history after a completed donation and
// pushes the next-eligible date out by the cooldown.
func (s *Store) RecordDonation(ctx context.Context, id types.ID, at time.Time, nextEligible time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE donors
		SET donation_count = donation_count + 1,
		    last_donation_at = $1,
		    next_eligible_at = $2
		WHERE id = $3`,
		at, nextEligible, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}
	return nil
}

// RecordVolunteerOutcome updates a volunteer's running success rate.
func (s *Store) RecordVolunteerOutcome(ctx context.Context, id types.ID, succeeded bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE volunteers
		SET requests_handled = requests_handled + 1,
		    success_rate_pct = (success_rate_pct * requests_handled + CASE WHEN $1 THEN 100.0 ELSE 0.0 END)
		                       / (requests_handled + 1)
		WHERE id = $2`,
		succeeded, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCandidateNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonor(row rowScanner) (Donor, error) {
	var d Donor
	err := row.Scan(
		&d.ID, &d.Name, &d.Group, &d.Position.Lat, &d.Position.Lng, &d.Available,
		&d.DonationCount, &d.LastDonation, &d.NextEligible,
	)
	return d, err
}

func scanVolunteer(row rowScanner) (Volunteer, error) {
	var v Volunteer
	err := row.Scan(
		&v.ID, &v.Name, &v.Position.Lat, &v.Position.Lng, &v.Active,
		&v.SuccessRatePct, &v.RequestsHandled,
	)
	return v, err
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
