// README: Matching service orchestrates candidate lookup and ranking.
package matching

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"lifeline/internal/config"
	"lifeline/internal/types"
)

var ErrBadRequest = errors.New("bad matching request")

// CandidateStore is the slice of the data store the matcher needs. *Store
// satisfies it; tests supply fakes.
type CandidateStore interface {
	NearbyDonorIDs(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error)
	NearbyVolunteerIDs(ctx context.Context, origin types.Point, radiusKm float64) ([]types.ID, error)
	DonorsByID(ctx context.Context, ids []types.ID) ([]Donor, error)
	VolunteersByID(ctx context.Context, ids []types.ID) ([]Volunteer, error)
	Donor(ctx context.Context, id types.ID) (*Donor, error)
	Volunteer(ctx context.Context, id types.ID) (*Volunteer, error)
	SetDonorAvailability(ctx context.Context, id types.ID, available bool) error
	RecordDonation(ctx context.Context, id types.ID, at time.Time, nextEligible time.Time) error
	RecordVolunteerOutcome(ctx context.Context, id types.ID, succeeded bool) error
	UpsertDonorPosition(ctx context.Context, id types.ID, pos types.Point) error
	UpsertVolunteerPosition(ctx context.Context, id types.ID, pos types.Point) error
}

type Service struct {
	store CandidateStore
	cfg   config.MatchingConfig
	log   *zap.Logger
}

func NewService(store CandidateStore, cfg config.MatchingConfig, log *zap.Logger) *Service {
	return &Service{store: store, cfg: cfg, log: log}
}

func (s *Service) cooldown() time.Duration {
	return time.Duration(s.cfg.DonorCooldownDays) * 24 * time.Hour
}

// FindDonors loads nearby candidates from the GEO index and ranks them
// against the need, excluding IDs the caller has already tried.
func (s *Service) FindDonors(ctx context.Context, need Need, exclude []types.ID) ([]ScoredDonor, error) {
	if !ValidGroup(need.Group) || !need.Location.Valid() {
		return nil, ErrBadRequest
	}

	ids, err := s.store.NearbyDonorIDs(ctx, need.Location, s.cfg.RadiusKm)
	if err != nil {
		return nil, err
	}
	ids = excludeIDs(ids, exclude)

	pool, err := s.store.DonorsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	ranked := RankDonors(need, pool, s.cfg.DonorLimit, time.Now(), s.cooldown())
	s.log.Debug("ranked donors",
		zap.String("group", string(need.Group)),
		zap.Int("pool", len(pool)),
		zap.Int("ranked", len(ranked)))
	return ranked, nil
}

// FindVolunteers loads nearby volunteers and ranks them against the need.
func (s *Service) FindVolunteers(ctx context.Context, need Need, exclude []types.ID) ([]ScoredVolunteer, error) {
	if !need.Location.Valid() {
		return nil, ErrBadRequest
	}

	ids, err := s.store.NearbyVolunteerIDs(ctx, need.Location, s.cfg.RadiusKm)
	if err != nil {
		return nil, err
	}
	ids = excludeIDs(ids, exclude)

	pool, err := s.store.VolunteersByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	ranked := RankVolunteers(need, pool, s.cfg.VolunteerLimit)
	s.log.Debug("ranked volunteers",
		zap.Int("pool", len(pool)),
		zap.Int("ranked", len(ranked)))
	return ranked, nil
}

// NextDonor returns the best donor for the need that is not in the exclusion
// list, or nil when the pool is exhausted. Called by the lifecycle manager
// after a rejection.
func (s *Service) NextDonor(ctx context.Context, need Need, exclude []types.ID) (*ScoredDonor, error) {
	ranked, err := s.FindDonors(ctx, need, exclude)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	return &ranked[0], nil
}

// Donor exposes a single donor snapshot for the lifecycle manager's
// compatibility check.
func (s *Service) Donor(ctx context.Context, id types.ID) (*Donor, error) {
	return s.store.Donor(ctx, id)
}

// Volunteer exposes a single volunteer snapshot.
func (s *Service) Volunteer(ctx context.Context, id types.ID) (*Volunteer, error) {
	return s.store.Volunteer(ctx, id)
}

// MarkDonorAssigned flips a donor unavailable once their assignment is
// accepted. Delegated write; the candidate record stays externally owned.
func (s *Service) MarkDonorAssigned(ctx context.Context, id types.ID) error {
	return s.store.SetDonorAvailability(ctx, id, false)
}

// UpdateDonorPosition refreshes a donor's location in the GEO index.
func (s *Service) UpdateDonorPosition(ctx context.Context, id types.ID, pos types.Point) error {
	if !pos.Valid() {
		return ErrBadRequest
	}
	return s.store.UpsertDonorPosition(ctx, id, pos)
}

// UpdateVolunteerPosition refreshes a volunteer's location in the GEO index.
func (s *Service) UpdateVolunteerPosition(ctx context.Context, id types.ID, pos types.Point) error {
	if !pos.Valid() {
		return ErrBadRequest
	}
	return s.store.UpsertVolunteerPosition(ctx, id, pos)
}

// RecordDonation bumps the donor's history and starts the eligibility
// cooldown from the donation time.
func (s *Service) RecordDonation(ctx context.Context, id types.ID, at time.Time) error {
	return s.store.RecordDonation(ctx, id, at, at.Add(s.cooldown()))
}

// RecordVolunteerOutcome folds a completed (or abandoned) escort into the
// volunteer's running success rate.
func (s *Service) RecordVolunteerOutcome(ctx context.Context, id types.ID, succeeded bool) error {
	return s.store.RecordVolunteerOutcome(ctx, id, succeeded)
}

func excludeIDs(ids, exclude []types.ID) []types.ID {
	if len(exclude) == 0 {
		return ids
	}
	skip := make(map[types.ID]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := ids[:0]
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
