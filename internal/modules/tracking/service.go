// README: Live tracking engine: projection, progress, ETA, deviation detection.
package tracking

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"lifeline/internal/config"
	"lifeline/internal/geo"
	"lifeline/internal/modules/route"
	"lifeline/internal/types"
)

// completeProgress is the fraction of path length at which a route is
// considered arrived. Slightly under 1 absorbs GPS jitter at the endpoint.
const completeProgress = 0.995

// RouteStore is the slice of the route store the tracker needs.
// *route.PGStore satisfies it.
type RouteStore interface {
	GetRoute(ctx context.Context, id types.ID) (*route.Route, error)
	RecordProgress(ctx context.Context, id types.ID, from, to route.Status, version int, currentETA time.Time, deviationCount int) (bool, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to route.Status, version int) (bool, error)
}

// SampleStore appends immutable position samples.
type SampleStore interface {
	AppendSample(ctx context.Context, s *Sample) error
	SamplesByRoute(ctx context.Context, routeID types.ID, limit int) ([]Sample, error)
}

// LiveFeed publishes position snapshots to observer UIs. Implementations
// must not block the ingest path.
type LiveFeed interface {
	PublishPosition(ctx context.Context, u *Update)
}

type Service struct {
	routes  RouteStore
	samples SampleStore
	feed    LiveFeed
	cfg     config.TrackingConfig
	log     *zap.Logger

	// Per-route serialization. Samples for the same route are processed one
	// at a time; distinct routes proceed in parallel.
	locksMu sync.Mutex
	locks   map[types.ID]*sync.Mutex
}

func NewService(routes RouteStore, samples SampleStore, feed LiveFeed, cfg config.TrackingConfig, log *zap.Logger) *Service {
	return &Service{
		routes:  routes,
		samples: samples,
		feed:    feed,
		cfg:     cfg,
		log:     log,
		locks:   map[types.ID]*sync.Mutex{},
	}
}

type IngestCommand struct {
	RouteID    types.ID
	Position   types.Point
	HeadingDeg *float64
	SpeedKmh   *float64
	AccuracyM  *float64
}

// IngestPosition processes one position report: projects it onto the route
// geometry, recomputes progress and ETA, tracks the off-route streak, and
// appends the sample. Pending routes activate on their first sample; samples
// for completed routes are rejected.
func (s *Service) IngestPosition(ctx context.Context, cmd IngestCommand) (*Update, error) {
	if !cmd.Position.Valid() {
		return nil, route.ErrBadRequest
	}

	lock := s.routeLock(cmd.RouteID)
	lock.Lock()
	defer lock.Unlock()

	r, err := s.routes.GetRoute(ctx, cmd.RouteID)
	if err != nil {
		return nil, err
	}
	if route.Terminal(r.Status) {
		s.releaseLock(r.ID)
		return nil, route.ErrRouteInactive
	}

	now := time.Now()
	u := s.evaluate(r, cmd.Position, now)

	to := nextStatus(r.Status, u)
	ok, err := s.routes.RecordProgress(ctx, r.ID, r.Status, to, r.StatusVersion, u.CurrentETA, u.DeviationStreak)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent cancel or completion won; treat the sample as late.
		return nil, route.ErrRouteInactive
	}
	u.Status = to
	if route.Terminal(to) {
		s.releaseLock(r.ID)
	}

	sample := &Sample{
		RouteID:            r.ID,
		Position:           cmd.Position,
		HeadingDeg:         cmd.HeadingDeg,
		SpeedKmh:           cmd.SpeedKmh,
		AccuracyM:          cmd.AccuracyM,
		DistanceFromRouteM: u.DistanceFromRouteM,
		OnRoute:            u.OnRoute,
		ProgressPct:        u.ProgressPct,
		RecordedAt:         now,
	}
	if err := s.samples.AppendSample(ctx, sample); err != nil {
		s.log.Warn("append sample", zap.String("route_id", string(r.ID)), zap.Error(err))
	}

	if s.feed != nil {
		s.feed.PublishPosition(ctx, u)
	}
	if u.ShouldReroute {
		s.log.Info("reroute advised",
			zap.String("route_id", string(r.ID)),
			zap.Float64("distance_from_route_m", u.DistanceFromRouteM),
			zap.Int("streak", u.DeviationStreak))
	}
	return u, nil
}

// evaluate derives the tracking view of one position against the route's
// current geometry.
func (s *Service) evaluate(r *route.Route, pos types.Point, now time.Time) *Update {
	path := toLatLngs(r.Geometry)
	totalKm := geo.PathLengthKm(path)

	u := &Update{RouteID: r.ID}
	proj, ok := geo.ProjectOntoPath(path, geo.LatLng{Lat: pos.Lat, Lng: pos.Lng})
	if !ok || totalKm == 0 {
		// Degenerate geometry; report the sample without progress math.
		u.OnRoute = true
		u.CurrentETA = r.CurrentETA
		return u
	}

	u.DistanceFromRouteM = proj.DistanceM
	u.OnRoute = proj.DistanceM <= s.cfg.OnRouteThresholdM
	u.ProgressPct = clamp01(proj.AlongKm/totalKm) * 100

	remainingKm := math.Max(0, totalKm-proj.AlongKm)
	u.RemainingDistanceM = int(math.Round(remainingKm * 1000))
	// Remaining time scales the original estimate by the unfinished fraction,
	// so traffic baked into the provider's duration carries over.
	u.RemainingDuration = time.Duration(float64(r.EffectiveDuration()) * (remainingKm / totalKm))
	u.CurrentETA = now.Add(u.RemainingDuration)

	if u.OnRoute {
		u.DeviationStreak = 0
	} else {
		u.DeviationStreak = r.DeviationCount + 1
		u.ShouldReroute = u.DeviationStreak >= s.cfg.RerouteStreak ||
			u.DistanceFromRouteM >= s.cfg.RerouteDistanceM
	}

	u.Completed = u.ProgressPct >= completeProgress*100
	return u
}

// nextStatus folds the update into the route status machine. Pending routes
// activate on the first sample; sustained off-route samples mark the route
// deviated, and recovery flips it back.
func nextStatus(from route.Status, u *Update) route.Status {
	switch {
	case u.Completed:
		return route.StatusCompleted
	case from == route.StatusPending:
		return route.StatusActive
	case u.ShouldReroute:
		return route.StatusDeviated
	case u.OnRoute:
		return route.StatusActive
	default:
		return from
	}
}

// Complete closes a route explicitly, for the lifecycle manager's benefit.
func (s *Service) Complete(ctx context.Context, routeID types.ID) error {
	lock := s.routeLock(routeID)
	lock.Lock()
	defer lock.Unlock()

	r, err := s.routes.GetRoute(ctx, routeID)
	if err != nil {
		return err
	}
	if route.Terminal(r.Status) {
		s.releaseLock(routeID)
		return route.ErrRouteInactive
	}
	ok, err := s.routes.UpdateStatus(ctx, r.ID, r.Status, route.StatusCompleted, r.StatusVersion)
	if err != nil {
		return err
	}
	if !ok {
		return route.ErrConflict
	}
	s.releaseLock(routeID)
	return nil
}

// History returns the most recent samples for a route, newest first.
func (s *Service) History(ctx context.Context, routeID types.ID, limit int) ([]Sample, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.samples.SamplesByRoute(ctx, routeID, limit)
}

func (s *Service) routeLock(id types.ID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// releaseLock drops a terminal route's lock entry so the map does not grow
// for the life of the process. Late samples for the same route recreate the
// entry, observe the terminal status, and release it again.
func (s *Service) releaseLock(id types.ID) {
	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
}

func toLatLngs(points []types.Point) []geo.LatLng {
	out := make([]geo.LatLng, len(points))
	for i, p := range points {
		out[i] = geo.LatLng{Lat: p.Lat, Lng: p.Lng}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
