// README: Route engine orchestrates the directions provider, caching, and route state.
package route

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline/internal/config"
	"lifeline/internal/geo"
	"lifeline/internal/types"
)

// DirectionsResult is the provider-agnostic shape of one directions response.
type DirectionsResult struct {
	Polyline        string        `json:"polyline"`
	Geometry        []types.Point `json:"geometry"`
	DistanceM       int           `json:"distance_m"`
	Duration        time.Duration `json:"duration"`
	TrafficDuration time.Duration `json:"traffic_duration"`
	Steps           []Step        `json:"steps"`
	WaypointOrder   []int         `json:"waypoint_order,omitempty"`
}

// Directions is the external provider port. Implementations return ErrNoRoute
// when the provider answers with no viable path; any other failure is wrapped
// as-is and the service maps it to ErrProviderUnavailable.
type Directions interface {
	Route(ctx context.Context, origin, destination types.Point, waypoints []types.Point, optimize bool) (*DirectionsResult, error)
}

// Store is the persistence port for routes plus the provider-response cache
// and share tokens. *PGStore satisfies it; tests supply fakes.
type Store interface {
	CreateRoute(ctx context.Context, r *Route) error
	GetRoute(ctx context.Context, id types.ID) (*Route, error)
	// UpdateStatus is conditional on the current status and optimistic version.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int) (bool, error)
	// ApplyReroute replaces geometry, distances, durations, steps, and ETA in
	// one conditional write keyed on r.StatusVersion.
	ApplyReroute(ctx context.Context, r *Route) (bool, error)
	DeactivateByRequest(ctx context.Context, requestID types.ID) error

	CachedDirections(ctx context.Context, key string) (*DirectionsResult, bool, error)
	SaveDirections(ctx context.Context, key string, res *DirectionsResult, ttl time.Duration) error
	SaveShareToken(ctx context.Context, token string, routeID types.ID, ttl time.Duration) error
	RouteIDByToken(ctx context.Context, token string) (types.ID, error)
}

type Service struct {
	store      Store
	directions Directions
	cfg        config.RoutingConfig
	log        *zap.Logger
}

func NewService(store Store, directions Directions, cfg config.RoutingConfig, log *zap.Logger) *Service {
	return &Service{store: store, directions: directions, cfg: cfg, log: log}
}

type CreateCommand struct {
	RequestID    types.ID
	AssignmentID types.ID
	Origin       types.Point
	Destination  types.Point
	Waypoints    []types.Point
}

type OptimizeCommand struct {
	Start       types.Point
	Stops       []Stop
	Destination types.Point
}

// CreateRoute asks the provider for a path once, caches the response, and
// persists a pending route. The ETA prefers the traffic-aware duration.
func (s *Service) CreateRoute(ctx context.Context, cmd CreateCommand) (*Route, error) {
	if cmd.RequestID == "" || cmd.AssignmentID == "" || !cmd.Origin.Valid() || !cmd.Destination.Valid() {
		return nil, ErrBadRequest
	}
	for _, w := range cmd.Waypoints {
		if !w.Valid() {
			return nil, ErrBadRequest
		}
	}

	res, err := s.fetch(ctx, cmd.Origin, cmd.Destination, cmd.Waypoints, false)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	eta := now.Add(effectiveDuration(res))
	r := &Route{
		ID:              newID(),
		RequestID:       cmd.RequestID,
		AssignmentID:    cmd.AssignmentID,
		Status:          StatusPending,
		Origin:          cmd.Origin,
		Destination:     cmd.Destination,
		Waypoints:       cmd.Waypoints,
		Polyline:        res.Polyline,
		Geometry:        res.Geometry,
		DistanceM:       res.DistanceM,
		Duration:        res.Duration,
		TrafficDuration: res.TrafficDuration,
		Steps:           res.Steps,
		OriginalETA:     eta,
		CurrentETA:      eta,
		ExpiresAt:       now.Add(s.cfg.CacheTTL),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateRoute(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("route created",
		zap.String("route_id", string(r.ID)),
		zap.String("request_id", string(r.RequestID)),
		zap.Int("distance_m", r.DistanceM))
	return r, nil
}

// OptimizeMultiStop produces two views for 2 to 10 pickups: individual direct
// estimates per donor sorted fastest-first, and one provider-optimized tour
// with the destination pinned last.
func (s *Service) OptimizeMultiStop(ctx context.Context, cmd OptimizeCommand) (*MultiStopPlan, error) {
	if len(cmd.Stops) < 2 || len(cmd.Stops) > 10 {
		return nil, ErrBadRequest
	}
	if !cmd.Start.Valid() || !cmd.Destination.Valid() {
		return nil, ErrBadRequest
	}
	for _, stop := range cmd.Stops {
		if stop.DonorID == "" || !stop.Position.Valid() {
			return nil, ErrBadRequest
		}
	}

	now := time.Now()
	individual := make([]DonorRoute, 0, len(cmd.Stops))
	for _, stop := range cmd.Stops {
		res, err := s.fetch(ctx, stop.Position, cmd.Destination, nil, false)
		if err != nil {
			return nil, err
		}
		individual = append(individual, DonorRoute{
			DonorID:         stop.DonorID,
			DistanceM:       res.DistanceM,
			Duration:        res.Duration,
			TrafficDuration: res.TrafficDuration,
			ETA:             now.Add(effectiveDuration(res)),
		})
	}
	geo.SortByDistance(individual, func(d DonorRoute) float64 {
		return donorRouteDuration(d).Seconds()
	})

	waypoints := make([]types.Point, len(cmd.Stops))
	for i, stop := range cmd.Stops {
		waypoints[i] = stop.Position
	}
	res, err := s.fetch(ctx, cmd.Start, cmd.Destination, waypoints, true)
	if err != nil {
		return nil, err
	}

	optimized := &OptimizedRoute{
		Order:           stopOrder(cmd.Start, cmd.Stops, res.WaypointOrder),
		Polyline:        res.Polyline,
		Geometry:        res.Geometry,
		DistanceM:       res.DistanceM,
		Duration:        res.Duration,
		TrafficDuration: res.TrafficDuration,
		ETA:             now.Add(effectiveDuration(res)),
	}
	return &MultiStopPlan{Individual: individual, Optimized: optimized}, nil
}

// ProposeReroute computes an alternative path from the given position without
// touching the stored route.
func (s *Service) ProposeReroute(ctx context.Context, routeID types.ID, from types.Point) (*RerouteProposal, error) {
	if !from.Valid() {
		return nil, ErrBadRequest
	}
	r, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if Terminal(r.Status) {
		return nil, ErrRouteInactive
	}

	res, err := s.fetch(ctx, from, r.Destination, nil, false)
	if err != nil {
		return nil, err
	}
	return &RerouteProposal{
		RouteID:         r.ID,
		From:            from,
		Polyline:        res.Polyline,
		Geometry:        res.Geometry,
		DistanceM:       res.DistanceM,
		Duration:        res.Duration,
		TrafficDuration: res.TrafficDuration,
		ETA:             time.Now().Add(effectiveDuration(res)),
		Steps:           res.Steps,
	}, nil
}

// AcceptReroute fetches a fresh path from the current position and replaces
// the route's geometry, distances, durations, steps, and current ETA. The
// original ETA is preserved and the deviation counter resets.
func (s *Service) AcceptReroute(ctx context.Context, routeID types.ID, current types.Point) (*Route, error) {
	if !current.Valid() {
		return nil, ErrBadRequest
	}
	r, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if Terminal(r.Status) {
		return nil, ErrRouteInactive
	}

	res, err := s.fetch(ctx, current, r.Destination, nil, false)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.Origin = current
	r.Polyline = res.Polyline
	r.Geometry = res.Geometry
	r.DistanceM = res.DistanceM
	r.Duration = res.Duration
	r.TrafficDuration = res.TrafficDuration
	r.Steps = res.Steps
	r.CurrentETA = now.Add(effectiveDuration(res))
	r.DeviationCount = 0
	r.Status = StatusActive
	r.UpdatedAt = now

	ok, err := s.store.ApplyReroute(ctx, r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	r.StatusVersion++
	s.log.Info("reroute accepted",
		zap.String("route_id", string(r.ID)),
		zap.Int("distance_m", r.DistanceM))
	return r, nil
}

// Complete closes a route from the lifecycle manager's side.
func (s *Service) Complete(ctx context.Context, routeID types.ID) error {
	r, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return err
	}
	if !CanTransition(r.Status, StatusCompleted) {
		return ErrRouteInactive
	}
	ok, err := s.store.UpdateStatus(ctx, r.ID, r.Status, StatusCompleted, r.StatusVersion)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	return nil
}

// DeactivateByRequest closes every live route of a cancelled request.
// Samples already recorded stay put.
func (s *Service) DeactivateByRequest(ctx context.Context, requestID types.ID) error {
	return s.store.DeactivateByRequest(ctx, requestID)
}

// IssueShareToken mints a short-lived read-only token for observer UIs.
func (s *Service) IssueShareToken(ctx context.Context, routeID types.ID, ttl time.Duration) (*ShareGrant, error) {
	if ttl <= 0 {
		return nil, ErrBadRequest
	}
	r, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()
	if err := s.store.SaveShareToken(ctx, token, r.ID, ttl); err != nil {
		return nil, err
	}
	return &ShareGrant{Token: token, RouteID: r.ID, ExpiresAt: time.Now().Add(ttl)}, nil
}

// ResolveShareToken returns the route behind a still-valid token.
func (s *Service) ResolveShareToken(ctx context.Context, token string) (*Route, error) {
	routeID, err := s.store.RouteIDByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.store.GetRoute(ctx, routeID)
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Route, error) {
	return s.store.GetRoute(ctx, id)
}

// fetch resolves directions through the cache, bounding the provider call by
// the configured timeout. Provider failures surface as ErrProviderUnavailable
// so callers never block assignment state on a missing route.
func (s *Service) fetch(ctx context.Context, origin, destination types.Point, waypoints []types.Point, optimize bool) (*DirectionsResult, error) {
	key := cacheKey(origin, destination, waypoints, optimize)
	if cached, ok, err := s.store.CachedDirections(ctx, key); err == nil && ok {
		return cached, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	res, err := s.directions.Route(callCtx, origin, destination, waypoints, optimize)
	if err != nil {
		if errors.Is(err, ErrNoRoute) {
			return nil, ErrNoRoute
		}
		s.log.Warn("directions provider failed", zap.Error(err))
		return nil, ErrProviderUnavailable
	}
	if len(res.Geometry) < 2 {
		return nil, ErrNoRoute
	}

	if err := s.store.SaveDirections(ctx, key, res, s.cfg.CacheTTL); err != nil {
		s.log.Warn("cache directions", zap.Error(err))
	}
	return res, nil
}

// stopOrder maps the provider's waypoint order back to donor IDs. When the
// provider returns no order the stops are sequenced greedily by nearest
// coordinate; co-located stops may swap under this fallback.
func stopOrder(start types.Point, stops []Stop, waypointOrder []int) []types.ID {
	if len(waypointOrder) == len(stops) {
		order := make([]types.ID, 0, len(stops))
		for _, idx := range waypointOrder {
			if idx < 0 || idx >= len(stops) {
				return greedyOrder(start, stops)
			}
			order = append(order, stops[idx].DonorID)
		}
		return order
	}
	return greedyOrder(start, stops)
}

func greedyOrder(start types.Point, stops []Stop) []types.ID {
	remaining := make([]Stop, len(stops))
	copy(remaining, stops)
	order := make([]types.ID, 0, len(stops))
	at := start
	for len(remaining) > 0 {
		best := 0
		bestKm := geo.HaversineKm(at.Lat, at.Lng, remaining[0].Position.Lat, remaining[0].Position.Lng)
		for i := 1; i < len(remaining); i++ {
			km := geo.HaversineKm(at.Lat, at.Lng, remaining[i].Position.Lat, remaining[i].Position.Lng)
			if km < bestKm {
				best, bestKm = i, km
			}
		}
		order = append(order, remaining[best].DonorID)
		at = remaining[best].Position
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
	return order
}

func effectiveDuration(res *DirectionsResult) time.Duration {
	if res.TrafficDuration > 0 {
		return res.TrafficDuration
	}
	return res.Duration
}

func donorRouteDuration(d DonorRoute) time.Duration {
	if d.TrafficDuration > 0 {
		return d.TrafficDuration
	}
	return d.Duration
}

func cacheKey(origin, destination types.Point, waypoints []types.Point, optimize bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "route:directions:%.5f,%.5f|%.5f,%.5f", origin.Lat, origin.Lng, destination.Lat, destination.Lng)
	for _, w := range waypoints {
		fmt.Fprintf(&b, "|%.5f,%.5f", w.Lat, w.Lng)
	}
	if optimize {
		b.WriteString("|opt")
	}
	return b.String()
}

func newID() types.ID {
	return types.ID(uuid.NewString())
}
