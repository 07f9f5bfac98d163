// README: Route engine data model and status machine.
package route

import (
	"errors"
	"time"

	"lifeline/internal/types"
)

var (
	ErrNotFound            = errors.New("route not found")
	ErrRouteInactive       = errors.New("route is not active")
	ErrConflict            = errors.New("route state conflict")
	ErrProviderUnavailable = errors.New("directions provider unavailable")
	ErrNoRoute             = errors.New("no route between the given points")
	ErrBadRequest          = errors.New("bad route request")
	ErrTokenExpired        = errors.New("share token expired or unknown")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusDeviated  Status = "deviated"
	StatusCompleted Status = "completed"
)

// AllowedTransitions mirrors the request lifecycle table. Completed is
// terminal; pending routes activate on the first position sample.
var AllowedTransitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusCompleted},
	StatusActive:    {StatusDeviated, StatusCompleted},
	StatusDeviated:  {StatusActive, StatusCompleted},
	StatusCompleted: {},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func Terminal(s Status) bool {
	return s == StatusCompleted
}

// Step is one navigation instruction of the active geometry.
type Step struct {
	Instruction string        `json:"instruction"`
	DistanceM   int           `json:"distance_m"`
	Duration    time.Duration `json:"duration"`
	Start       types.Point   `json:"start"`
	End         types.Point   `json:"end"`
}

// Route is a provider-computed path bound to one assignment. Geometry and
// ETAs are replaced wholesale on an accepted reroute; original_eta keeps the
// first estimate for delay reporting.
type Route struct {
	ID            types.ID
	RequestID     types.ID
	AssignmentID  types.ID
	Status        Status
	StatusVersion int

	Origin      types.Point
	Destination types.Point
	Waypoints   []types.Point

	Polyline        string
	Geometry        []types.Point
	DistanceM       int
	Duration        time.Duration
	TrafficDuration time.Duration
	Steps           []Step

	OriginalETA    time.Time
	CurrentETA     time.Time
	DeviationCount int

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveDuration prefers the traffic-aware estimate when the provider
// returned one.
func (r *Route) EffectiveDuration() time.Duration {
	if r.TrafficDuration > 0 {
		return r.TrafficDuration
	}
	return r.Duration
}

// Stop is one pickup point in a multi-stop plan.
type Stop struct {
	DonorID  types.ID
	Position types.Point
}

// DonorRoute is an individual donor→destination estimate used to compare
// candidates before committing to a pickup order.
type DonorRoute struct {
	DonorID         types.ID
	DistanceM       int
	Duration        time.Duration
	TrafficDuration time.Duration
	ETA             time.Time
}

// OptimizedRoute is the provider-ordered multi-stop path with the
// destination pinned as the final stop.
type OptimizedRoute struct {
	Order           []types.ID
	Polyline        string
	Geometry        []types.Point
	DistanceM       int
	Duration        time.Duration
	TrafficDuration time.Duration
	ETA             time.Time
}

// MultiStopPlan carries both views: per-donor direct estimates sorted by
// traffic-aware duration, and the single optimized pickup tour.
type MultiStopPlan struct {
	Individual []DonorRoute
	Optimized  *OptimizedRoute
}

// RerouteProposal is a computed alternative that has not been applied.
type RerouteProposal struct {
	RouteID         types.ID
	From            types.Point
	Polyline        string
	Geometry        []types.Point
	DistanceM       int
	Duration        time.Duration
	TrafficDuration time.Duration
	ETA             time.Time
	Steps           []Step
}

// ShareGrant is a short-lived read-only handle to a route's live state.
type ShareGrant struct {
	Token     string
	RouteID   types.ID
	ExpiresAt time.Time
}
