// README: Live tracking data model.
package tracking

import (
	"time"

	"lifeline/internal/modules/route"
	"lifeline/internal/types"
)

// Sample is one immutable position report. Derived fields (distance from
// route, progress) are frozen at ingest time so history survives reroutes.
type Sample struct {
	ID                 int64
	RouteID            types.ID
	Position           types.Point
	HeadingDeg         *float64
	SpeedKmh           *float64
	AccuracyM          *float64
	DistanceFromRouteM float64
	OnRoute            bool
	ProgressPct        float64
	RecordedAt         time.Time
}

// Update is the result of ingesting one sample: where the responder is on
// the route, what the ETA looks like now, and whether a reroute is advised.
type Update struct {
	RouteID            types.ID
	Status             route.Status
	OnRoute            bool
	DistanceFromRouteM float64
	ProgressPct        float64
	RemainingDistanceM int
	RemainingDuration  time.Duration
	CurrentETA         time.Time
	DeviationStreak    int
	ShouldReroute      bool
	Completed          bool
}
