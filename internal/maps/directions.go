// README: Google Maps implementation of the directions provider port.
package maps

import (
	"context"
	"fmt"

	gmaps "googlemaps.github.io/maps"

	"lifeline/internal/modules/route"
	"lifeline/internal/types"
)

// DirectionsService resolves routes through the Google Maps Directions API.
type DirectionsService struct {
	client *gmaps.Client
	region string
}

// NewDirectionsService creates a provider with the given API key. Region is
// an optional ccTLD bias ("tw", "in", ...).
func NewDirectionsService(apiKey, region string) (*DirectionsService, error) {
	client, err := gmaps.NewClient(gmaps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &DirectionsService{client: client, region: region}, nil
}

// Route fetches driving directions with live traffic. Waypoints are visited
// in the given order unless optimize is set, in which case the API reorders
// them and reports the order it chose.
func (s *DirectionsService) Route(ctx context.Context, origin, destination types.Point, waypoints []types.Point, optimize bool) (*route.DirectionsResult, error) {
	req := &gmaps.DirectionsRequest{
		Origin:        latLngString(origin),
		Destination:   latLngString(destination),
		Mode:          gmaps.TravelModeDriving,
		Region:        s.region,
		DepartureTime: "now",
		TrafficModel:  gmaps.TrafficModelBestGuess,
		Optimize:      optimize,
	}
	for _, w := range waypoints {
		req.Waypoints = append(req.Waypoints, latLngString(w))
	}

	routes, _, err := s.client.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, route.ErrNoRoute
	}
	return toResult(&routes[0])
}

func toResult(r *gmaps.Route) (*route.DirectionsResult, error) {
	path, err := r.OverviewPolyline.Decode()
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}

	res := &route.DirectionsResult{
		Polyline:      r.OverviewPolyline.Points,
		Geometry:      make([]types.Point, len(path)),
		WaypointOrder: r.WaypointOrder,
	}
	for i, p := range path {
		res.Geometry[i] = types.Point{Lat: p.Lat, Lng: p.Lng}
	}

	for _, leg := range r.Legs {
		res.DistanceM += leg.Distance.Meters
		res.Duration += leg.Duration
		res.TrafficDuration += leg.DurationInTraffic
		for _, step := range leg.Steps {
			res.Steps = append(res.Steps, route.Step{
				Instruction: step.HTMLInstructions,
				DistanceM:   step.Distance.Meters,
				Duration:    step.Duration,
				Start:       types.Point{Lat: step.StartLocation.Lat, Lng: step.StartLocation.Lng},
				End:         types.Point{Lat: step.EndLocation.Lat, Lng: step.EndLocation.Lng},
			})
		}
	}
	return res, nil
}

func latLngString(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
