// README: Common value types shared across modules.
package types

// ID identifies an entity (request, candidate, assignment, route).
type ID string

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point carries coordinates inside the WGS84 range.
// A zero-value Point is treated as missing input, not the Gulf of Guinea.
func (p Point) Valid() bool {
	if p.Lat == 0 && p.Lng == 0 {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
