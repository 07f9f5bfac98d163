// Package geo contains pure geographic computation helpers: great-circle
// distance, bearing, and point-to-polyline projection.
package geo

import "math"

const (
	earthRadiusKm = 6371.0
	metersPerKm   = 1000.0
)

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// BearingDeg returns the initial bearing in degrees (0–360, clockwise from
// north) when travelling from the first point to the second.
func BearingDeg(lat1, lng1, lat2, lng2 float64) float64 {
	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)
	dLng := degreesToRadians(lng2 - lng1)

	y := math.Sin(dLng) * math.Cos(rLat2)
	x := math.Cos(rLat1)*math.Sin(rLat2) - math.Sin(rLat1)*math.Cos(rLat2)*math.Cos(dLng)
	deg := radiansToDegrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// LatLng is a bare coordinate pair. Kept local so this package has no
// dependency on the rest of the module.
type LatLng struct {
	Lat float64
	Lng float64
}

// PathLengthKm returns the cumulative length of a polyline.
func PathLengthKm(path []LatLng) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += HaversineKm(path[i-1].Lat, path[i-1].Lng, path[i].Lat, path[i].Lng)
	}
	return total
}

// Projection describes the nearest point on a polyline to a query point.
type Projection struct {
	// Nearest is the closest point on the path.
	Nearest LatLng
	// SegmentIndex is the index of the segment [i, i+1] containing Nearest.
	SegmentIndex int
	// DistanceM is the perpendicular distance from the query point to the
	// path, in metres.
	DistanceM float64
	// AlongKm is the cumulative path length from the start of the path to
	// Nearest.
	AlongKm float64
}

// ProjectOntoPath finds the nearest point on the polyline to p. The segment
// math uses a local equirectangular plane anchored at each segment start,
// which is accurate to well under a metre at the sub-kilometre segment
// lengths a directions provider returns. The final distance is measured with
// the haversine formula. ok is false when the path has no segments.
func ProjectOntoPath(path []LatLng, p LatLng) (Projection, bool) {
	if len(path) == 0 {
		return Projection{}, false
	}
	if len(path) == 1 {
		d := HaversineKm(path[0].Lat, path[0].Lng, p.Lat, p.Lng) * metersPerKm
		return Projection{Nearest: path[0], DistanceM: d}, true
	}

	best := Projection{DistanceM: math.MaxFloat64}
	var cumulativeKm float64

	for i := 0; i < len(path)-1; i++ {
		a, b := path[i], path[i+1]
		segKm := HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng)

		nearest, t := projectOntoSegment(a, b, p)
		distM := HaversineKm(nearest.Lat, nearest.Lng, p.Lat, p.Lng) * metersPerKm
		if distM < best.DistanceM {
			best = Projection{
				Nearest:      nearest,
				SegmentIndex: i,
				DistanceM:    distM,
				AlongKm:      cumulativeKm + t*segKm,
			}
		}
		cumulativeKm += segKm
	}
	return best, true
}

// projectOntoSegment returns the point on segment ab closest to p and the
// clamped interpolation factor t in [0, 1].
func projectOntoSegment(a, b, p LatLng) (LatLng, float64) {
	// Local planar coordinates in degree-units, longitude scaled by the
	// cosine of the anchor latitude so both axes share a metric.
	cosLat := math.Cos(degreesToRadians(a.Lat))
	ax, ay := 0.0, 0.0
	bx, by := (b.Lng-a.Lng)*cosLat, b.Lat-a.Lat
	px, py := (p.Lng-a.Lng)*cosLat, p.Lat-a.Lat

	dx, dy := bx-ax, by-ay
	segLenSq := dx*dx + dy*dy
	if segLenSq == 0 {
		return a, 0
	}

	t := (px*dx + py*dy) / segLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return LatLng{
		Lat: a.Lat + t*(b.Lat-a.Lat),
		Lng: a.Lng + t*(b.Lng-a.Lng),
	}, t
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a sort key via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
