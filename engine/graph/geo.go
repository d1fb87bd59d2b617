package graph

import "math"

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6_371_000.0

// Distance returns the haversine great-circle distance between a and b in
// meters.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// PointFromAny decodes {lat, lon} or {latitude, longitude} objects.
func PointFromAny(x any) (Point, bool) {
	var m map[string]Value
	switch t := x.(type) {
	case Point:
		return t, true
	case Value:
		if p, ok := t.Point(); ok {
			return p, true
		}
		if mm, ok := t.Map(); ok {
			m = mm
		}
	case map[string]any:
		v, err := FromAny(t)
		if err != nil {
			return Point{}, false
		}
		m, _ = v.Map()
	}
	if m == nil {
		return Point{}, false
	}
	lat, ok1 := coord(m, "lat", "latitude")
	lon, ok2 := coord(m, "lon", "longitude", "lng")
	if !ok1 || !ok2 || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}

func coord(m map[string]Value, names ...string) (float64, bool) {
	for _, n := range names {
		if v, ok := m[n]; ok {
			return v.Float64()
		}
	}
	return 0, false
}
