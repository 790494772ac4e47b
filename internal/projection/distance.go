package projection

import "math"

// EarthRadius is the mean earth radius in meters used for great-circle distances.
const EarthRadius = 6371000.0

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// Distance is the haversine great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := lat2 - lat1
	// Longitudes 360 degrees apart are the same meridian.
	dLon := toRadians(math.Remainder(b.Lon-a.Lon, fullCircle))

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)
	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon

	// Rounding can push h a hair past 1 for antipodal points.
	return 2 * math.Asin(math.Min(1, math.Sqrt(h))) * EarthRadius
}

// PixelDistance is the great-circle distance between two pixel positions at zoom.
func PixelDistance(x1, y1, x2, y2, zoom int) float64 {
	a := Coordinate{Lat: YToLatitude(y1, zoom), Lon: XToLongitude(x1, zoom)}
	b := Coordinate{Lat: YToLatitude(y2, zoom), Lon: XToLongitude(x2, zoom)}
	return Distance(a, b)
}
