package safety

import "math"

// Conversion factors
const (
	METERS_PER_NM   = 1852.0
	EARTH_RADIUS_NM = 6371000.0 / METERS_PER_NM
)

// Haversine calculates the great-circle distance in nautical miles between two lat/lon points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180.0

	lat1Rad := lat1 * rad
	lat2Rad := lat2 * rad
	dlat := (lat2 - lat1) * rad
	dlon := (lon2 - lon1) * rad

	a := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Pow(math.Sin(dlon/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EARTH_RADIUS_NM * c
}

// Bearing calculates the initial bearing in degrees (0-360) from point 1 to point 2
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	lat1 = lat1 * math.Pi / 180.0
	lon1 = lon1 * math.Pi / 180.0
	lat2 = lat2 * math.Pi / 180.0
	lon2 = lon2 * math.Pi / 180.0

	y := math.Sin(lon2-lon1) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	bearing := math.Atan2(y, x) * 180.0 / math.Pi

	return math.Mod(bearing+360.0, 360.0)
}

// velocityNE splits a ground speed/track into north and east components (knots)
func velocityNE(speedKt, trackDeg float64) (north, east float64) {
	trackRad := trackDeg * math.Pi / 180.0
	return speedKt * math.Cos(trackRad), speedKt * math.Sin(trackRad)
}

// vectorClosureRate returns how fast the horizontal distance between a and b is shrinking, in knots.
// Positive means converging. ok is false when either aircraft lacks position or velocity.
func vectorClosureRate(a, b AircraftState, distanceNM float64) (float64, bool) {
	if !a.HasPosition() || !b.HasPosition() || !a.HasVelocity() || !b.HasVelocity() {
		return 0, false
	}

	aN, aE := velocityNE(*a.GroundSpeedKt, *a.TrackDeg)
	bN, bE := velocityNE(*b.GroundSpeedKt, *b.TrackDeg)
	relN, relE := bN-aN, bE-aE

	if distanceNM == 0 {
		return math.Hypot(relN, relE), true
	}

	// Line of sight from a to b on a local tangent plane
	brg := Bearing(*a.Lat, *a.Lon, *b.Lat, *b.Lon) * math.Pi / 180.0
	losN, losE := math.Cos(brg), math.Sin(brg)

	rangeRate := relN*losN + relE*losE
	return -rangeRate, true
}
