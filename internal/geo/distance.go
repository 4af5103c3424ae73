package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

// HaversineKm returns the great-circle distance between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	sLat := math.Sin(dLat / 2)
	sLon := math.Sin(dLon / 2)
	a := sLat*sLat + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*sLon*sLon
	// Rounding can push a just past 1 for antipodal points.
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// DecodeDistance decodes both tokens and returns the distance between their
// cell centres. It fails with domain.ErrInvalidLocationToken if either token
// cannot be decoded.
func DecodeDistance(tokenA, tokenB string) (float64, error) {
	latA, lonA, err := Decode(tokenA)
	if err != nil {
		return 0, err
	}
	latB, lonB, err := Decode(tokenB)
	if err != nil {
		return 0, err
	}
	return HaversineKm(latA, lonA, latB, lonB), nil
}
