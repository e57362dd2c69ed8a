package calculator

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/tidwall/geodesic"

	"hospital-radius/internal/models"
)

const metersPerMile = 1609.344

// Method selects the earth model used for distances.
type Method string

const (
	// Geodesic measures on the WGS84 ellipsoid (Karney's algorithm).
	Geodesic Method = "geodesic"
	// Haversine measures on a sphere. It agrees with Geodesic to within
	// about 0.5% at the scales this service works with.
	Haversine Method = "haversine"
)

func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", Geodesic:
		return Geodesic, nil
	case Haversine:
		return Haversine, nil
	default:
		return "", fmt.Errorf("unknown distance method %q (must be geodesic or haversine)", s)
	}
}

// DistanceMiles returns the distance between a and b in statute miles.
func DistanceMiles(a, b models.Coordinate, method Method) float64 {
	if a == b {
		return 0
	}
	return distanceMeters(a, b, method) / metersPerMile
}

func distanceMeters(a, b models.Coordinate, method Method) float64 {
	if method == Haversine {
		return geo.DistanceHaversine(orb.Point{a.Lon, a.Lat}, orb.Point{b.Lon, b.Lat})
	}
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, nil, nil)
	return s12
}
