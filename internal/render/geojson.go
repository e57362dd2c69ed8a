// Package render shapes filtered results for map widgets.
package render

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"hospital-radius/internal/models"
)

const metersPerMile = 1609.344

// FeatureCollection builds a GeoJSON collection with the reference point
// first, then one point per hospital in the order given.
func FeatureCollection(ref models.Coordinate, radiusMiles float64, records []models.HospitalRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	center := geojson.NewFeature(orb.Point{ref.Lon, ref.Lat})
	center.Properties["kind"] = "reference"
	center.Properties["radius_miles"] = radiusMiles
	center.Properties["radius_meters"] = radiusMiles * metersPerMile
	fc.Append(center)

	for _, r := range records {
		f := geojson.NewFeature(orb.Point{r.Longitude, r.Latitude})
		f.Properties["kind"] = "hospital"
		f.Properties["name"] = r.Name
		f.Properties["bed_count"] = r.BedCount
		if d, ok := r.Distance(); ok {
			f.Properties["distance_miles"] = d
		}
		fc.Append(f)
	}

	return fc
}
