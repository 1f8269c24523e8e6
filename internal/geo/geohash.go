// Package geo provides the geohash primitives the cache layer is built on:
// radius-dependent precision selection, cell encoding, 8-neighbor
// enumeration and haversine distance.
package geo

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/geostay/proximity-backend/internal/models"
)

// EarthRadiusKm is the spherical approximation used for every distance in
// the system.
const EarthRadiusKm = 6371.0

// CellSizeKm maps geohash precision to the approximate cell edge in km.
var CellSizeKm = map[int]float64{
	4: 39.0,
	5: 4.9,
	6: 1.2,
	7: 0.152,
	8: 0.038,
}

// PrecisionForRadius selects the geohash precision for a search radius in
// km. Small radii get fine cells so invalidation and warming stay local;
// wide radii get coarse cells so a single bucket covers the query area.
func PrecisionForRadius(radiusKm float64) int {
	switch {
	case radiusKm <= 1:
		return 7
	case radiusKm <= 5:
		return 6
	default:
		return 5
	}
}

// Cell encodes a coordinate into a base-32 geohash cell at the given
// precision.
func Cell(lat, lng float64, precision int) string {
	return geohash.EncodeWithPrecision(lat, lng, uint(precision))
}

// CellForRadius encodes the cell containing (lat, lng) at the precision
// implied by the radius.
func CellForRadius(lat, lng, radiusKm float64) string {
	return Cell(lat, lng, PrecisionForRadius(radiusKm))
}

// Neighbors returns the 8 cells surrounding the given cell at the same
// precision, ordered N, NE, E, SE, S, SW, W, NW.
func Neighbors(cell string) []string {
	return geohash.Neighbors(cell)
}

// CellCenter returns the midpoint of a cell. Neighbor warming queries are
// centered here.
func CellCenter(cell string) (lat, lng float64) {
	box := geohash.BoundingBox(cell)
	return box.Center()
}

// Distance computes the haversine distance between two coordinates in km.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// ValidateCoordinates rejects latitudes outside [-90, 90] and longitudes
// outside [-180, 180]. The bounds are strict: legacy data with inflated
// coordinate ranges is surfaced as an error, never silently clamped.
func ValidateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %f", models.ErrInvalidCoordinate, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %f", models.ErrInvalidCoordinate, lng)
	}
	return nil
}
