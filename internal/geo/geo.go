package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"

	"github.com/studyhub/locsync/pkg/core"
)

// GEO POINTS
// Positions travel as WGS84 (EPSG:4326) latitude/longitude. Markers are
// projected to Web Mercator (EPSG:3857) because that is what tile renderers draw in.

const earthRadiusM = 6371008.8

// ValidateCoordinate returns core.ErrInvalidCoordinate when lat or lng is out of range.
func ValidateCoordinate(lat, lng float64) error {
	if !core.ValidCoordinate(lat, lng) {
		return fmt.Errorf("%w: latitude %v, longitude %v", core.ErrInvalidCoordinate, lat, lng)
	}
	return nil
}

// ParseLatLng parses a "lat,lng" string into a validated coordinate pair.
func ParseLatLng(s string) (lat, lng float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: expected \"lat,lng\", got %q", core.ErrInvalidCoordinate, s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: latitude %q", core.ErrInvalidCoordinate, parts[0])
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: longitude %q", core.ErrInvalidCoordinate, parts[1])
	}
	if err := ValidateCoordinate(lat, lng); err != nil {
		return 0, 0, err
	}
	return lat, lng, nil
}

// HaversineMeters returns the great-circle distance in meters between two
// points specified in decimal degrees.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Distance returns the distance in meters between two positions.
func Distance(a, b core.Position) float64 {
	return HaversineMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// WebMercator projects a WGS84 coordinate to EPSG:3857 meters.
func WebMercator(lat, lng float64) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(lng, lat, 0)
	return x, y
}

// Point4326 creates a lon/lat point geometry for a position.
func Point4326(pos core.Position) (geom.Point, error) {
	if err := ValidateCoordinate(pos.Latitude, pos.Longitude); err != nil {
		return geom.Point{}, err
	}
	return newPoint(pos.Longitude, pos.Latitude)
}

// Point3857 creates a Web Mercator point geometry for a position.
func Point3857(pos core.Position) (geom.Point, error) {
	if err := ValidateCoordinate(pos.Latitude, pos.Longitude); err != nil {
		return geom.Point{}, err
	}
	x, y := WebMercator(pos.Latitude, pos.Longitude)
	return newPoint(x, y)
}

func newPoint(x, y float64) (geom.Point, error) {
	pt, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("%w: %v", core.ErrInvalidCoordinate, err)
	}
	return pt, nil
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
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
