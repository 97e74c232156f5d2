// Package geo provides coordinate primitives for incident locations: validation,
// great-circle distance, cache-key quantization, and geohash encoding for coarse
// public display.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the earth radius used for all spherical calculations.
// The report store's radius queries divide by this value to obtain the
// angular radius of the spherical cap, so it must match the constant
// baked into the query path.
const EarthRadiusKm = 6378.1

// MaxRadiusKm is the largest radius accepted by a radius query: half the
// earth's circumference. Anything larger would wrap past the antipode.
const MaxRadiusKm = math.Pi * EarthRadiusKm

// QuantizeDecimals is the number of decimal degrees kept when quantizing a
// point for region-cache keys. Four decimals is roughly 11 m at the equator,
// enough to absorb viewport jitter without merging distinct viewports.
const QuantizeDecimals = 4

// Coordinate validation errors.
var (
	ErrLongitudeOutOfRange = errors.New("longitude must be between -180 and 180")
	ErrLatitudeOutOfRange  = errors.New("latitude must be between -90 and 90")
)

// Point is the canonical coordinate representation used everywhere in the
// codebase. Fields are named so longitude/latitude order mistakes are
// impossible at call sites; every storage encoding is longitude-first.
type Point struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
}

// Validate checks that the point lies within valid coordinate ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return ErrLongitudeOutOfRange
	}
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return ErrLatitudeOutOfRange
	}
	return nil
}

// String returns the point in "lng,lat" form, longitude first.
func (p Point) String() string {
	return fmt.Sprintf("%g,%g", p.Longitude, p.Latitude)
}

// AngularRadius converts a great-circle distance in kilometers to the angular
// radius (in radians) of the corresponding spherical cap.
func AngularRadius(radiusKm float64) float64 {
	return radiusKm / EarthRadiusKm
}

// Haversine returns the great-circle distance between two points in kilometers.
// It is the reference distance function for radius-query correctness.
func Haversine(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Quantize rounds both coordinates to the given number of decimal degrees.
// Used to derive region-cache keys that absorb sub-precision viewport jitter.
func Quantize(p Point, decimals int) Point {
	scale := math.Pow(10, float64(decimals))
	return Point{
		Longitude: math.Round(p.Longitude*scale) / scale,
		Latitude:  math.Round(p.Latitude*scale) / scale,
	}
}
