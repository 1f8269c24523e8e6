package models

import (
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"
)

// GeoPoint представляет географическую точку
type GeoPoint struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Validate проверяет корректность координат
func (p GeoPoint) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f", ErrInvalidCoordinate, p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f", ErrInvalidCoordinate, p.Longitude)
	}
	return nil
}

// DistanceTo вычисляет расстояние до другой точки в километрах (формула Haversine)
func (p GeoPoint) DistanceTo(other GeoPoint) float64 {
	const earthRadius = 6371 // км

	lat1Rad := p.Latitude * math.Pi / 180
	lat2Rad := other.Latitude * math.Pi / 180
	deltaLat := (other.Latitude - p.Latitude) * math.Pi / 180
	deltaLng := (other.Longitude - p.Longitude) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

// Geohash возвращает geohash для точки с заданной точностью
func (p GeoPoint) Geohash(precision int) string {
	return geohash.EncodeWithPrecision(p.Latitude, p.Longitude, uint(precision))
}

// Bounds представляет прямоугольные географические границы
type Bounds struct {
	Southwest GeoPoint `json:"sw"`
	Northeast GeoPoint `json:"ne"`
}

// Validate проверяет корректность границ
func (b Bounds) Validate() error {
	if err := b.Southwest.Validate(); err != nil {
		return fmt.Errorf("southwest: %w", err)
	}
	if err := b.Northeast.Validate(); err != nil {
		return fmt.Errorf("northeast: %w", err)
	}
	if b.Southwest.Latitude > b.Northeast.Latitude {
		return fmt.Errorf("southwest latitude must be less than northeast latitude")
	}
	if b.Southwest.Longitude > b.Northeast.Longitude {
		return fmt.Errorf("southwest longitude must be less than northeast longitude")
	}
	return nil
}

// Contains проверяет, содержится ли точка в границах
func (b Bounds) Contains(point GeoPoint) bool {
	return point.Latitude >= b.Southwest.Latitude && point.Latitude <= b.Northeast.Latitude &&
		point.Longitude >= b.Southwest.Longitude && point.Longitude <= b.Northeast.Longitude
}

// Center возвращает центральную точку границ
func (b Bounds) Center() GeoPoint {
	return GeoPoint{
		Latitude:  (b.Southwest.Latitude + b.Northeast.Latitude) / 2,
		Longitude: (b.Southwest.Longitude + b.Northeast.Longitude) / 2,
	}
}
