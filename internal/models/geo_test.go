package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeoPoint_Validate(t *testing.T) {
	tests := []struct {
		name    string
		point   GeoPoint
		wantErr bool
		errMsg  string
	}{
		{
			name:    "Valid coordinates - Manhattan",
			point:   GeoPoint{Latitude: 40.7128, Longitude: -74.0060},
			wantErr: false,
		},
		{
			name:    "Valid coordinates - Equator",
			point:   GeoPoint{Latitude: 0.0, Longitude: 0.0},
			wantErr: false,
		},
		{
			name:    "Valid coordinates - North Pole",
			point:   GeoPoint{Latitude: 90.0, Longitude: 0.0},
			wantErr: false,
		},
		{
			name:    "Valid coordinates - South Pole",
			point:   GeoPoint{Latitude: -90.0, Longitude: 0.0},
			wantErr: false,
		},
		{
			name:    "Valid coordinates - Date line",
			point:   GeoPoint{Latitude: 0.0, Longitude: 180.0},
			wantErr: false,
		},
		{
			name:    "Valid coordinates - Date line negative",
			point:   GeoPoint{Latitude: 0.0, Longitude: -180.0},
			wantErr: false,
		},
		{
			name:    "Invalid latitude - too high",
			point:   GeoPoint{Latitude: 91.0, Longitude: 0.0},
			wantErr: true,
			errMsg:  "latitude",
		},
		{
			name:    "Invalid latitude - legacy 5000 bound",
			point:   GeoPoint{Latitude: 4999.0, Longitude: 0.0},
			wantErr: true,
			errMsg:  "latitude",
		},
		{
			name:    "Invalid longitude - too high",
			point:   GeoPoint{Latitude: 0.0, Longitude: 181.0},
			wantErr: true,
			errMsg:  "longitude",
		},
		{
			name:    "Invalid longitude - too low",
			point:   GeoPoint{Latitude: 0.0, Longitude: -181.0},
			wantErr: true,
			errMsg:  "longitude",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidCoordinate))
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGeoPoint_DistanceTo(t *testing.T) {
	tests := []struct {
		name      string
		point1    GeoPoint
		point2    GeoPoint
		expected  float64
		tolerance float64
	}{
		{
			name:      "Same point",
			point1:    GeoPoint{Latitude: 40.7128, Longitude: -74.0060},
			point2:    GeoPoint{Latitude: 40.7128, Longitude: -74.0060},
			expected:  0.0,
			tolerance: 0.1,
		},
		{
			name:      "1 degree latitude difference",
			point1:    GeoPoint{Latitude: 40.0, Longitude: -74.0},
			point2:    GeoPoint{Latitude: 41.0, Longitude: -74.0},
			expected:  111.0, // ~111km
			tolerance: 5.0,
		},
		{
			name:      "1 degree longitude difference at equator",
			point1:    GeoPoint{Latitude: 0.0, Longitude: 0.0},
			point2:    GeoPoint{Latitude: 0.0, Longitude: 1.0},
			expected:  111.0, // ~111km at equator
			tolerance: 5.0,
		},
		{
			name:      "1 degree longitude difference at 60° latitude",
			point1:    GeoPoint{Latitude: 60.0, Longitude: 0.0},
			point2:    GeoPoint{Latitude: 60.0, Longitude: 1.0},
			expected:  55.5, // ~55.5km (cos(60°) ≈ 0.5)
			tolerance: 5.0,
		},
		{
			name:      "Manhattan to JFK (approximate)",
			point1:    GeoPoint{Latitude: 40.7128, Longitude: -74.0060},
			point2:    GeoPoint{Latitude: 40.6413, Longitude: -73.7781},
			expected:  21.0, // ~21km
			tolerance: 3.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			distance := tt.point1.DistanceTo(tt.point2)
			assert.InDelta(t, tt.expected, distance, tt.tolerance)

			// Проверяем симметричность
			reverseDistance := tt.point2.DistanceTo(tt.point1)
			assert.InDelta(t, distance, reverseDistance, 0.1)
		})
	}
}

func TestGeoPoint_Geohash(t *testing.T) {
	point := GeoPoint{
		Latitude:  40.7128,
		Longitude: -74.0060,
	}

	for _, precision := range []int{5, 6, 7} {
		hash := point.Geohash(precision)
		assert.Len(t, hash, precision)
	}

	// Известный префикс для Нью-Йорка
	assert.Equal(t, "dr5re", point.Geohash(5))
}

func TestBounds_Validate(t *testing.T) {
	tests := []struct {
		name    string
		bounds  Bounds
		wantErr bool
		errMsg  string
	}{
		{
			name: "Valid bounds",
			bounds: Bounds{
				Southwest: GeoPoint{Latitude: 40.0, Longitude: -75.0},
				Northeast: GeoPoint{Latitude: 41.0, Longitude: -73.0},
			},
			wantErr: false,
		},
		{
			name: "Invalid bounds - latitude reversed",
			bounds: Bounds{
				Southwest: GeoPoint{Latitude: 41.0, Longitude: -75.0},
				Northeast: GeoPoint{Latitude: 40.0, Longitude: -73.0},
			},
			wantErr: true,
			errMsg:  "southwest latitude must be less than northeast latitude",
		},
		{
			name: "Invalid bounds - longitude reversed",
			bounds: Bounds{
				Southwest: GeoPoint{Latitude: 40.0, Longitude: -73.0},
				Northeast: GeoPoint{Latitude: 41.0, Longitude: -75.0},
			},
			wantErr: true,
			errMsg:  "southwest longitude must be less than northeast longitude",
		},
		{
			name: "Invalid southwest coordinates",
			bounds: Bounds{
				Southwest: GeoPoint{Latitude: 91.0, Longitude: -75.0},
				Northeast: GeoPoint{Latitude: 41.0, Longitude: -73.0},
			},
			wantErr: true,
			errMsg:  "southwest",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bounds.Validate()

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBounds_Contains(t *testing.T) {
	bounds := Bounds{
		Southwest: GeoPoint{Latitude: 40.0, Longitude: -75.0},
		Northeast: GeoPoint{Latitude: 41.0, Longitude: -73.0},
	}

	tests := []struct {
		name     string
		point    GeoPoint
		expected bool
	}{
		{
			name:     "Point inside bounds",
			point:    GeoPoint{Latitude: 40.7, Longitude: -74.0},
			expected: true,
		},
		{
			name:     "Point on corner",
			point:    GeoPoint{Latitude: 40.0, Longitude: -75.0},
			expected: true,
		},
		{
			name:     "Point outside bounds",
			point:    GeoPoint{Latitude: 42.0, Longitude: -74.0},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := bounds.Contains(tt.point)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestBounds_Center(t *testing.T) {
	bounds := Bounds{
		Southwest: GeoPoint{Latitude: 40.0, Longitude: -75.0},
		Northeast: GeoPoint{Latitude: 41.0, Longitude: -73.0},
	}

	center := bounds.Center()

	assert.InDelta(t, 40.5, center.Latitude, 0.000001)
	assert.InDelta(t, -74.0, center.Longitude, 0.000001)
}
