package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperty_Validate(t *testing.T) {
	valid := Property{
		ID:        "prop-1",
		Name:      "Sunny loft in SoHo",
		Latitude:  40.723,
		Longitude: -74.002,
		Price:     180,
		Purpose:   PurposeForRent,
		DateAdded: time.Now(),
	}

	t.Run("valid property", func(t *testing.T) {
		p := valid
		require.NoError(t, p.Validate())
	})

	t.Run("coordinates out of range", func(t *testing.T) {
		p := valid
		p.Latitude = 92
		err := p.Validate()
		assert.True(t, errors.Is(err, ErrInvalidCoordinate))
	})

	t.Run("empty name", func(t *testing.T) {
		p := valid
		p.Name = "   "
		assert.Error(t, p.Validate())
	})

	t.Run("negative price", func(t *testing.T) {
		p := valid
		p.Price = -1
		assert.Error(t, p.Validate())
	})

	t.Run("unknown purpose", func(t *testing.T) {
		p := valid
		p.Purpose = "for-barter"
		assert.Error(t, p.Validate())
	})

	t.Run("empty purpose allowed", func(t *testing.T) {
		p := valid
		p.Purpose = ""
		assert.NoError(t, p.Validate())
	})
}

func TestProperty_Badges(t *testing.T) {
	p := Property{IsPremium: true, IsVerified: true}
	badges := p.Badges()

	assert.True(t, badges.IsPremium)
	assert.False(t, badges.IsFeatured)
	assert.True(t, badges.IsVerified)
}

func TestNearbyResult_HasMore(t *testing.T) {
	r := NearbyResult{TotalPages: 3, CurrentPage: 1}
	assert.True(t, r.HasMore())

	r.CurrentPage = 3
	assert.False(t, r.HasMore())

	empty := NearbyResult{TotalPages: 0, CurrentPage: 1}
	assert.False(t, empty.HasMore())
}

func TestBucketMetadata_Attrs(t *testing.T) {
	m := BucketMetadata{
		DateAdded:  time.Now(),
		IsFeatured: true,
	}

	attrs := m.Attrs()
	assert.False(t, attrs.IsPremium)
	assert.True(t, attrs.IsFeatured)
	assert.False(t, attrs.IsVerified)
}
