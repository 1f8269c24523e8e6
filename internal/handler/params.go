package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/scoring"
	"github.com/geostay/proximity-backend/internal/service"
)

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    code,
		"message": message,
	})
	c.Abort()
}

// parseNearbyQuery разбирает параметры nearby-запроса. Проверка формы
// здесь, проверка диапазонов в сервисном слое. При ошибке пишет 400 и
// возвращает false.
func parseNearbyQuery(c *gin.Context) (service.NearbyQuery, bool) {
	var q service.NearbyQuery

	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		badRequest(c, "invalid_latitude", "lat must be a number between -90 and 90")
		return q, false
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		badRequest(c, "invalid_longitude", "lng must be a number between -180 and 180")
		return q, false
	}
	q.Center = models.GeoPoint{Latitude: lat, Longitude: lng}

	if raw := c.Query("radius"); raw != "" {
		q.RadiusKm, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "invalid_radius", "radius must be a number of kilometers")
			return q, false
		}
		q.RadiusSet = true
	}

	var ok bool
	if q.Page, ok = parseOptionalInt(c, "page"); !ok {
		return q, false
	}
	if q.Limit, ok = parseOptionalInt(c, "limit"); !ok {
		return q, false
	}
	if q.Prefs, ok = parsePreferences(c); !ok {
		return q, false
	}
	return q, true
}

func parseOptionalInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid_"+name, name+" must be an integer")
		return 0, false
	}
	return v, true
}

// parsePreferences собирает пользовательские предпочтения ранжирования.
// Возвращает nil, когда ни один параметр не задан.
func parsePreferences(c *gin.Context) (*scoring.Preferences, bool) {
	var prefs scoring.Preferences

	if raw := c.Query("maxPrice"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			badRequest(c, "invalid_maxPrice", "maxPrice must be a non-negative number")
			return nil, false
		}
		prefs.MaxPrice = v
	}
	prefs.PreferredLocations = splitCSV(c.Query("preferredLocations"))
	prefs.PreferredTypes = splitCSV(c.Query("preferredTypes"))

	if prefs.Empty() {
		return nil, true
	}
	return &prefs, true
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
