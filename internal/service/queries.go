package service

import (
	"fmt"
	"sort"

	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/scoring"
)

// Границы пагинации
const (
	DefaultNearbyLimit = 50
	MaxLimit           = 1000
)

// NearbyQuery параметры поиска вокруг точки
type NearbyQuery struct {
	Center   models.GeoPoint
	RadiusKm float64
	// RadiusSet отличает явный нулевой радиус от незаданного: ноль из
	// запроса проходит дальше и матчит только точное совпадение точки
	RadiusSet bool
	Page      int
	Limit     int
	Prefs     *scoring.Preferences
}

// normalize подставляет дефолты и проверяет границы запроса.
// Нулевая пагинация означает "не задана", нулевой радиус — только без
// флага RadiusSet.
func (q *NearbyQuery) normalize(defaultRadiusKm, maxRadiusKm float64) error {
	if err := q.Center.Validate(); err != nil {
		return err
	}

	if q.RadiusKm == 0 && !q.RadiusSet {
		q.RadiusKm = defaultRadiusKm
	}
	if q.RadiusKm < 0 {
		return fmt.Errorf("%w: %f", models.ErrInvalidRadius, q.RadiusKm)
	}
	if q.RadiusKm > maxRadiusKm {
		return fmt.Errorf("%w: %f exceeds maximum %f", models.ErrInvalidRadius, q.RadiusKm, maxRadiusKm)
	}

	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 1 {
		return fmt.Errorf("%w: page %d", models.ErrInvalidPagination, q.Page)
	}

	if q.Limit == 0 {
		q.Limit = DefaultNearbyLimit
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return fmt.Errorf("%w: limit %d", models.ErrInvalidPagination, q.Limit)
	}

	return nil
}

// skip смещение выборки для текущей страницы
func (q *NearbyQuery) skip() int64 {
	return int64(q.Page-1) * int64(q.Limit)
}

// sortByRelevance упорядочивает выдачу: релевантность по убыванию, при
// равенстве ближние раньше, затем лексикографически по id
func sortByRelevance(items []models.ScoredProperty) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.ID < b.ID
	})
}

// sortByDistance упорядочивает выдачу legacy-пути по дистанции
func sortByDistance(items []models.ScoredProperty) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		return a.ID < b.ID
	})
}
