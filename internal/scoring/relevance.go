package scoring

import (
	"math"
	"strings"

	"github.com/geostay/proximity-backend/internal/models"
)

const (
	// Дистанция, на которой близость ослабляет релевантность в e раз
	proximityDecayKm = 10.0

	// Бусты пользовательских предпочтений
	preferredLocationBoost = 1.2
	preferredTypeBoost     = 1.1
)

// Preferences необязательные пользовательские предпочтения для ранжирования
type Preferences struct {
	MaxPrice           float64
	PreferredLocations []string
	PreferredTypes     []string
}

// Empty сообщает, влияют ли предпочтения на ранжирование
func (p *Preferences) Empty() bool {
	return p == nil ||
		(p.MaxPrice <= 0 && len(p.PreferredLocations) == 0 && len(p.PreferredTypes) == 0)
}

// Relevance вычисляет полную релевантность объекта: темпоральный скор,
// умноженный на затухание по дистанции, ценовой фактор и бусты
// предпочтений. Отрицательная дистанция означает "неизвестна" и
// пропускает фактор близости.
func (s *Scorer) Relevance(p *models.Property, distanceKm float64, prefs *Preferences) float64 {
	rel := s.Score(p.DateAdded, p.Badges())

	if distanceKm >= 0 {
		rel *= math.Exp(-distanceKm / proximityDecayKm)
	}

	if prefs == nil {
		return rel
	}

	if prefs.MaxPrice > 0 && p.Price > 0 {
		rel *= math.Min(prefs.MaxPrice/p.Price, 1)
	}
	if matchesAny(prefs.PreferredLocations, p.Neighbourhood, p.City) {
		rel *= preferredLocationBoost
	}
	if matchesAny(prefs.PreferredTypes, p.PropertyType) {
		rel *= preferredTypeBoost
	}

	return rel
}

// ItemRelevance релевантность элемента выдачи nearby-запроса:
// темпоральный скор с гиперболическим затуханием по дистанции.
func ItemRelevance(temporalScore, distanceKm float64) float64 {
	if distanceKm < 0 {
		distanceKm = 0
	}
	return temporalScore / (1 + distanceKm)
}

func matchesAny(preferred []string, values ...string) bool {
	for _, want := range preferred {
		for _, v := range values {
			if v != "" && strings.EqualFold(v, want) {
				return true
			}
		}
	}
	return false
}
