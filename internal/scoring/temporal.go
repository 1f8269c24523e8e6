// Package scoring реализует темпоральный скоринг кешируемых данных:
// экспоненциальное затухание по возрасту записи, весовые коэффициенты
// свежести, бустинг по бейджам, динамический TTL и проверку деградации.
package scoring

import (
	"math"
	"time"

	"github.com/geostay/proximity-backend/internal/models"
)

const (
	// Скорость экспоненциального затухания (на день возраста)
	decayRate = 0.1

	// Возраст обрезается сверху: старше 90 дней записи не различаются
	maxAgeDays = 90.0

	// Пороги весов свежести
	freshAgeDays  = 7.0
	recentAgeDays = 30.0

	freshWeight  = 1.0
	recentWeight = 0.8
	staleWeight  = 0.6

	// Бусты бейджей
	premiumBoost  = 1.2
	featuredBoost = 1.1
	verifiedBoost = 1.05

	// Границы динамического TTL относительно базового
	minTTLFactor = 0.5
	maxTTLFactor = 2.0

	// DegradationThreshold доля записанного скора, ниже которой бакет
	// считается протухшим и вычищается при чтении
	DegradationThreshold = 0.7

	// DefaultBaseTTL базовый TTL кеша по умолчанию
	DefaultBaseTTL = time.Hour
)

// Scorer вычисляет темпоральные скоры и производные от них величины.
// Потокобезопасен: состояния нет, часы только читаются.
type Scorer struct {
	baseTTL time.Duration
	now     func() time.Time
}

// Option настраивает Scorer
type Option func(*Scorer)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		s.now = now
	}
}

// NewScorer создает скорер с заданным базовым TTL (0 означает час)
func NewScorer(baseTTL time.Duration, opts ...Option) *Scorer {
	if baseTTL <= 0 {
		baseTTL = DefaultBaseTTL
	}
	s := &Scorer{
		baseTTL: baseTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BaseTTL возвращает базовый TTL скорера
func (s *Scorer) BaseTTL() time.Duration {
	return s.baseTTL
}

// Score вычисляет текущий темпоральный скор записи
func (s *Scorer) Score(dateAdded time.Time, attrs models.ScoreAttributes) float64 {
	return s.ScoreAt(dateAdded, attrs, s.now())
}

// ScoreAt вычисляет скор на заданный момент времени.
//
//	ageDays    = clamp((now - dateAdded) / сутки, 0, 90)
//	base       = exp(-0.1 * ageDays)
//	timeWeight = 1.0 / 0.8 / 0.6 для возрастов <=7 / <=30 / старше
//	boost      = 1.2 premium * 1.1 featured * 1.05 verified
func (s *Scorer) ScoreAt(dateAdded time.Time, attrs models.ScoreAttributes, now time.Time) float64 {
	ageDays := now.Sub(dateAdded).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	if ageDays > maxAgeDays {
		ageDays = maxAgeDays
	}

	base := math.Exp(-decayRate * ageDays)

	weight := staleWeight
	switch {
	case ageDays <= freshAgeDays:
		weight = freshWeight
	case ageDays <= recentAgeDays:
		weight = recentWeight
	}

	boost := 1.0
	if attrs.IsPremium {
		boost *= premiumBoost
	}
	if attrs.IsFeatured {
		boost *= featuredBoost
	}
	if attrs.IsVerified {
		boost *= verifiedBoost
	}

	return base * weight * boost
}

// TTL вычисляет динамический TTL по скору. Скор обрезается в [0, 1],
// результат лежит в [0.5*base, 2*base] и округляется вниз до секунды.
func (s *Scorer) TTL(score float64) time.Duration {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	minSec := s.baseTTL.Seconds() * minTTLFactor
	maxSec := s.baseTTL.Seconds() * maxTTLFactor
	ttlSec := math.Floor(minSec + (maxSec-minSec)*score)

	return time.Duration(ttlSec) * time.Second
}

// IsDegraded сообщает, деградировал ли бакет: текущий скор упал ниже
// 70% от записанного. Неположительный записанный скор не деградирует.
func (s *Scorer) IsDegraded(current, written float64) bool {
	if written <= 0 {
		return false
	}
	return current < DegradationThreshold*written
}
