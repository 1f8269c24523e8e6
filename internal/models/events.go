package models

import "time"

// Типы событий жизненного цикла кеша
const (
	CacheEventPopulate   = "populate"
	CacheEventInvalidate = "invalidate"
	CacheEventWarm       = "warm"
)

// CacheEvent событие кеша, транслируемое WebSocket-подписчикам
type CacheEvent struct {
	Type      string    `json:"type"`
	Cell      string    `json:"cell"`
	RadiusKm  float64   `json:"radius"`
	Keys      []string  `json:"keys,omitempty"`
	Timestamp time.Time `json:"ts"`
}
