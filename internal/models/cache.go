package models

import (
	"encoding/json"
	"time"
)

// CachedBucket значение, хранимое под geo-ключом. Payload непрозрачен для
// слоя кеширования; metadata хранит входы для пересчета скора при чтении.
type CachedBucket struct {
	Data      json.RawMessage `json:"data"`
	Score     float64         `json:"score"`     // скор на момент записи
	WrittenAt time.Time       `json:"writtenAt"` // момент записи
	Metadata  BucketMetadata  `json:"metadata"`
}

// BucketMetadata входы для пересчета темпорального скора при чтении
type BucketMetadata struct {
	DateAdded  time.Time `json:"dateAdded"`
	IsPremium  bool      `json:"isPremium"`
	IsFeatured bool      `json:"isFeatured"`
	IsVerified bool      `json:"isVerified"`
}

// Attrs возвращает бейджи в форме для скорера
func (m BucketMetadata) Attrs() ScoreAttributes {
	return ScoreAttributes{
		IsPremium:  m.IsPremium,
		IsFeatured: m.IsFeatured,
		IsVerified: m.IsVerified,
	}
}

// NearbyResult результат nearby-запроса, кешируемый целиком
type NearbyResult struct {
	Properties  []ScoredProperty `json:"properties"`
	TotalCount  int64            `json:"totalCount"`
	TotalPages  int              `json:"totalPages"`
	CurrentPage int              `json:"currentPage"`
	Metadata    QueryMetadata    `json:"metadata"`
}

// HasMore сообщает, есть ли страницы после текущей
func (r *NearbyResult) HasMore() bool {
	return r.CurrentPage < r.TotalPages
}

// QueryMetadata параметры запроса, породившего результат
type QueryMetadata struct {
	QueryTimestamp time.Time `json:"queryTimestamp"`
	Coordinates    GeoPoint  `json:"coordinates"`
	RadiusKm       float64   `json:"radius"`
	Limit          int       `json:"limit"`
}

// AggregateGroup агрегат по одной локации
type AggregateGroup struct {
	Locality             string   `json:"locality"`
	TotalCount           int64    `json:"totalCount"`
	ForSale              int64    `json:"forSale"`
	ForRent              int64    `json:"forRent"`
	RoomTypes            []string `json:"roomTypes"`
	PropertyTypes        []string `json:"propertyTypes"`
	CancellationPolicies []string `json:"cancellationPolicies"`
	HostVerification     []string `json:"hostIdentityVerified"`
}

// CacheStats статистика кеша для эндпоинта cacheStats
type CacheStats struct {
	CacheHits       int64 `json:"cacheHits"`
	TotalDataCached int64 `json:"totalDataCached"`
	TotalKeys       int64 `json:"totalKeys"`
	TotalDocuments  int64 `json:"totalDocuments"`
}
