package repository

import (
	"context"
	"time"

	"github.com/geostay/proximity-backend/internal/models"
)

// ScoredMember элемент сортированного множества: ключ кеша и его скор
type ScoredMember struct {
	Member string
	Score  float64
}

// KVStore порт key/value хранилища с TTL и sorted-set операциями.
// Слой кеширования работает только через него.
type KVStore interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Строковые операции. Get возвращает (nil, nil) при отсутствии ключа.
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	Type(ctx context.Context, key string) (string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Sorted-set операции для индекса скоров
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZCard(ctx context.Context, key string) (int64, error)
	ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error)

	// Обслуживание
	DBSize(ctx context.Context) (int64, error)
	FlushAll(ctx context.Context) error
}

// DocStore порт документного хранилища объектов недвижимости.
type DocStore interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Геозапросы. Дистанции в метрах от центра поиска.
	GeoNear(ctx context.Context, center models.GeoPoint, maxMeters float64, skip, limit int64) ([]models.PropertyWithDistance, error)
	CountNear(ctx context.Context, center models.GeoPoint, maxMeters float64) (int64, error)

	// CRUD операции
	FindByID(ctx context.Context, id string) (*models.Property, error)
	Insert(ctx context.Context, property *models.Property) (*models.Property, error)
	InsertBatch(ctx context.Context, properties []*models.Property) (int, error)
	FindPage(ctx context.Context, skip, limit int64) ([]models.Property, error)
	CountAll(ctx context.Context) (int64, error)

	// Прямоугольная выборка для legacy coordinate-range пути
	FindInRange(ctx context.Context, box models.Bounds, skip, limit int64) ([]models.Property, error)
	CountInRange(ctx context.Context, box models.Bounds) (int64, error)

	// Агрегация по локации с опциональными фильтрами равенства
	AggregateByField(ctx context.Context, groupField string, filters map[string]string, addToSetFields []string) ([]models.AggregateGroup, error)
}

// Ensure implementations
var _ KVStore = (*RedisStore)(nil)
var _ DocStore = (*MySQLStore)(nil)
