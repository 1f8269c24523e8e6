// Package cache реализует геохеш-кеш поверх KV-хранилища: бакеты с
// динамическим TTL, индекс скоров и инвалидацию по соседним ячейкам.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/geo"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/repository"
	"github.com/geostay/proximity-backend/internal/scoring"
	"github.com/geostay/proximity-backend/pkg/pool"
)

const (
	// KeyPrefix общий префикс ключей бакетов
	KeyPrefix = "geo:"

	// Индекс скоров живет вне пространства geo:*, чтобы сканы ячеек
	// его не задевали
	scoreIndexKey = "scoreindex:geo"

	// Маркер прогрева ячейки. Короткий TTL ограничивает окно, в котором
	// конкурирующие запросы пропускают прогрев.
	warmMarkerPrefix = "warm:"
	warmMarkerTTL    = 2 * time.Second
)

// KeyFor строит ключ кеша для точки и радиуса
func KeyFor(lat, lng, radiusKm float64) string {
	return KeyForCell(geo.CellForRadius(lat, lng, radiusKm), radiusKm)
}

// KeyForCell строит ключ кеша для готовой ячейки
func KeyForCell(cell string, radiusKm float64) string {
	return KeyPrefix + cell + ":" + strconv.FormatFloat(radiusKm, 'f', -1, 64)
}

// TopEntry элемент выдачи топа: ключ, текущий скор индекса и полезная
// нагрузка бакета
type TopEntry struct {
	Key   string          `json:"key"`
	Score float64         `json:"score"`
	Data  json.RawMessage `json:"data"`
}

// GeoCache кеш результатов гео-запросов. Ключи привязаны к ячейкам
// геохеша, TTL каждого бакета выводится из темпорального скора, индекс
// скоров поддерживается парно с записями.
type GeoCache struct {
	kv     repository.KVStore
	scorer *scoring.Scorer
	logger *logrus.Entry
	now    func() time.Time
}

// Option настройка кеша
type Option func(*GeoCache)

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) Option {
	return func(c *GeoCache) {
		c.now = now
	}
}

// NewGeoCache создает кеш поверх KV-хранилища
func NewGeoCache(kv repository.KVStore, scorer *scoring.Scorer, logger *logrus.Entry, opts ...Option) *GeoCache {
	c := &GeoCache{
		kv:     kv,
		scorer: scorer,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put сериализует payload в бакет и записывает его с TTL, выведенным из
// темпорального скора. Индекс скоров обновляется парно с записью.
// Возвращает скор и TTL записи.
func (c *GeoCache) Put(ctx context.Context, key string, payload interface{}, dateAdded time.Time, attrs models.ScoreAttributes) (float64, time.Duration, error) {
	now := c.now()
	score := c.scorer.ScoreAt(dateAdded, attrs, now)
	ttl := c.scorer.TTL(score)

	data, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to marshal cache payload: %w", err)
	}

	bucket := models.CachedBucket{
		Data:      data,
		Score:     score,
		WrittenAt: now,
		Metadata: models.BucketMetadata{
			DateAdded:  dateAdded,
			IsPremium:  attrs.IsPremium,
			IsFeatured: attrs.IsFeatured,
			IsVerified: attrs.IsVerified,
		},
	}

	buf := pool.Global.GetBuffer()
	defer pool.Global.PutBuffer(buf)
	if err := json.NewEncoder(buf).Encode(&bucket); err != nil {
		return 0, 0, fmt.Errorf("failed to marshal cache bucket: %w", err)
	}

	if err := c.kv.SetWithTTL(ctx, key, buf.Bytes(), ttl); err != nil {
		return 0, 0, err
	}
	if err := c.kv.ZAdd(ctx, scoreIndexKey, score, key); err != nil {
		return score, ttl, err
	}

	c.logger.WithFields(logrus.Fields{
		"key":   key,
		"score": score,
		"ttl_s": ttl.Seconds(),
	}).Debug("Cached bucket")

	return score, ttl, nil
}

// Get возвращает бакет по ключу или (nil, nil) при промахе. Перед
// выдачей скор пересчитывается по сохраненным метаданным: деградировавший
// бакет выселяется и считается промахом. Найденный бакет здесь еще не
// попадание: пригодность его страницы знает только вызывающий, он и
// доводит счетчик CacheRequestsTotal.
func (c *GeoCache) Get(ctx context.Context, key string) (*models.CachedBucket, error) {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}

	var bucket models.CachedBucket
	if err := json.Unmarshal(raw, &bucket); err != nil {
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Dropping unreadable cache bucket")
		c.evict(ctx, key)
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return nil, nil
	}

	current := c.scorer.ScoreAt(bucket.Metadata.DateAdded, bucket.Metadata.Attrs(), c.now())
	if c.scorer.IsDegraded(current, bucket.Score) {
		c.logger.WithFields(logrus.Fields{
			"key":           key,
			"written_score": bucket.Score,
			"current_score": current,
		}).Debug("Evicting degraded bucket")
		c.evict(ctx, key)
		metrics.CacheRequestsTotal.WithLabelValues("stale").Inc()
		return nil, nil
	}

	return &bucket, nil
}

// InvalidateRadius удаляет все бакеты ячейки, накрывающей точку, и ее
// восьми соседей на точности, выбранной по радиусу. Скан идет по префиксу
// геохеша, поэтому вместе с ячейкой вычищаются и вложенные в нее более
// мелкие: запись с радиусом 10 сбрасывает в том числе бакеты радиуса 2.
// Возвращает число удаленных ключей.
func (c *GeoCache) InvalidateRadius(ctx context.Context, lat, lng, radiusKm float64) (int64, error) {
	cell := geo.CellForRadius(lat, lng, radiusKm)
	cells := append([]string{cell}, geo.Neighbors(cell)...)

	keys := pool.Global.GetStringSlice()
	defer func() { pool.Global.PutStringSlice(keys) }()

	for _, cl := range cells {
		found, err := c.kv.Scan(ctx, KeyPrefix+cl+"*")
		if err != nil {
			return 0, err
		}
		keys = append(keys, found...)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.kv.Del(ctx, keys...)
	if err != nil {
		return deleted, err
	}
	if err := c.kv.ZRem(ctx, scoreIndexKey, keys...); err != nil {
		c.logger.WithField("error", err).Warn("Failed to remove invalidated keys from score index")
	}

	metrics.CacheInvalidationsTotal.Add(float64(deleted))
	c.logger.WithFields(logrus.Fields{
		"cell":      cell,
		"radius_km": radiusKm,
		"deleted":   deleted,
	}).Debug("Invalidated cache cells")

	return deleted, nil
}

// TopN возвращает до limit бакетов с наибольшим скором, новые первыми.
// Осиротевшие записи индекса удаляются по пути.
func (c *GeoCache) TopN(ctx context.Context, limit int64) ([]TopEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	scored, err := c.kv.ZRangeWithScores(ctx, scoreIndexKey, -limit, -1)
	if err != nil {
		return nil, err
	}

	entries := make([]TopEntry, 0, len(scored))
	// Индекс отдает по возрастанию, обходим с конца
	for i := len(scored) - 1; i >= 0; i-- {
		member := scored[i]

		raw, err := c.kv.Get(ctx, member.Member)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			if err := c.kv.ZRem(ctx, scoreIndexKey, member.Member); err != nil {
				c.logger.WithField("error", err).Warn("Failed to drop orphan score index entry")
			}
			continue
		}

		var bucket models.CachedBucket
		if err := json.Unmarshal(raw, &bucket); err != nil {
			c.evict(ctx, member.Member)
			continue
		}

		entries = append(entries, TopEntry{
			Key:   member.Member,
			Score: member.Score,
			Data:  bucket.Data,
		})
	}

	return entries, nil
}

// CleanupBelow удаляет все бакеты со скором индекса не выше порога.
// Возвращает число удаленных ключей.
func (c *GeoCache) CleanupBelow(ctx context.Context, threshold float64) (int64, error) {
	members, err := c.kv.ZRangeByScore(ctx, scoreIndexKey, math.Inf(-1), threshold)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, nil
	}

	deleted, err := c.kv.Del(ctx, members...)
	if err != nil {
		return deleted, err
	}
	if _, err := c.kv.ZRemRangeByScore(ctx, scoreIndexKey, math.Inf(-1), threshold); err != nil {
		c.logger.WithField("error", err).Warn("Failed to trim score index")
	}

	c.logger.WithFields(logrus.Fields{
		"threshold": threshold,
		"deleted":   deleted,
	}).Info("Cleaned up low-score cache entries")

	return deleted, nil
}

// RefreshScores пересчитывает скоры всех записей индекса по сохраненным
// метаданным бакетов и выбрасывает осиротевшие записи. Возвращает число
// обновленных и удаленных записей.
func (c *GeoCache) RefreshScores(ctx context.Context) (int, int, error) {
	entries, err := c.kv.ZRangeWithScores(ctx, scoreIndexKey, 0, -1)
	if err != nil {
		return 0, 0, err
	}

	now := c.now()
	updated, dropped := 0, 0

	for _, entry := range entries {
		raw, err := c.kv.Get(ctx, entry.Member)
		if err != nil {
			return updated, dropped, err
		}
		if raw == nil {
			// Бакет истек по TTL, запись индекса осиротела
			if err := c.kv.ZRem(ctx, scoreIndexKey, entry.Member); err != nil {
				c.logger.WithField("error", err).Warn("Failed to drop orphan score index entry")
				continue
			}
			dropped++
			continue
		}

		var bucket models.CachedBucket
		if err := json.Unmarshal(raw, &bucket); err != nil {
			c.evict(ctx, entry.Member)
			dropped++
			continue
		}

		current := c.scorer.ScoreAt(bucket.Metadata.DateAdded, bucket.Metadata.Attrs(), now)
		if math.Abs(current-entry.Score) < 1e-9 {
			continue
		}
		if err := c.kv.ZAdd(ctx, scoreIndexKey, current, entry.Member); err != nil {
			return updated, dropped, err
		}
		updated++
	}

	if size, err := c.kv.ZCard(ctx, scoreIndexKey); err == nil {
		metrics.ScoreIndexSize.Set(float64(size))
	}

	return updated, dropped, nil
}

// Has проверяет наличие ключа, не затрагивая статистику попаданий и
// не пересчитывая скор. Используется прогревом для пропуска живых ячеек.
func (c *GeoCache) Has(ctx context.Context, key string) (bool, error) {
	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

// TryMarkWarming пытается захватить маркер прогрева ключа. Возвращает
// false, если прогрев уже идет или маркер не записался.
func (c *GeoCache) TryMarkWarming(ctx context.Context, key string) bool {
	ok, err := c.kv.SetNX(ctx, warmMarkerPrefix+key, []byte("1"), warmMarkerTTL)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Debug("Warming marker write failed")
		return false
	}
	return ok
}

// ShortenCellTTL переустанавливает TTL всех бакетов ячейки. Возвращает
// число затронутых ключей.
func (c *GeoCache) ShortenCellTTL(ctx context.Context, cell string, ttl time.Duration) (int, error) {
	keys, err := c.kv.Scan(ctx, KeyPrefix+cell+":*")
	if err != nil {
		return 0, err
	}

	adjusted := 0
	for _, key := range keys {
		ok, err := c.kv.Expire(ctx, key, ttl)
		if err != nil {
			return adjusted, err
		}
		if ok {
			adjusted++
		}
	}

	return adjusted, nil
}

// Counts возвращает число живых бакетов и общее число ключей в базе
func (c *GeoCache) Counts(ctx context.Context) (int64, int64, error) {
	keys, err := c.kv.Scan(ctx, KeyPrefix+"*")
	if err != nil {
		return 0, 0, err
	}
	total, err := c.kv.DBSize(ctx)
	if err != nil {
		return int64(len(keys)), 0, err
	}
	return int64(len(keys)), total, nil
}

// Clear полностью очищает базу кеша
func (c *GeoCache) Clear(ctx context.Context) error {
	return c.kv.FlushAll(ctx)
}

func (c *GeoCache) evict(ctx context.Context, key string) {
	if _, err := c.kv.Del(ctx, key); err != nil {
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Failed to delete cache key")
	}
	if err := c.kv.ZRem(ctx, scoreIndexKey, key); err != nil {
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Failed to remove score index entry")
	}
}
