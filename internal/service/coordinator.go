// Package service содержит координатор запросов: путь чтения через кеш
// с прогревом соседних ячеек, запись с инвалидацией окрестности,
// агрегацию и batch-ингест фида обновлений.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/cache"
	"github.com/geostay/proximity-backend/internal/geo"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/repository"
	"github.com/geostay/proximity-backend/internal/scoring"
)

const (
	// Радиус инвалидации вокруг добавленного объекта
	addInvalidationRadiusKm = 10

	// Дедлайн одного обхода соседей при прогреве
	warmTimeout = 30 * time.Second

	// Коэффициент перевода километров в градусы для legacy-префильтра
	rangeDegreesPerKm = 0.009
)

// Поля категорий, собираемые агрегацией в уникальные наборы
var aggregateSetFields = []string{"roomType", "propertyType", "cancellationPolicy", "hostIdentityVerified"}

// EventPublisher принимает события кеша для трансляции подписчикам.
// Координатор переживает отсутствие издателя.
type EventPublisher interface {
	PublishCacheEvent(event models.CacheEvent)
}

// CoordinatorConfig настройки координатора
type CoordinatorConfig struct {
	DefaultRadiusKm     float64
	MaxRadiusKm         float64
	WarmingEnabled      bool
	WarmItemLimit       int
	ListPageSize        int
	AggregateGroupField string
}

// Coordinator обслуживает запросы API: ищет в кеше, при промахе строит
// результат из документного хранилища, кеширует его и греет соседние
// ячейки в фоне.
type Coordinator struct {
	docs      repository.DocStore
	cache     *cache.GeoCache
	scorer    *scoring.Scorer
	optimizer *cache.Optimizer
	cfg       CoordinatorConfig
	logger    *logrus.Entry
	events    EventPublisher
	now       func() time.Time

	warmWG sync.WaitGroup
}

// CoordinatorOption настройка координатора
type CoordinatorOption func(*Coordinator)

// WithEventPublisher подключает трансляцию событий кеша
func WithEventPublisher(pub EventPublisher) CoordinatorOption {
	return func(c *Coordinator) {
		c.events = pub
	}
}

// WithClock подменяет источник времени (для тестов)
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator создает координатор. Нулевые поля конфигурации
// заменяются дефолтами.
func NewCoordinator(docs repository.DocStore, geoCache *cache.GeoCache, scorer *scoring.Scorer, optimizer *cache.Optimizer, cfg CoordinatorConfig, logger *logrus.Entry, opts ...CoordinatorOption) *Coordinator {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = 5
	}
	if cfg.MaxRadiusKm <= 0 {
		cfg.MaxRadiusKm = 200
	}
	if cfg.WarmItemLimit <= 0 {
		cfg.WarmItemLimit = 10
	}
	if cfg.ListPageSize <= 0 {
		cfg.ListPageSize = 20
	}
	if cfg.AggregateGroupField == "" {
		cfg.AggregateGroupField = "neighbourhood"
	}

	c := &Coordinator{
		docs:      docs,
		cache:     geoCache,
		scorer:    scorer,
		optimizer: optimizer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Nearby выполняет поиск вокруг точки через кеш. Второе возвращаемое
// значение сообщает, отдан ли результат из кеша.
func (c *Coordinator) Nearby(ctx context.Context, q NearbyQuery) (*models.NearbyResult, bool, error) {
	if err := q.normalize(c.cfg.DefaultRadiusKm, c.cfg.MaxRadiusKm); err != nil {
		return nil, false, err
	}

	cell := geo.CellForRadius(q.Center.Latitude, q.Center.Longitude, q.RadiusKm)
	key := cache.KeyForCell(cell, q.RadiusKm)

	bucket, err := c.cache.Get(ctx, key)
	if err != nil {
		// KV недоступен: запрос обслуживается напрямую из хранилища
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Cache read failed, falling back to document store")
		bucket = nil
	}

	if bucket != nil {
		var cached models.NearbyResult
		if err := json.Unmarshal(bucket.Data, &cached); err != nil {
			c.logger.WithFields(logrus.Fields{
				"key":   key,
				"error": err,
			}).Warn("Unreadable cached payload")
		} else if cached.CurrentPage == q.Page && cached.Metadata.Limit == q.Limit {
			metrics.CacheRequestsTotal.WithLabelValues("hit").Inc()
			c.optimizer.RecordHit(cell)
			c.applyPreferences(&cached, q.Prefs)
			return &cached, true, nil
		}
		// Бакет хранит другую страницу этой ячейки: перезаполняем.
		// Для счетчиков это промах, наравне со статистикой оптимизатора.
		metrics.CacheRequestsTotal.WithLabelValues("miss").Inc()
	}

	c.optimizer.RecordMiss(cell)

	result, err := c.populate(ctx, q, cell, key)
	if err != nil {
		return nil, false, err
	}
	c.applyPreferences(result, q.Prefs)
	return result, false, nil
}

// populate строит результат из документного хранилища, кеширует его и
// запускает прогрев соседних ячеек
func (c *Coordinator) populate(ctx context.Context, q NearbyQuery, cell, key string) (*models.NearbyResult, error) {
	radiusMeters := q.RadiusKm * 1000

	total, err := c.docs.CountNear(ctx, q.Center, radiusMeters)
	if err != nil {
		return nil, err
	}
	items, err := c.docs.GeoNear(ctx, q.Center, radiusMeters, q.skip(), int64(q.Limit))
	if err != nil {
		return nil, err
	}

	result := c.buildResult(q.Center, q.RadiusKm, q.Page, q.Limit, total, items)

	// Пустые результаты кешируются наравне с непустыми. Отказ записи не
	// мешает отдать ответ.
	if _, _, err := c.cache.Put(ctx, key, result, c.now(), models.ScoreAttributes{}); err != nil {
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Cache write failed, serving uncached result")
	} else {
		c.publish(models.CacheEventPopulate, cell, q.RadiusKm, []string{key})
	}

	if c.cfg.WarmingEnabled {
		c.warmWG.Add(1)
		go c.warmNeighbors(cell, q.RadiusKm)
	}

	return result, nil
}

// buildResult собирает страницу выдачи: скоринг, релевантность с
// затуханием по дистанции, сортировка
func (c *Coordinator) buildResult(center models.GeoPoint, radiusKm float64, page, limit int, total int64, items []models.PropertyWithDistance) *models.NearbyResult {
	scored := make([]models.ScoredProperty, 0, len(items))
	for _, item := range items {
		distKm := item.DistanceMeters / 1000
		temporal := c.scorer.Score(item.Property.DateAdded, item.Property.Badges())
		scored = append(scored, models.ScoredProperty{
			Property:   item.Property,
			DistanceKm: distKm,
			Relevance:  scoring.ItemRelevance(temporal, distKm),
		})
	}
	sortByRelevance(scored)

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}

	return &models.NearbyResult{
		Properties:  scored,
		TotalCount:  total,
		TotalPages:  totalPages,
		CurrentPage: page,
		Metadata: models.QueryMetadata{
			QueryTimestamp: c.now(),
			Coordinates:    center,
			RadiusKm:       radiusKm,
			Limit:          limit,
		},
	}
}

// applyPreferences переранжирует страницу по полной формуле релевантности.
// Кешированная нагрузка остается независимой от предпочтений.
func (c *Coordinator) applyPreferences(result *models.NearbyResult, prefs *scoring.Preferences) {
	if prefs.Empty() {
		return
	}
	for i := range result.Properties {
		p := &result.Properties[i]
		p.Relevance = c.scorer.Relevance(&p.Property, p.DistanceKm, prefs)
	}
	sortByRelevance(result.Properties)
}

// warmNeighbors прогревает восемь соседей ячейки. Работает в фоне после
// ответа клиенту; любые сбои глотаются.
func (c *Coordinator) warmNeighbors(cell string, radiusKm float64) {
	defer c.warmWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), warmTimeout)
	defer cancel()

	for _, neighbor := range geo.Neighbors(cell) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		c.warmCell(ctx, neighbor, radiusKm)
	}
}

// warmCell прогревает одну ячейку: пропускает живые и уже прогреваемые,
// иначе кеширует ограниченную выборку вокруг центра ячейки
func (c *Coordinator) warmCell(ctx context.Context, cell string, radiusKm float64) {
	key := cache.KeyForCell(cell, radiusKm)

	if exists, err := c.cache.Has(ctx, key); err != nil || exists {
		return
	}
	if !c.cache.TryMarkWarming(ctx, key) {
		return
	}

	lat, lng := geo.CellCenter(cell)
	center := models.GeoPoint{Latitude: lat, Longitude: lng}
	radiusMeters := radiusKm * 1000

	total, err := c.docs.CountNear(ctx, center, radiusMeters)
	if err != nil {
		c.warmFailed(cell, err)
		return
	}
	items, err := c.docs.GeoNear(ctx, center, radiusMeters, 0, int64(c.cfg.WarmItemLimit))
	if err != nil {
		c.warmFailed(cell, err)
		return
	}

	result := c.buildResult(center, radiusKm, 1, c.cfg.WarmItemLimit, total, items)
	if _, _, err := c.cache.Put(ctx, key, result, c.now(), models.ScoreAttributes{}); err != nil {
		c.warmFailed(cell, err)
		return
	}

	metrics.CacheWarmedCellsTotal.Inc()
	c.publish(models.CacheEventWarm, cell, radiusKm, []string{key})
}

func (c *Coordinator) warmFailed(cell string, err error) {
	metrics.CacheWarmErrorsTotal.Inc()
	c.logger.WithFields(logrus.Fields{
		"cell":  cell,
		"error": err,
	}).Debug("Neighbor warming failed")
}

// CoordinateRange legacy-поиск прямоугольным префильтром: без кеша, без
// скоринга, страница сортируется по дистанции. Сохранен для сравнения с
// геохеш-путем.
func (c *Coordinator) CoordinateRange(ctx context.Context, q NearbyQuery) (*models.NearbyResult, error) {
	if err := q.normalize(c.cfg.DefaultRadiusKm, c.cfg.MaxRadiusKm); err != nil {
		return nil, err
	}

	delta := q.RadiusKm * rangeDegreesPerKm
	box := models.Bounds{
		Southwest: models.GeoPoint{Latitude: q.Center.Latitude - delta, Longitude: q.Center.Longitude - delta},
		Northeast: models.GeoPoint{Latitude: q.Center.Latitude + delta, Longitude: q.Center.Longitude + delta},
	}

	total, err := c.docs.CountInRange(ctx, box)
	if err != nil {
		return nil, err
	}
	rows, err := c.docs.FindInRange(ctx, box, q.skip(), int64(q.Limit))
	if err != nil {
		return nil, err
	}

	scored := make([]models.ScoredProperty, 0, len(rows))
	for _, p := range rows {
		scored = append(scored, models.ScoredProperty{
			Property:   p,
			DistanceKm: q.Center.DistanceTo(p.Location()),
		})
	}
	sortByDistance(scored)

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(q.Limit) - 1) / int64(q.Limit))
	}

	return &models.NearbyResult{
		Properties:  scored,
		TotalCount:  total,
		TotalPages:  totalPages,
		CurrentPage: q.Page,
		Metadata: models.QueryMetadata{
			QueryTimestamp: c.now(),
			Coordinates:    q.Center,
			RadiusKm:       q.RadiusKm,
			Limit:          q.Limit,
		},
	}, nil
}

// List возвращает страницу листинга с фиксированным размером страницы
func (c *Coordinator) List(ctx context.Context, page int) ([]models.Property, int64, error) {
	if page == 0 {
		page = 1
	}
	if page < 1 {
		return nil, 0, fmt.Errorf("%w: page %d", models.ErrInvalidPagination, page)
	}

	total, err := c.docs.CountAll(ctx)
	if err != nil {
		return nil, 0, err
	}

	size := int64(c.cfg.ListPageSize)
	rows, err := c.docs.FindPage(ctx, int64(page-1)*size, size)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListPageSize возвращает размер страницы листинга
func (c *Coordinator) ListPageSize() int {
	return c.cfg.ListPageSize
}

// GetByID возвращает объект по идентификатору
func (c *Coordinator) GetByID(ctx context.Context, id string) (*models.Property, error) {
	return c.docs.FindByID(ctx, id)
}

// Add валидирует и сохраняет объект, затем инвалидирует кеш вокруг него
func (c *Coordinator) Add(ctx context.Context, p *models.Property) (*models.Property, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	created, err := c.docs.Insert(ctx, p)
	if err != nil {
		return nil, err
	}

	c.invalidateAround(ctx, created.Latitude, created.Longitude)
	return created, nil
}

// invalidateAround сбрасывает кеш вокруг точки. Ошибка инвалидации не
// фатальна для родительской записи.
func (c *Coordinator) invalidateAround(ctx context.Context, lat, lng float64) {
	if _, err := c.cache.InvalidateRadius(ctx, lat, lng, addInvalidationRadiusKm); err != nil {
		c.logger.WithFields(logrus.Fields{
			"lat":   lat,
			"lng":   lng,
			"error": err,
		}).Warn("Cache invalidation failed after write")
		return
	}
	cell := geo.CellForRadius(lat, lng, addInvalidationRadiusKm)
	c.publish(models.CacheEventInvalidate, cell, addInvalidationRadiusKm, nil)
}

// Aggregate группирует объекты по настроенному полю локации с
// необязательными фильтрами равенства
func (c *Coordinator) Aggregate(ctx context.Context, filters map[string]string) ([]models.AggregateGroup, error) {
	return c.docs.AggregateByField(ctx, c.cfg.AggregateGroupField, filters, aggregateSetFields)
}

// CacheStats собирает сводку кеша и хранилища
func (c *Coordinator) CacheStats(ctx context.Context) (*models.CacheStats, error) {
	hits, _ := c.optimizer.Totals()

	buckets, totalKeys, err := c.cache.Counts(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := c.docs.CountAll(ctx)
	if err != nil {
		return nil, err
	}

	return &models.CacheStats{
		CacheHits:       hits,
		TotalDataCached: buckets,
		TotalKeys:       totalKeys,
		TotalDocuments:  docs,
	}, nil
}

// ClearCache полностью очищает кеш
func (c *Coordinator) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

// TopScored возвращает нагрузки ячеек с наибольшим скором
func (c *Coordinator) TopScored(ctx context.Context, limit int64) ([]cache.TopEntry, error) {
	return c.cache.TopN(ctx, limit)
}

// CleanupScores массово выселяет бакеты со скором не выше порога
func (c *Coordinator) CleanupScores(ctx context.Context, threshold float64) (int64, error) {
	return c.cache.CleanupBelow(ctx, threshold)
}

// Stop дожидается завершения фоновых прогревов
func (c *Coordinator) Stop() {
	c.warmWG.Wait()
}

func (c *Coordinator) publish(eventType, cell string, radiusKm float64, keys []string) {
	if c.events == nil {
		return
	}
	c.events.PublishCacheEvent(models.CacheEvent{
		Type:      eventType,
		Cell:      cell,
		RadiusKm:  radiusKm,
		Keys:      keys,
		Timestamp: c.now(),
	})
}
