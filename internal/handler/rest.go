package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/cache"
	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/service"
	"github.com/geostay/proximity-backend/pkg/pool"
)

const defaultTopScoredLimit = 10

// Поля, по которым агрегация принимает фильтры равенства. Должны
// совпадать с whitelist MySQL-адаптера.
var aggregateFilterParams = []string{
	"neighbourhood",
	"city",
	"roomType",
	"propertyType",
	"cancellationPolicy",
	"hostIdentityVerified",
	"purpose",
}

// PropertyService операции координатора, которые обслуживает REST API
type PropertyService interface {
	Nearby(ctx context.Context, q service.NearbyQuery) (*models.NearbyResult, bool, error)
	CoordinateRange(ctx context.Context, q service.NearbyQuery) (*models.NearbyResult, error)
	List(ctx context.Context, page int) ([]models.Property, int64, error)
	ListPageSize() int
	GetByID(ctx context.Context, id string) (*models.Property, error)
	Add(ctx context.Context, p *models.Property) (*models.Property, error)
	Aggregate(ctx context.Context, filters map[string]string) ([]models.AggregateGroup, error)
	CacheStats(ctx context.Context) (*models.CacheStats, error)
	ClearCache(ctx context.Context) error
	TopScored(ctx context.Context, limit int64) ([]cache.TopEntry, error)
	CleanupScores(ctx context.Context, threshold float64) (int64, error)
}

var _ PropertyService = (*service.Coordinator)(nil)

// RESTHandler обработчик REST API endpoints
type RESTHandler struct {
	service PropertyService
	logger  *logrus.Entry
	timeout time.Duration
}

// NewRESTHandler создает новый REST handler
func NewRESTHandler(svc PropertyService, logger *logrus.Entry) *RESTHandler {
	return &RESTHandler{
		service: svc,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// GetNearby возвращает страницу объектов вокруг точки, отсортированную
// по релевантности
// GET /api/v1/properties/nearby?lat=40.71&lng=-74.00&radius=5
func (h *RESTHandler) GetNearby(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	q, ok := parseNearbyQuery(c)
	if !ok {
		return
	}

	result, fromCache, err := h.service.Nearby(ctx, q)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if fromCache {
		c.Header("X-Cache", "HIT")
	} else {
		c.Header("X-Cache", "MISS")
	}
	c.JSON(http.StatusOK, nearbyResponse(result))

	h.logger.WithFields(logrus.Fields{
		"lat":    q.Center.Latitude,
		"lng":    q.Center.Longitude,
		"radius": result.Metadata.RadiusKm,
		"items":  len(result.Properties),
		"cached": fromCache,
	}).Debug("Nearby request completed")
}

// GetCoordinateRange прямоугольная выборка по lat/lng диапазону.
// Оставлена для сравнения с geohash-путем, без кеша и скоринга
// GET /api/v1/properties/coordinate-range-indexing?lat=40.71&lng=-74.00&radius=5
func (h *RESTHandler) GetCoordinateRange(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	q, ok := parseNearbyQuery(c)
	if !ok {
		return
	}

	result, err := h.service.CoordinateRange(ctx, q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nearbyResponse(result))
}

// GetProperties возвращает страницу общего листинга
// GET /api/v1/properties?page=2
func (h *RESTHandler) GetProperties(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	page, ok := parseOptionalInt(c, "page")
	if !ok {
		return
	}
	if page == 0 {
		page = 1
	}

	rows, total, err := h.service.List(ctx, page)
	if err != nil {
		h.respondError(c, err)
		return
	}

	size := int64(h.service.ListPageSize())
	totalPages := 0
	if total > 0 && size > 0 {
		totalPages = int((total + size - 1) / size)
	}
	if rows == nil {
		rows = []models.Property{}
	}

	c.JSON(http.StatusOK, gin.H{
		"properties":  rows,
		"totalPages":  totalPages,
		"currentPage": page,
	})
}

// PostProperty создает объект и инвалидирует кеш вокруг него
// POST /api/v1/properties
func (h *RESTHandler) PostProperty(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var p models.Property
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "invalid_body", "Request body must be a property JSON object")
		return
	}

	created, err := h.service.Add(ctx, &p)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"id":  created.ID,
		"lat": created.Latitude,
		"lng": created.Longitude,
	}).Info("Property created")
	c.JSON(http.StatusCreated, created)
}

// GetProperty возвращает объект по идентификатору
// GET /api/v1/properties/get-property/:id
func (h *RESTHandler) GetProperty(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	p, err := h.service.GetByID(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetAggregate возвращает сводку по локациям, отсортированную по числу
// объектов
// GET /api/v1/properties/aggregate?purpose=for-rent
func (h *RESTHandler) GetAggregate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	// Map фильтров берется из пула; адаптеры не удерживают его после
	// возврата из Aggregate
	filters := pool.Global.GetStringMap()
	defer pool.Global.PutStringMap(filters)
	for _, name := range aggregateFilterParams {
		if v := c.Query(name); v != "" {
			filters[name] = v
		}
	}

	groups, err := h.service.Aggregate(ctx, filters)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if groups == nil {
		groups = []models.AggregateGroup{}
	}
	c.JSON(http.StatusOK, groups)
}

// GetCacheStats возвращает счетчики кеша и хранилища
// GET /api/v1/properties/cacheStats
func (h *RESTHandler) GetCacheStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	stats, err := h.service.CacheStats(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ClearCache полностью очищает кеш
// DELETE /api/v1/properties/clear-cache
func (h *RESTHandler) ClearCache(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	if err := h.service.ClearCache(ctx); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Cache cleared by request")
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Cache cleared",
	})
}

// GetTopScored возвращает содержимое ячеек с наивысшим скором
// GET /api/v1/properties/top-scored?limit=5
func (h *RESTHandler) GetTopScored(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	limit, ok := parseOptionalInt(c, "limit")
	if !ok {
		return
	}
	if limit <= 0 {
		limit = defaultTopScoredLimit
	}

	entries, err := h.service.TopScored(ctx, int64(limit))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if entries == nil {
		entries = []cache.TopEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// CleanupScores удаляет все ячейки со скором не выше порога
// DELETE /api/v1/properties/cleanup-scores?threshold=0.2
func (h *RESTHandler) CleanupScores(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	threshold, err := strconv.ParseFloat(c.Query("threshold"), 64)
	if err != nil {
		badRequest(c, "invalid_threshold", "threshold must be a number")
		return
	}

	deleted, err := h.service.CleanupScores(ctx, threshold)
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"threshold": threshold,
		"deleted":   deleted,
	}).Info("Score cleanup completed")
	c.JSON(http.StatusOK, gin.H{
		"deleted":   deleted,
		"threshold": threshold,
	})
}

// nearbyResponse собирает ответ nearby и coordinate-range endpoints
func nearbyResponse(result *models.NearbyResult) gin.H {
	properties := result.Properties
	if properties == nil {
		properties = []models.ScoredProperty{}
	}
	return gin.H{
		"properties":  properties,
		"totalCount":  result.TotalCount,
		"totalPages":  result.TotalPages,
		"currentPage": result.CurrentPage,
		"hasMore":     result.HasMore(),
		"metadata":    result.Metadata,
	}
}

// respondError переводит ошибки сервисного слоя в HTTP статусы
func (h *RESTHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidCoordinate):
		badRequest(c, "invalid_coordinates", err.Error())
	case errors.Is(err, models.ErrInvalidRadius):
		badRequest(c, "invalid_radius", err.Error())
	case errors.Is(err, models.ErrInvalidPagination):
		badRequest(c, "invalid_pagination", err.Error())
	case errors.Is(err, models.ErrInvalidProperty):
		badRequest(c, "invalid_property", err.Error())
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrUpstreamKV):
		h.logger.WithField("error", err).Error("Cache backend unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "cache_unavailable",
			"message": "Cache backend is unavailable",
		})
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.WithField("error", err).Error("Upstream store timed out")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "upstream_timeout",
			"message": "Upstream store timed out",
		})
	default:
		h.logger.WithField("error", err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Internal server error",
		})
	}
}
