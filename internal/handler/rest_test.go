package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geostay/proximity-backend/internal/cache"
	"github.com/geostay/proximity-backend/internal/config"
	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/service"
)

// stubService подменяет координатор в тестах REST-слоя. Незаданные
// функции возвращают пустые результаты.
type stubService struct {
	nearbyFn    func(q service.NearbyQuery) (*models.NearbyResult, bool, error)
	rangeFn     func(q service.NearbyQuery) (*models.NearbyResult, error)
	listFn      func(page int) ([]models.Property, int64, error)
	pageSize    int
	getFn       func(id string) (*models.Property, error)
	addFn       func(p *models.Property) (*models.Property, error)
	aggregateFn func(filters map[string]string) ([]models.AggregateGroup, error)
	statsFn     func() (*models.CacheStats, error)
	clearCalled bool
	topFn       func(limit int64) ([]cache.TopEntry, error)
	cleanupFn   func(threshold float64) (int64, error)
}

var _ PropertyService = (*stubService)(nil)

func (s *stubService) Nearby(_ context.Context, q service.NearbyQuery) (*models.NearbyResult, bool, error) {
	if s.nearbyFn == nil {
		return &models.NearbyResult{}, false, nil
	}
	return s.nearbyFn(q)
}

func (s *stubService) CoordinateRange(_ context.Context, q service.NearbyQuery) (*models.NearbyResult, error) {
	if s.rangeFn == nil {
		return &models.NearbyResult{}, nil
	}
	return s.rangeFn(q)
}

func (s *stubService) List(_ context.Context, page int) ([]models.Property, int64, error) {
	if s.listFn == nil {
		return nil, 0, nil
	}
	return s.listFn(page)
}

func (s *stubService) ListPageSize() int {
	if s.pageSize == 0 {
		return 20
	}
	return s.pageSize
}

func (s *stubService) GetByID(_ context.Context, id string) (*models.Property, error) {
	if s.getFn == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	return s.getFn(id)
}

func (s *stubService) Add(_ context.Context, p *models.Property) (*models.Property, error) {
	if s.addFn == nil {
		return p, nil
	}
	return s.addFn(p)
}

func (s *stubService) Aggregate(_ context.Context, filters map[string]string) ([]models.AggregateGroup, error) {
	if s.aggregateFn == nil {
		return nil, nil
	}
	return s.aggregateFn(filters)
}

func (s *stubService) CacheStats(context.Context) (*models.CacheStats, error) {
	if s.statsFn == nil {
		return &models.CacheStats{}, nil
	}
	return s.statsFn()
}

func (s *stubService) ClearCache(context.Context) error {
	s.clearCalled = true
	return nil
}

func (s *stubService) TopScored(_ context.Context, limit int64) ([]cache.TopEntry, error) {
	if s.topFn == nil {
		return nil, nil
	}
	return s.topFn(limit)
}

func (s *stubService) CleanupScores(_ context.Context, threshold float64) (int64, error) {
	if s.cleanupFn == nil {
		return 0, nil
	}
	return s.cleanupFn(threshold)
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Address: ":0"},
		Performance: config.PerformanceConfig{RateLimitPerMinute: 60000},
		Monitoring:  config.MonitoringConfig{MetricsEnabled: false},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, svc PropertyService) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "http-test")
	return NewServer(cfg, NewRESTHandler(svc, entry), nil, nil, nil, entry)
}

func doRequest(srv *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	srv.Router().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestGetNearbyParsesQueryAndSetsCacheHeader(t *testing.T) {
	var captured service.NearbyQuery
	svc := &stubService{
		nearbyFn: func(q service.NearbyQuery) (*models.NearbyResult, bool, error) {
			captured = q
			return &models.NearbyResult{
				Properties: []models.ScoredProperty{
					{Property: models.Property{ID: "p1"}, DistanceKm: 0.4, Relevance: 0.9},
					{Property: models.Property{ID: "p2"}, DistanceKm: 1.1, Relevance: 0.5},
				},
				TotalCount:  12,
				TotalPages:  3,
				CurrentPage: 2,
				Metadata: models.QueryMetadata{
					QueryTimestamp: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
					Coordinates:    q.Center,
					RadiusKm:       2.5,
					Limit:          5,
				},
			}, true, nil
		},
	}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet,
		"/api/v1/properties/nearby?lat=40.7128&lng=-74.0060&radius=2.5&page=2&limit=5&maxPrice=300&preferredLocations=brooklyn,%20harlem&preferredTypes=apartment", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))

	assert.InDelta(t, 40.7128, captured.Center.Latitude, 1e-9)
	assert.InDelta(t, -74.0060, captured.Center.Longitude, 1e-9)
	assert.InDelta(t, 2.5, captured.RadiusKm, 1e-9)
	assert.Equal(t, 2, captured.Page)
	assert.Equal(t, 5, captured.Limit)
	require.NotNil(t, captured.Prefs)
	assert.InDelta(t, 300.0, captured.Prefs.MaxPrice, 1e-9)
	assert.Equal(t, []string{"brooklyn", "harlem"}, captured.Prefs.PreferredLocations)
	assert.Equal(t, []string{"apartment"}, captured.Prefs.PreferredTypes)

	body := decodeBody(t, w)
	assert.EqualValues(t, 12, body["totalCount"])
	assert.EqualValues(t, 2, body["currentPage"])
	assert.Equal(t, true, body["hasMore"])
	assert.Len(t, body["properties"], 2)
}

func TestGetNearbyDistinguishesZeroRadiusFromOmitted(t *testing.T) {
	var captured service.NearbyQuery
	svc := &stubService{nearbyFn: func(q service.NearbyQuery) (*models.NearbyResult, bool, error) {
		captured = q
		return &models.NearbyResult{}, false, nil
	}}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet, "/api/v1/properties/nearby?lat=40.7&lng=-74&radius=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, captured.RadiusSet)
	assert.Zero(t, captured.RadiusKm)

	// Без параметра флаг не взводится, сервис подставит дефолт
	w = doRequest(srv, http.MethodGet, "/api/v1/properties/nearby?lat=40.7&lng=-74", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, captured.RadiusSet)
}

func TestGetNearbyRejectsMalformedParams(t *testing.T) {
	tests := []struct {
		name   string
		target string
		code   string
	}{
		{"missing lat", "/api/v1/properties/nearby?lng=-74", "invalid_latitude"},
		{"garbage lat", "/api/v1/properties/nearby?lat=abc&lng=-74", "invalid_latitude"},
		{"garbage lng", "/api/v1/properties/nearby?lat=40.7&lng=east", "invalid_longitude"},
		{"garbage radius", "/api/v1/properties/nearby?lat=40.7&lng=-74&radius=wide", "invalid_radius"},
		{"fractional page", "/api/v1/properties/nearby?lat=40.7&lng=-74&page=1.5", "invalid_page"},
		{"garbage limit", "/api/v1/properties/nearby?lat=40.7&lng=-74&limit=many", "invalid_limit"},
		{"negative maxPrice", "/api/v1/properties/nearby?lat=40.7&lng=-74&maxPrice=-10", "invalid_maxPrice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &stubService{nearbyFn: func(service.NearbyQuery) (*models.NearbyResult, bool, error) {
				called = true
				return &models.NearbyResult{}, false, nil
			}}
			srv := newTestServer(t, testConfig(), svc)

			w := doRequest(srv, http.MethodGet, tt.target, nil)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decodeBody(t, w)["code"])
			assert.False(t, called)
		})
	}
}

func TestGetNearbyMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"coordinates", fmt.Errorf("%w: latitude 91", models.ErrInvalidCoordinate), http.StatusBadRequest, "invalid_coordinates"},
		{"radius", fmt.Errorf("%w: -1", models.ErrInvalidRadius), http.StatusBadRequest, "invalid_radius"},
		{"pagination", fmt.Errorf("%w: limit 1001", models.ErrInvalidPagination), http.StatusBadRequest, "invalid_pagination"},
		{"kv down", fmt.Errorf("%w: connection refused", models.ErrUpstreamKV), http.StatusServiceUnavailable, "cache_unavailable"},
		{"doc down", fmt.Errorf("%w: gone away", models.ErrUpstreamDoc), http.StatusInternalServerError, "internal_error"},
		{"doc timeout", fmt.Errorf("%w: geo_near: %w", models.ErrUpstreamDoc, context.DeadlineExceeded), http.StatusServiceUnavailable, "upstream_timeout"},
		{"bare deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "upstream_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{nearbyFn: func(service.NearbyQuery) (*models.NearbyResult, bool, error) {
				return nil, false, tt.err
			}}
			srv := newTestServer(t, testConfig(), svc)

			w := doRequest(srv, http.MethodGet, "/api/v1/properties/nearby?lat=40.7&lng=-74", nil)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeBody(t, w)["code"])
		})
	}
}

func TestGetCoordinateRangeSharesResponseShape(t *testing.T) {
	svc := &stubService{rangeFn: func(q service.NearbyQuery) (*models.NearbyResult, error) {
		return &models.NearbyResult{
			Properties:  []models.ScoredProperty{{Property: models.Property{ID: "p1"}, DistanceKm: 2}},
			TotalCount:  1,
			TotalPages:  1,
			CurrentPage: 1,
		}, nil
	}}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet, "/api/v1/properties/coordinate-range-indexing?lat=40.7&lng=-74&radius=5", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Cache"))

	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["totalCount"])
	assert.Equal(t, false, body["hasMore"])
}

func TestGetPropertiesComputesTotalPages(t *testing.T) {
	var captured int
	svc := &stubService{
		listFn: func(page int) ([]models.Property, int64, error) {
			captured = page
			return []models.Property{{ID: "p1"}}, 45, nil
		},
		pageSize: 20,
	}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet, "/api/v1/properties?page=2", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, captured)

	body := decodeBody(t, w)
	assert.EqualValues(t, 3, body["totalPages"])
	assert.EqualValues(t, 2, body["currentPage"])

	// Без параметра страницы подставляется первая
	w = doRequest(srv, http.MethodGet, "/api/v1/properties", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, captured)
}

func TestPostProperty(t *testing.T) {
	svc := &stubService{addFn: func(p *models.Property) (*models.Property, error) {
		created := *p
		created.ID = "generated-id"
		return &created, nil
	}}
	srv := newTestServer(t, testConfig(), svc)

	body := `{"name":"Loft","latitude":40.7128,"longitude":-74.0060,"price":120,"purpose":"for-rent"}`
	w := doRequest(srv, http.MethodPost, "/api/v1/properties", strings.NewReader(body))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "generated-id", decodeBody(t, w)["id"])
}

func TestPostPropertyRejectsBadInput(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		srv := newTestServer(t, testConfig(), &stubService{})
		w := doRequest(srv, http.MethodPost, "/api/v1/properties", strings.NewReader("{broken"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_body", decodeBody(t, w)["code"])
	})

	t.Run("validation failure", func(t *testing.T) {
		svc := &stubService{addFn: func(*models.Property) (*models.Property, error) {
			return nil, fmt.Errorf("%w: name is required", models.ErrInvalidProperty)
		}}
		srv := newTestServer(t, testConfig(), svc)
		w := doRequest(srv, http.MethodPost, "/api/v1/properties", strings.NewReader(`{"latitude":40.7,"longitude":-74}`))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_property", decodeBody(t, w)["code"])
	})
}

func TestGetProperty(t *testing.T) {
	svc := &stubService{getFn: func(id string) (*models.Property, error) {
		if id == "p1" {
			return &models.Property{ID: "p1", Name: "Loft"}, nil
		}
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet, "/api/v1/properties/get-property/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Loft", decodeBody(t, w)["name"])

	w = doRequest(srv, http.MethodGet, "/api/v1/properties/get-property/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody(t, w)["code"])
}

func TestGetAggregateForwardsKnownFilters(t *testing.T) {
	var captured map[string]string
	svc := &stubService{aggregateFn: func(filters map[string]string) ([]models.AggregateGroup, error) {
		captured = filters
		return []models.AggregateGroup{{Locality: "Brooklyn", TotalCount: 120}}, nil
	}}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet, "/api/v1/properties/aggregate?purpose=for-rent&roomType=Entire+home&bogus=1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"purpose": "for-rent", "roomType": "Entire home"}, captured)

	var groups []models.AggregateGroup
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, "Brooklyn", groups[0].Locality)

	// Map фильтров переиспользуется из пула: прошлые фильтры не
	// протекают в следующий запрос
	w = doRequest(srv, http.MethodGet, "/api/v1/properties/aggregate?city=Brooklyn", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]string{"city": "Brooklyn"}, captured)
}

func TestGetCacheStats(t *testing.T) {
	svc := &stubService{statsFn: func() (*models.CacheStats, error) {
		return &models.CacheStats{CacheHits: 7, TotalDataCached: 3, TotalKeys: 4, TotalDocuments: 100}, nil
	}}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet, "/api/v1/properties/cacheStats", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 7, body["cacheHits"])
	assert.EqualValues(t, 3, body["totalDataCached"])
	assert.EqualValues(t, 4, body["totalKeys"])
	assert.EqualValues(t, 100, body["totalDocuments"])
}

func TestClearCache(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodDelete, "/api/v1/properties/clear-cache", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.clearCalled)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestGetTopScored(t *testing.T) {
	var captured int64
	svc := &stubService{topFn: func(limit int64) ([]cache.TopEntry, error) {
		captured = limit
		return []cache.TopEntry{{Key: "geo:dr5reg:5", Score: 0.97, Data: json.RawMessage(`{"totalCount":3}`)}}, nil
	}}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodGet, "/api/v1/properties/top-scored", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, defaultTopScoredLimit, captured)
	body := decodeBody(t, w)
	assert.EqualValues(t, 1, body["count"])

	w = doRequest(srv, http.MethodGet, "/api/v1/properties/top-scored?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, captured)
}

func TestCleanupScores(t *testing.T) {
	var captured float64
	svc := &stubService{cleanupFn: func(threshold float64) (int64, error) {
		captured = threshold
		return 4, nil
	}}
	srv := newTestServer(t, testConfig(), svc)

	w := doRequest(srv, http.MethodDelete, "/api/v1/properties/cleanup-scores?threshold=0.25", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 0.25, captured, 1e-9)
	assert.EqualValues(t, 4, decodeBody(t, w)["deleted"])

	w = doRequest(srv, http.MethodDelete, "/api/v1/properties/cleanup-scores", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_threshold", decodeBody(t, w)["code"])
}

func TestAPIKeyGuardsAPI(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.APIKey = "sekret"
	srv := newTestServer(t, cfg, &stubService{})

	w := doRequest(srv, http.MethodGet, "/api/v1/properties", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/properties", nil)
	req.Header.Set("X-API-Key", "sekret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health остается открытым
	w = doRequest(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	cfg := testConfig()
	// 60 в минуту дает burst 10
	cfg.Performance.RateLimitPerMinute = 60
	srv := newTestServer(t, cfg, &stubService{})

	var last int
	limited := 0
	for i := 0; i < 12; i++ {
		w := doRequest(srv, http.MethodGet, "/api/v1/properties", nil)
		last = w.Code
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.Equal(t, 2, limited)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReportsComponentState(t *testing.T) {
	up := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return fmt.Errorf("connection refused") })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "http-test")

	srv := NewServer(testConfig(), NewRESTHandler(&stubService{}, entry), nil, up, down, entry)

	w := doRequest(srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "degraded", body["status"])

	components, ok := body["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "up", components["mysql"])
	assert.Equal(t, "down", components["redis"])
}
