package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/geostay/proximity-backend/internal/auth"
	"github.com/geostay/proximity-backend/internal/config"
	"github.com/geostay/proximity-backend/internal/metrics"
)

// Pinger прозванивает нижележащее хранилище для health check
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server HTTP сервер
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *logrus.Entry
	config     *config.Config
	rest       *RESTHandler
	hub        *Hub
}

// NewServer создает HTTP сервер с middleware и маршрутами. hub может
// быть nil, тогда WebSocket endpoint не регистрируется.
func NewServer(cfg *config.Config, rest *RESTHandler, hub *Hub, doc, kv Pinger, logger *logrus.Entry) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(LoggerMiddleware(logger))
	router.Use(gin.Recovery())
	router.Use(CORSMiddleware())
	if cfg.Monitoring.MetricsEnabled {
		router.Use(metrics.HTTPMetricsMiddleware())
	}

	server := &Server{
		router: router,
		logger: logger,
		config: cfg,
		rest:   rest,
		hub:    hub,
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.setupRoutes(doc, kv)
	return server
}

func (s *Server) setupRoutes(doc, kv Pinger) {
	s.router.GET("/health", s.healthCheck(doc, kv))
	if s.config.Monitoring.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	v1.Use(auth.Middleware(s.config.Auth.APIKey, s.logger))
	v1.Use(RateLimitMiddleware(s.config.Performance.RateLimitPerMinute))
	{
		props := v1.Group("/properties")
		props.GET("", s.rest.GetProperties)
		props.POST("", s.rest.PostProperty)
		props.GET("/nearby", s.rest.GetNearby)
		props.GET("/coordinate-range-indexing", s.rest.GetCoordinateRange)
		props.GET("/get-property/:id", s.rest.GetProperty)
		props.GET("/aggregate", s.rest.GetAggregate)
		props.GET("/cacheStats", s.rest.GetCacheStats)
		props.DELETE("/clear-cache", s.rest.ClearCache)
		props.GET("/top-scored", s.rest.GetTopScored)
		props.DELETE("/cleanup-scores", s.rest.CleanupScores)
	}

	if s.hub != nil {
		s.router.GET("/ws/events", s.hub.ServeWS)
	}
}

// Router отдает роутер, для тестов
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address": s.config.Server.Address,
		"mode":    gin.Mode(),
	}).Info("Starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown корректное завершение сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// healthCheck прозванивает MySQL и Redis, обновляя gauge-метрики
// состояния подключений
func (s *Server) healthCheck(doc, kv Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		components := gin.H{}

		if doc != nil {
			if err := doc.Ping(ctx); err != nil {
				components["mysql"] = "down"
				metrics.MySQLConnectionStatus.Set(0)
				status = http.StatusServiceUnavailable
			} else {
				components["mysql"] = "up"
				metrics.MySQLConnectionStatus.Set(1)
			}
		}
		if kv != nil {
			if err := kv.Ping(ctx); err != nil {
				components["redis"] = "down"
				metrics.RedisConnectionStatus.Set(0)
				status = http.StatusServiceUnavailable
			} else {
				components["redis"] = "up"
				metrics.RedisConnectionStatus.Set(1)
			}
		}

		body := gin.H{
			"status":     "ok",
			"components": components,
			"timestamp":  time.Now().Unix(),
		}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	}
}

// LoggerMiddleware логирование запросов
func LoggerMiddleware(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}).Info("HTTP request completed")
	}
}

// CORSMiddleware настройка CORS
func CORSMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{"Content-Length", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware ограничение частоты запросов с отдельным лимитером
// на клиента. Идентичность клиента определяет auth middleware.
func RateLimitMiddleware(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		perMinute = 100
	}
	limit := rate.Limit(float64(perMinute) / 60.0)
	burst := perMinute / 6
	if burst < 5 {
		burst = 5
	}

	var mu sync.Mutex
	clients := make(map[string]*clientLimiter)

	// Уборка лимитеров клиентов, не появлявшихся 10 минут
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			for id, cl := range clients {
				if time.Since(cl.lastSeen) > 10*time.Minute {
					delete(clients, id)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		id := auth.ClientID(c)

		mu.Lock()
		cl, ok := clients[id]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(limit, burst)}
			clients[id] = cl
		}
		cl.lastSeen = time.Now()
		mu.Unlock()

		if !cl.limiter.Allow() {
			metrics.RateLimitedTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limit_exceeded",
				"message": "Too many requests",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
