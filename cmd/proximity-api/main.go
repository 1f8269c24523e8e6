// Команда proximity-api запускает HTTP API гео-кеша объектов недвижимости:
// хранилища, кеш-слой со score-индексом, WebSocket-хаб событий кеша и при
// включенном фиде MQTT-подписчик с пакетной записью в MySQL.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/cache"
	"github.com/geostay/proximity-backend/internal/config"
	"github.com/geostay/proximity-backend/internal/handler"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/mqtt"
	"github.com/geostay/proximity-backend/internal/repository"
	"github.com/geostay/proximity-backend/internal/scoring"
	"github.com/geostay/proximity-backend/internal/service"
	"github.com/geostay/proximity-backend/pkg/utils"
)

// Заполняются через ldflags при сборке
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := utils.NewLogger(config.LogLevel(), config.LogFormat())
	logger.WithFields(logrus.Fields{
		"version":     Version,
		"environment": cfg.Environment,
	}).Info("Starting proximity backend")

	metrics.SetAppInfo(Version, Commit, BuildTime)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kvStore, err := repository.NewRedisStore(&cfg.Redis, logger.WithField("component", "redis"))
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to create Redis store")
	}
	defer kvStore.Close()

	if err := kvStore.Ping(ctx); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to Redis")
	}
	metrics.RedisConnectionStatus.Set(1)
	logger.Info("Connected to Redis")

	docStore, err := repository.NewMySQLStore(&cfg.MySQL, logger.WithField("component", "mysql"))
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to create MySQL store")
	}
	defer docStore.Close()

	if err := docStore.Ping(ctx); err != nil {
		logger.WithField("error", err).Fatal("Failed to connect to MySQL")
	}
	metrics.MySQLConnectionStatus.Set(1)
	logger.Info("Connected to MySQL")

	scorer := scoring.NewScorer(cfg.Cache.BaseTTL)
	geoCache := cache.NewGeoCache(kvStore, scorer, logger.WithField("component", "cache"))
	optimizer := cache.NewOptimizer(
		geoCache,
		cfg.Cache.OptimizerSampleSize,
		cfg.Cache.OptimizerHitRateFloor,
		cfg.Cache.OptimizerReducedTTL,
		logger.WithField("component", "optimizer"),
	)

	hub := handler.NewHub(
		cfg.Performance.WebSocketPingInterval,
		cfg.Performance.WebSocketPongTimeout,
		logger.WithField("component", "websocket"),
	)

	coordinator := service.NewCoordinator(docStore, geoCache, scorer, optimizer, service.CoordinatorConfig{
		DefaultRadiusKm:     cfg.Geo.DefaultRadiusKm,
		MaxRadiusKm:         cfg.Geo.MaxRadiusKm,
		WarmingEnabled:      cfg.Cache.WarmingEnabled,
		WarmItemLimit:       cfg.Cache.WarmItemLimit,
		ListPageSize:        cfg.API.ListPageSize,
		AggregateGroupField: cfg.API.AggregateGroupField,
	}, logger.WithField("component", "service"), service.WithEventPublisher(hub))

	var (
		batchWriter *service.BatchWriter
		mqttClient  *mqtt.Client
	)
	if cfg.MQTT.Enabled {
		batchCfg := service.DefaultBatchConfig()
		batchCfg.BatchSize = cfg.Performance.MaxBatchSize
		batchCfg.FlushInterval = cfg.Performance.BatchTimeout

		batchWriter = service.NewBatchWriter(docStore, geoCache, batchCfg, logger.WithField("component", "batch"))

		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger.WithField("component", "mqtt"),
			func(update *models.PropertyUpdate) error {
				return batchWriter.Queue(&update.Property)
			})
		if err != nil {
			logger.WithField("error", err).Fatal("Failed to create MQTT client")
		}
		if err := mqttClient.Connect(); err != nil {
			logger.WithField("error", err).Fatal("Failed to connect to MQTT broker")
		}
		logger.WithField("topic", cfg.MQTT.Topic).Info("Subscribed to property feed")
	} else {
		logger.Info("MQTT feed disabled")
	}

	go runScoreReconciler(ctx, geoCache, cfg.Cache.ReconcileInterval, logger.WithField("component", "reconciler"))

	restHandler := handler.NewRESTHandler(coordinator, logger.WithField("component", "rest"))
	server := handler.NewServer(cfg, restHandler, hub, docStore, kvStore, logger.WithField("component", "http"))

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithField("error", err).Fatal("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Порядок остановки: сначала перестаем принимать запросы и сообщения
	// фида, затем сливаем очереди и закрываем фоновые контуры
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err).Error("HTTP server shutdown failed")
	}
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if batchWriter != nil {
		batchWriter.Stop()
	}
	coordinator.Stop()
	hub.Stop()

	logger.Info("Server stopped gracefully")
}

// runScoreReconciler периодически пересчитывает score-индекс, чтобы веса в
// нем не отставали от временного распада скорингов
func runScoreReconciler(ctx context.Context, geoCache *cache.GeoCache, interval time.Duration, logger *logrus.Entry) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, dropped, err := geoCache.RefreshScores(ctx)
			if err != nil {
				logger.WithField("error", err).Warn("Score reconciliation failed")
				continue
			}
			logger.WithFields(logrus.Fields{
				"updated": updated,
				"dropped": dropped,
			}).Debug("Score index reconciled")
		}
	}
}
