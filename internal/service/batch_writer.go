package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/geo"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
	"github.com/geostay/proximity-backend/internal/repository"
)

// Дедлайн сброса одного батча вместе с инвалидацией
const flushTimeout = 10 * time.Second

// radiusInvalidator часть кеша, нужная batch-писателю
type radiusInvalidator interface {
	InvalidateRadius(ctx context.Context, lat, lng, radiusKm float64) (int64, error)
}

// BatchWriter асинхронный писатель фида обновлений: копит объекты и
// сбрасывает их в хранилище батчами по размеру или по таймеру. Каждый
// записанный объект инвалидирует кеш своей окрестности.
type BatchWriter struct {
	docs   repository.DocStore
	cache  radiusInvalidator
	logger *logrus.Entry
	config *BatchConfig

	queue  chan *models.Property
	buffer []*models.Property

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// BatchConfig конфигурация batch-писателя
type BatchConfig struct {
	BatchSize     int           // размер батча
	FlushInterval time.Duration // интервал принудительного сброса
	ChannelBuffer int           // размер буфера очереди
	MaxRetries    int           // максимум повторов
	RetryDelay    time.Duration // задержка между повторами
}

// DefaultBatchConfig возвращает конфигурацию по умолчанию
func DefaultBatchConfig() *BatchConfig {
	return &BatchConfig{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		ChannelBuffer: 1000,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// NewBatchWriter создает писатель и запускает его worker
func NewBatchWriter(docs repository.DocStore, cache radiusInvalidator, config *BatchConfig, logger *logrus.Entry) *BatchWriter {
	if config == nil {
		config = DefaultBatchConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	bw := &BatchWriter{
		docs:   docs,
		cache:  cache,
		logger: logger,
		config: config,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *models.Property, config.ChannelBuffer),
		buffer: make([]*models.Property, 0, config.BatchSize),
	}

	bw.wg.Add(1)
	go bw.worker()

	logger.WithFields(logrus.Fields{
		"batch_size":     config.BatchSize,
		"flush_interval": config.FlushInterval,
	}).Info("Started property batch writer")

	return bw
}

// Queue ставит объект в очередь на запись
func (bw *BatchWriter) Queue(p *models.Property) error {
	select {
	case bw.queue <- p:
		metrics.BatchQueueSize.Set(float64(len(bw.queue)))
		return nil
	case <-bw.ctx.Done():
		return fmt.Errorf("batch writer is shutting down")
	default:
		return fmt.Errorf("property queue is full")
	}
}

// Flush принудительно сбрасывает буфер
func (bw *BatchWriter) Flush() error {
	select {
	case bw.queue <- nil:
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("timeout requesting batch flush")
	}
}

// Stop останавливает писатель, выгребая очередь и сбрасывая остаток
func (bw *BatchWriter) Stop() {
	bw.logger.Info("Stopping property batch writer")
	bw.cancel()
	bw.wg.Wait()
	bw.logger.Info("Property batch writer stopped")
}

func (bw *BatchWriter) worker() {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case p := <-bw.queue:
			// nil служит запросом принудительного сброса
			if p == nil {
				bw.flush()
				continue
			}
			bw.buffer = append(bw.buffer, p)
			if len(bw.buffer) >= bw.config.BatchSize {
				bw.flush()
			}

		case <-ticker.C:
			if len(bw.buffer) > 0 {
				bw.flush()
			}

		case <-bw.ctx.Done():
			bw.drain()
			return
		}
	}
}

// drain после остановки выгребает очередь и сбрасывает остаток
func (bw *BatchWriter) drain() {
	for {
		select {
		case p := <-bw.queue:
			if p != nil {
				bw.buffer = append(bw.buffer, p)
			}
		default:
			bw.flush()
			return
		}
	}
}

// flush пишет накопленный буфер одним батчем. Работает на собственном
// контексте, чтобы финальный сброс при остановке дошел до хранилища.
func (bw *BatchWriter) flush() {
	if len(bw.buffer) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	start := time.Now()
	batch := make([]*models.Property, len(bw.buffer))
	copy(batch, bw.buffer)
	bw.buffer = bw.buffer[:0]

	var stored int
	err := bw.retry(func() error {
		n, err := bw.docs.InsertBatch(ctx, batch)
		stored = n
		return err
	})

	duration := time.Since(start)
	metrics.BatchSize.Observe(float64(len(batch)))
	metrics.BatchQueueSize.Set(float64(len(bw.queue)))

	if err != nil {
		metrics.BatchesTotal.WithLabelValues("error").Inc()
		bw.logger.WithFields(logrus.Fields{
			"batch_size": len(batch),
			"duration":   duration,
			"error":      err,
		}).Error("Failed to flush property batch")
		return
	}

	metrics.BatchesTotal.WithLabelValues("ok").Inc()
	bw.logger.WithFields(logrus.Fields{
		"batch_size": len(batch),
		"stored":     stored,
		"duration":   duration,
	}).Debug("Flushed property batch")

	bw.invalidate(ctx, batch)
}

// invalidate сбрасывает кеш вокруг записанных объектов. Объекты одной
// ячейки схлопываются в одну инвалидацию.
func (bw *BatchWriter) invalidate(ctx context.Context, batch []*models.Property) {
	seen := make(map[string]struct{}, len(batch))
	for _, p := range batch {
		cell := geo.CellForRadius(p.Latitude, p.Longitude, addInvalidationRadiusKm)
		if _, ok := seen[cell]; ok {
			continue
		}
		seen[cell] = struct{}{}

		if _, err := bw.cache.InvalidateRadius(ctx, p.Latitude, p.Longitude, addInvalidationRadiusKm); err != nil {
			bw.logger.WithFields(logrus.Fields{
				"cell":  cell,
				"error": err,
			}).Warn("Cache invalidation failed after batch write")
		}
	}
}

// retry выполняет операцию с нарастающей задержкой между повторами
func (bw *BatchWriter) retry(operation func() error) error {
	var lastErr error

	for attempt := 0; attempt <= bw.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bw.config.RetryDelay * time.Duration(attempt)):
			case <-bw.ctx.Done():
				return lastErr
			}
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		bw.logger.WithFields(logrus.Fields{
			"attempt":     attempt + 1,
			"max_retries": bw.config.MaxRetries,
			"error":       lastErr,
		}).Warn("Batch insert failed, retrying")
	}

	return fmt.Errorf("batch insert failed after %d retries: %w", bw.config.MaxRetries, lastErr)
}
