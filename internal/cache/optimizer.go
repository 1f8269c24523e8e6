package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/metrics"
)

const (
	// Число шардов счетчиков, степень двойки
	optimizerShards = 64

	// Дедлайн фоновой корректировки TTL
	shortenTimeout = 5 * time.Second
)

// Дефолты оптимизатора
const (
	DefaultSampleSize   = 100
	DefaultHitRateFloor = 0.3
	DefaultReducedTTL   = 30 * time.Minute
)

// ttlAdjuster часть кеша, нужная оптимизатору
type ttlAdjuster interface {
	ShortenCellTTL(ctx context.Context, cell string, ttl time.Duration) (int, error)
}

type cellCounters struct {
	hits   int
	misses int
}

type counterShard struct {
	mu    sync.Mutex
	cells map[string]*cellCounters
}

// Optimizer следит за попаданиями и промахами по ячейкам. Когда ячейка
// набирает выборку и ее hit ratio ниже порога, TTL всех бакетов ячейки
// укорачивается в фоне, счетчики сбрасываются.
type Optimizer struct {
	cache        ttlAdjuster
	logger       *logrus.Entry
	sampleSize   int
	hitRateFloor float64
	reducedTTL   time.Duration

	shards [optimizerShards]counterShard

	totalHits   atomic.Int64
	totalMisses atomic.Int64
}

// NewOptimizer создает оптимизатор. Нулевые параметры заменяются дефолтами.
func NewOptimizer(cache ttlAdjuster, sampleSize int, hitRateFloor float64, reducedTTL time.Duration, logger *logrus.Entry) *Optimizer {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	if hitRateFloor <= 0 || hitRateFloor >= 1 {
		hitRateFloor = DefaultHitRateFloor
	}
	if reducedTTL <= 0 {
		reducedTTL = DefaultReducedTTL
	}

	o := &Optimizer{
		cache:        cache,
		logger:       logger,
		sampleSize:   sampleSize,
		hitRateFloor: hitRateFloor,
		reducedTTL:   reducedTTL,
	}
	for i := range o.shards {
		o.shards[i].cells = make(map[string]*cellCounters)
	}
	return o
}

// RecordHit учитывает попадание по ячейке
func (o *Optimizer) RecordHit(cell string) {
	o.totalHits.Add(1)
	o.record(cell, true)
}

// RecordMiss учитывает промах по ячейке
func (o *Optimizer) RecordMiss(cell string) {
	o.totalMisses.Add(1)
	o.record(cell, false)
}

// Totals возвращает счетчики за время жизни процесса
func (o *Optimizer) Totals() (int64, int64) {
	return o.totalHits.Load(), o.totalMisses.Load()
}

func (o *Optimizer) record(cell string, hit bool) {
	shard := &o.shards[xxhash.Sum64String(cell)&(optimizerShards-1)]

	shard.mu.Lock()
	counters := shard.cells[cell]
	if counters == nil {
		counters = &cellCounters{}
		shard.cells[cell] = counters
	}
	if hit {
		counters.hits++
	} else {
		counters.misses++
	}

	total := counters.hits + counters.misses
	if total < o.sampleSize {
		shard.mu.Unlock()
		return
	}

	// Выборка набрана: решаем под локом, корректируем вне его
	ratio := float64(counters.hits) / float64(total)
	counters.hits, counters.misses = 0, 0
	shard.mu.Unlock()

	if ratio < o.hitRateFloor {
		go o.shorten(cell, ratio)
	}
}

func (o *Optimizer) shorten(cell string, ratio float64) {
	ctx, cancel := context.WithTimeout(context.Background(), shortenTimeout)
	defer cancel()

	adjusted, err := o.cache.ShortenCellTTL(ctx, cell, o.reducedTTL)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"cell":  cell,
			"error": err,
		}).Warn("Failed to shorten cell TTL")
		return
	}

	metrics.CacheTTLAdjustmentsTotal.Inc()
	o.logger.WithFields(logrus.Fields{
		"cell":      cell,
		"hit_ratio": ratio,
		"adjusted":  adjusted,
	}).Info("Shortened cell TTL after low hit ratio")
}
