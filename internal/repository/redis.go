package repository

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/geostay/proximity-backend/internal/config"
	"github.com/geostay/proximity-backend/internal/metrics"
	"github.com/geostay/proximity-backend/internal/models"
)

// Количество ключей на итерацию SCAN
const scanBatchSize = 100

// RedisStore реализация KVStore поверх Redis
type RedisStore struct {
	client    *redis.Client
	logger    *logrus.Entry
	opTimeout time.Duration
}

// NewRedisStore создает Redis-хранилище
func NewRedisStore(cfg *config.RedisConfig, logger *logrus.Entry) (*RedisStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Дополнительные настройки поверх URL
	opt.Password = cfg.Password
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return &RedisStore{
		client:    redis.NewClient(opt),
		logger:    logger,
		opTimeout: cfg.OpTimeout,
	}, nil
}

// NewRedisStoreWithClient оборачивает готовый клиент (для тестов с miniredis)
func NewRedisStoreWithClient(client *redis.Client, logger *logrus.Entry, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = 500 * time.Millisecond
	}
	return &RedisStore{
		client:    client,
		logger:    logger,
		opTimeout: opTimeout,
	}
}

// Ping проверяет соединение с Redis
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// opCtx навешивает короткий дедлайн KV-операции поверх контекста запроса
func (r *RedisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

func (r *RedisStore) observe(op string, start time.Time) {
	metrics.KVOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func kvError(op, key string, err error) error {
	metrics.KVOperationErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s %q: %w", models.ErrUpstreamKV, op, key, err)
}

// Get возвращает значение ключа или (nil, nil), если ключа нет
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	val, err := r.client.Get(ctx, key).Bytes()
	r.observe("get", start)

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, kvError("get", key, err)
	}
	return val, nil
}

// SetWithTTL записывает значение с заданным TTL
func (r *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := r.client.Set(ctx, key, value, ttl).Err()
	r.observe("set", start)

	if err != nil {
		return kvError("set", key, err)
	}
	return nil
}

// SetNX записывает значение, только если ключа еще нет
func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	r.observe("setnx", start)

	if err != nil {
		return false, kvError("setnx", key, err)
	}
	return ok, nil
}

// Del удаляет ключи и возвращает количество удаленных
func (r *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	n, err := r.client.Del(ctx, keys...).Result()
	r.observe("del", start)

	if err != nil {
		return n, kvError("del", keys[0], err)
	}
	return n, nil
}

// Scan возвращает все ключи по шаблону через курсорный SCAN
func (r *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	defer r.observe("scan", start)

	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, kvError("scan", pattern, err)
	}
	return keys, nil
}

// Type возвращает тип значения ключа ("none" для отсутствующего)
func (r *RedisStore) Type(ctx context.Context, key string) (string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	typ, err := r.client.Type(ctx, key).Result()
	r.observe("type", start)

	if err != nil {
		return "", kvError("type", key, err)
	}
	return typ, nil
}

// Expire переустанавливает TTL ключа. Возвращает false, если ключа нет.
func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	r.observe("expire", start)

	if err != nil {
		return false, kvError("expire", key, err)
	}
	return ok, nil
}

// ZAdd добавляет или обновляет элемент сортированного множества
func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := r.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	r.observe("zadd", start)

	if err != nil {
		return kvError("zadd", key, err)
	}
	return nil
}

// ZRem удаляет элементы сортированного множества
func (r *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	err := r.client.ZRem(ctx, key, args...).Err()
	r.observe("zrem", start)

	if err != nil {
		return kvError("zrem", key, err)
	}
	return nil
}

// ZCard возвращает размер сортированного множества
func (r *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	n, err := r.client.ZCard(ctx, key).Result()
	r.observe("zcard", start)

	if err != nil {
		return 0, kvError("zcard", key, err)
	}
	return n, nil
}

// ZRevRange возвращает элементы по убыванию скора
func (r *RedisStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	t := time.Now()
	members, err := r.client.ZRevRange(ctx, key, start, stop).Result()
	r.observe("zrevrange", t)

	if err != nil {
		return nil, kvError("zrevrange", key, err)
	}
	return members, nil
}

// ZRangeByScore возвращает элементы со скором в [min, max]
func (r *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: formatZScore(min),
		Max: formatZScore(max),
	}).Result()
	r.observe("zrangebyscore", start)

	if err != nil {
		return nil, kvError("zrangebyscore", key, err)
	}
	return members, nil
}

// ZRangeWithScores возвращает элементы со скорами по возрастанию
func (r *RedisStore) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	t := time.Now()
	zs, err := r.client.ZRangeWithScores(ctx, key, start, stop).Result()
	r.observe("zrangewithscores", t)

	if err != nil {
		return nil, kvError("zrangewithscores", key, err)
	}

	members := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

// ZRemRangeByScore удаляет элементы со скором в [min, max]
func (r *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	n, err := r.client.ZRemRangeByScore(ctx, key, formatZScore(min), formatZScore(max)).Result()
	r.observe("zremrangebyscore", start)

	if err != nil {
		return 0, kvError("zremrangebyscore", key, err)
	}
	return n, nil
}

// DBSize возвращает количество ключей в текущей базе
func (r *RedisStore) DBSize(ctx context.Context) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	n, err := r.client.DBSize(ctx).Result()
	r.observe("dbsize", start)

	if err != nil {
		return 0, kvError("dbsize", "", err)
	}
	return n, nil
}

// FlushAll очищает текущую базу кеша
func (r *RedisStore) FlushAll(ctx context.Context) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	start := time.Now()
	err := r.client.FlushDB(ctx).Err()
	r.observe("flushall", start)

	if err != nil {
		return kvError("flushall", "", err)
	}

	r.logger.Warn("Cache database flushed")
	return nil
}

// formatZScore форматирует границу скора для Redis, поддерживая бесконечности
func formatZScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
