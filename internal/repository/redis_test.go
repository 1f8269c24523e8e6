package repository

import (
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return NewRedisStoreWithClient(client, logger.WithField("component", "redis"), time.Second), mr
}

func TestRedisStoreGetSet(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	// Отсутствующий ключ не ошибка
	val, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	err = store.SetWithTTL(ctx, "geo:dr5re:5", []byte(`{"score":1}`), time.Hour)
	require.NoError(t, err)

	val, err = store.Get(ctx, "geo:dr5re:5")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"score":1}`), val)

	// TTL выставлен
	assert.Equal(t, time.Hour, mr.TTL("geo:dr5re:5"))
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "warm:geo:dr5re:5", []byte("1"), 2*time.Second))

	mr.FastForward(3 * time.Second)

	val, err := store.Get(ctx, "warm:geo:dr5re:5")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisStoreSetNX(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.SetNX(ctx, "warm:geo:dr5re:5", []byte("1"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// Повторная установка не проходит, пока ключ жив
	ok, err = store.SetNX(ctx, "warm:geo:dr5re:5", []byte("1"), time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Del(ctx, "warm:geo:dr5re:5")
	require.NoError(t, err)

	ok, err = store.SetNX(ctx, "warm:geo:dr5re:5", []byte("1"), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStoreDel(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "geo:dr5re:5", []byte("a"), time.Hour))
	require.NoError(t, store.SetWithTTL(ctx, "geo:dr5rf:5", []byte("b"), time.Hour))

	n, err := store.Del(ctx, "geo:dr5re:5", "geo:dr5rf:5", "geo:missing:5")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Del(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisStoreScan(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "geo:dr5re:1", []byte("a"), time.Hour))
	require.NoError(t, store.SetWithTTL(ctx, "geo:dr5re:5", []byte("b"), time.Hour))
	require.NoError(t, store.SetWithTTL(ctx, "geo:dr5rf:5", []byte("c"), time.Hour))
	require.NoError(t, store.SetWithTTL(ctx, "scoreindex:geo", []byte("d"), time.Hour))

	keys, err := store.Scan(ctx, "geo:dr5re:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"geo:dr5re:1", "geo:dr5re:5"}, keys)

	// Индекс скоров живет вне пространства geo:*
	keys, err = store.Scan(ctx, "geo:*")
	require.NoError(t, err)
	assert.Len(t, keys, 3)
	assert.NotContains(t, keys, "scoreindex:geo")

	keys, err = store.Scan(ctx, "geo:xxxxx:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisStoreTypeAndExpire(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "geo:dr5re:5", []byte("a"), time.Hour))
	require.NoError(t, store.ZAdd(ctx, "scoreindex:geo", 0.5, "geo:dr5re:5"))

	typ, err := store.Type(ctx, "geo:dr5re:5")
	require.NoError(t, err)
	assert.Equal(t, "string", typ)

	typ, err = store.Type(ctx, "scoreindex:geo")
	require.NoError(t, err)
	assert.Equal(t, "zset", typ)

	typ, err = store.Type(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, "none", typ)

	ok, err := store.Expire(ctx, "geo:dr5re:5", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Minute, mr.TTL("geo:dr5re:5"))

	ok, err = store.Expire(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreSortedSets(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	key := "scoreindex:geo"

	require.NoError(t, store.ZAdd(ctx, key, 0.9, "geo:a:5"))
	require.NoError(t, store.ZAdd(ctx, key, 0.2, "geo:b:5"))
	require.NoError(t, store.ZAdd(ctx, key, 0.5, "geo:c:5"))

	n, err := store.ZCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Повторный ZAdd обновляет скор, не добавляя элемент
	require.NoError(t, store.ZAdd(ctx, key, 0.95, "geo:b:5"))
	n, err = store.ZCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	members, err := store.ZRevRange(ctx, key, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"geo:b:5", "geo:a:5"}, members)

	members, err = store.ZRangeByScore(ctx, key, 0, 0.6)
	require.NoError(t, err)
	assert.Equal(t, []string{"geo:c:5"}, members)

	members, err = store.ZRangeByScore(ctx, key, math.Inf(-1), math.Inf(1))
	require.NoError(t, err)
	assert.Len(t, members, 3)

	scored, err := store.ZRangeWithScores(ctx, key, 0, -1)
	require.NoError(t, err)
	require.Len(t, scored, 3)
	assert.Equal(t, "geo:c:5", scored[0].Member)
	assert.InDelta(t, 0.5, scored[0].Score, 1e-9)
	assert.Equal(t, "geo:b:5", scored[2].Member)
	assert.InDelta(t, 0.95, scored[2].Score, 1e-9)

	require.NoError(t, store.ZRem(ctx, key, "geo:a:5"))
	n, err = store.ZCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	removed, err := store.ZRemRangeByScore(ctx, key, 0, 0.6)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	members, err = store.ZRevRange(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"geo:b:5"}, members)
}

func TestRedisStoreDBSizeAndFlush(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "geo:dr5re:5", []byte("a"), time.Hour))
	require.NoError(t, store.ZAdd(ctx, "scoreindex:geo", 0.5, "geo:dr5re:5"))

	n, err := store.DBSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, store.FlushAll(ctx))

	n, err = store.DBSize(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
