package routing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/model-webhooks/internal/domain"
	"github.com/Priya8975/model-webhooks/internal/errs"
)

func TestMemoryCache_ExpiresOnClock(t *testing.T) {
	clock := newFakeClock()
	cache := NewMemoryCache(MemoryCacheOptions{TTL: time.Minute, Now: clock.Now})
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, orderUpdate, []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)}))

	clock.Advance(59 * time.Second)
	got, ok, err := cache.Get(ctx, orderUpdate)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got, 1)

	clock.Advance(time.Second)
	_, ok, err = cache.Get(ctx, orderUpdate)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	cache := NewMemoryCache(MemoryCacheOptions{})
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, orderUpdate, []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)}))

	got, _, _ := cache.Get(ctx, orderUpdate)
	got[0].Active = false
	got[0].Topics[0] = "mutated"

	again, _, _ := cache.Get(ctx, orderUpdate)
	assert.True(t, again[0].Active)
	assert.Equal(t, orderUpdate, again[0].Topics[0])
}

func TestMemoryCache_BoundedEntries(t *testing.T) {
	cache := NewMemoryCache(MemoryCacheOptions{MaxEntries: 2})
	ctx := context.Background()

	for _, topic := range []string{"a.B/create", "a.B/update", "a.B/delete"} {
		require.NoError(t, cache.Set(ctx, topic, nil))
	}
	assert.LessOrEqual(t, cache.Len(), 2)
}

func TestCachedSource_DeactivationVisibleWithinTTL(t *testing.T) {
	clock := newFakeClock()
	source := &memorySource{subscribers: []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)}}
	cached := NewSource(source, NewMemoryCache(MemoryCacheOptions{TTL: time.Minute, Now: clock.Now}), true, 0, testLogger())
	m := newTestMatcher(cached)
	ctx := context.Background()

	got, err := m.Match(ctx, orderUpdate, order("1", nil))
	require.NoError(t, err)
	require.Len(t, got, 1)

	source.setActive(1, false)

	clock.Advance(30 * time.Second)
	got, err = m.Match(ctx, orderUpdate, order("1", nil))
	require.NoError(t, err)
	assert.Len(t, got, 1, "stale membership may be served inside the TTL window")

	clock.Advance(30 * time.Second)
	got, err = m.Match(ctx, orderUpdate, order("1", nil))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 2, source.callCount())
}

func TestCachedSource_DisabledIsImmediate(t *testing.T) {
	source := &memorySource{subscribers: []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)}}
	direct := NewSource(source, NewMemoryCache(MemoryCacheOptions{}), false, 0, testLogger())
	m := newTestMatcher(direct)
	ctx := context.Background()

	got, err := m.Match(ctx, orderUpdate, order("1", nil))
	require.NoError(t, err)
	require.Len(t, got, 1)

	source.setActive(1, false)

	got, err = m.Match(ctx, orderUpdate, order("1", nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCachedSource_FiltersAppliedPerEvent(t *testing.T) {
	source := &memorySource{subscribers: []domain.Subscriber{
		subscriber(1, []string{orderUpdate}, map[string]domain.Filter{"shop.Order": {IDs: domain.IDList{"1", "2"}}}),
	}}
	m := newTestMatcher(NewSource(source, NewMemoryCache(MemoryCacheOptions{}), true, 0, testLogger()))
	ctx := context.Background()

	got, err := m.Match(ctx, orderUpdate, order("1", nil))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = m.Match(ctx, orderUpdate, order("5", nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Equal(t, 1, source.callCount())
}

func TestCachedSource_ErrorsNotCached(t *testing.T) {
	source := &memorySource{
		subscribers: []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)},
		err:         errConnRefused,
	}
	m := newTestMatcher(NewSource(source, NewMemoryCache(MemoryCacheOptions{}), true, 0, testLogger()))
	ctx := context.Background()

	_, err := m.Match(ctx, orderUpdate, order("1", nil))
	require.Error(t, err)
	assert.True(t, errs.IsStoreUnavailable(err))

	source.setErr(nil)
	got, err := m.Match(ctx, orderUpdate, order("1", nil))
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 2, source.callCount())
}

func TestCachedSource_CollapsesConcurrentMisses(t *testing.T) {
	source := &memorySource{
		subscribers: []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)},
		gate:        make(chan struct{}),
	}
	cached := NewCachedSource(source, NewMemoryCache(MemoryCacheOptions{}), 0, testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subs, err := cached.ListActiveSubscribersForTopic(ctx, orderUpdate)
			assert.NoError(t, err)
			assert.Len(t, subs, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(source.gate)
	wg.Wait()

	assert.Equal(t, 1, source.callCount())
}

func TestCachedSource_CancelledCallerDoesNotFailOthers(t *testing.T) {
	source := &memorySource{
		subscribers: []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)},
		gate:        make(chan struct{}),
	}
	cached := NewCachedSource(source, NewMemoryCache(MemoryCacheOptions{}), time.Second, testLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.ListActiveSubscribersForTopic(firstCtx, orderUpdate)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	type result struct {
		subs []domain.Subscriber
		err  error
	}
	second := make(chan result, 1)
	go func() {
		subs, err := cached.ListActiveSubscribersForTopic(context.Background(), orderUpdate)
		second <- result{subs, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(source.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.subs, 1)
	assert.Equal(t, 1, source.callCount())
}

func TestCachedSource_SharedQueryBounded(t *testing.T) {
	source := &memorySource{gate: make(chan struct{})}
	cached := NewCachedSource(source, NewMemoryCache(MemoryCacheOptions{}), 20*time.Millisecond, testLogger())

	start := time.Now()
	_, err := cached.ListActiveSubscribersForTopic(context.Background(), orderUpdate)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func setupRedisCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, ttl), mr
}

func TestRedisCache_SetGetExpire(t *testing.T) {
	cache, mr := setupRedisCache(t, time.Minute)
	ctx := context.Background()
	sub := subscriber(1, []string{orderUpdate}, map[string]domain.Filter{"shop.Order": {IDs: domain.IDList{"1"}, Bucket: "b1"}})

	require.NoError(t, cache.Set(ctx, orderUpdate, []domain.Subscriber{sub}))
	assert.True(t, mr.Exists(RedisCacheKey(orderUpdate)))

	got, ok, err := cache.Get(ctx, orderUpdate)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, sub.UUID, got[0].UUID)
	assert.Equal(t, domain.IDList{"1"}, got[0].Filters["shop.Order"].IDs)

	mr.FastForward(time.Minute)
	_, ok, err = cache.Get(ctx, orderUpdate)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_EmptySetIsAHit(t *testing.T) {
	cache, _ := setupRedisCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, orderUpdate, nil))
	got, ok, err := cache.Get(ctx, orderUpdate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestCachedSource_RedisOutageFallsBackToStore(t *testing.T) {
	cache, mr := setupRedisCache(t, time.Minute)
	source := &memorySource{subscribers: []domain.Subscriber{subscriber(1, []string{orderUpdate}, nil)}}
	cached := NewCachedSource(source, cache, 0, testLogger())

	mr.Close()

	got, err := cached.ListActiveSubscribersForTopic(context.Background(), orderUpdate)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, source.callCount())
}

func TestRedisCacheKey_Escapes(t *testing.T) {
	assert.Equal(t, "webhooks::resolution::v1::shop.Order%2Fupdate", RedisCacheKey(orderUpdate))
}
