package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// storeCase lets the same assertions run against both implementations.
type storeCase struct {
	name    string
	store   Store
	advance func(time.Duration)
}

func stores(t *testing.T) []storeCase {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mem := NewMemory().WithClock(clk.Now)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return []storeCase{
		{name: "memory", store: mem, advance: clk.Advance},
		{name: "redis", store: NewRedis(rdb, "test:"), advance: mr.FastForward},
	}
}

func TestStoreGetSetDel(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, tc.store.Set(ctx, "k", "v", 0))
			v, err := tc.store.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", v)

			require.NoError(t, tc.store.Del(ctx, "k"))
			_, err = tc.store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreExpiry(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.store.Set(ctx, "k", "v", time.Second))
			ttl, err := tc.store.TTL(ctx, "k")
			require.NoError(t, err)
			assert.InDelta(t, time.Second, ttl, float64(50*time.Millisecond))

			tc.advance(2 * time.Second)
			_, err = tc.store.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = tc.store.TTL(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreTTLWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, tc.store.Set(ctx, "k", "v", 0))
			ttl, err := tc.store.TTL(ctx, "k")
			require.NoError(t, err)
			assert.Zero(t, ttl)
		})
	}
}

func TestStoreSetNX(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := tc.store.SetNX(ctx, "lock", "a", time.Second)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = tc.store.SetNX(ctx, "lock", "b", time.Second)
			require.NoError(t, err)
			assert.False(t, ok)

			tc.advance(2 * time.Second)
			ok, err = tc.store.SetNX(ctx, "lock", "c", time.Second)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestStoreIncrKeepsFirstTTL(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			n, err := tc.store.Incr(ctx, "ctr", 10*time.Second)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			tc.advance(6 * time.Second)
			n, err = tc.store.Incr(ctx, "ctr", 10*time.Second)
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)

			// the second Incr must not have pushed the expiry out
			tc.advance(5 * time.Second)
			n, err = tc.store.Incr(ctx, "ctr", 10*time.Second)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
		})
	}
}

func TestStoreDecr(t *testing.T) {
	ctx := context.Background()
	for _, tc := range stores(t) {
		t.Run(tc.name, func(t *testing.T) {
			n, err := tc.store.Decr(ctx, "missing")
			require.NoError(t, err)
			assert.Zero(t, n)
			_, err = tc.store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = tc.store.Incr(ctx, "ctr", time.Minute)
			require.NoError(t, err)
			_, err = tc.store.Incr(ctx, "ctr", time.Minute)
			require.NoError(t, err)
			n, err = tc.store.Decr(ctx, "ctr")
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)

			ttl, err := tc.store.TTL(ctx, "ctr")
			require.NoError(t, err)
			assert.Greater(t, ttl, time.Duration(0))
		})
	}
}

func TestMemoryIncrConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Incr(ctx, "ctr", time.Minute)
		}()
	}
	wg.Wait()
	v, err := m.Get(ctx, "ctr")
	require.NoError(t, err)
	assert.Equal(t, "50", v)
}

func TestRedisPrefixesKeys(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedis(rdb, "gw:")
	require.NoError(t, s.Set(ctx, "cb:users:state", "open", 0))
	assert.True(t, mr.Exists("gw:cb:users:state"))
}
