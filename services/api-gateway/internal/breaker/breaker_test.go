package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/cache"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu  sync.Mutex
	got []Transition
}

func (r *recorder) OnTransition(_ context.Context, t Transition) {
	r.mu.Lock()
	r.got = append(r.got, t)
	r.mu.Unlock()
}

func (r *recorder) path() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, t := range r.got {
		out = append(out, t.To)
	}
	return out
}

var testSettings = Settings{
	FailureThreshold:  3,
	FailureWindow:     time.Minute,
	OpenTimeout:       10 * time.Second,
	HalfOpenMaxProbes: 1,
	SuccessThreshold:  2,
}

func newTestBreaker(t *testing.T) (*Breaker, *clock, *recorder) {
	t.Helper()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	rec := &recorder{}
	store := cache.NewMemory().WithClock(clk.Now)
	return New("doctors", store, testSettings, WithClock(clk.Now), WithObserver(rec)), clk, rec
}

func fail(t *testing.T, b *Breaker, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		p, err := b.Allow(ctx)
		require.NoError(t, err)
		p.Failure(ctx)
	}
}

func TestClosedAllowsAndCountsFailures(t *testing.T) {
	ctx := context.Background()
	b, _, rec := newTestBreaker(t)

	fail(t, b, 2)
	st, err := b.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, Closed, st)

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, snap.Failures)
	assert.Empty(t, rec.path())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newTestBreaker(t)

	fail(t, b, 2)
	p, err := b.Allow(ctx)
	require.NoError(t, err)
	p.Success(ctx)
	fail(t, b, 2)

	st, _ := b.State(ctx)
	assert.Equal(t, Closed, st)
}

func TestOpensAfterThresholdAndRejects(t *testing.T) {
	ctx := context.Background()
	b, _, rec := newTestBreaker(t)

	fail(t, b, 3)

	st, _ := b.State(ctx)
	assert.Equal(t, Open, st)
	assert.Equal(t, []State{Open}, rec.path())
	assert.EqualValues(t, 3, rec.got[0].Failures)
	assert.Equal(t, Closed, rec.got[0].From)

	_, err := b.Allow(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpen))
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "doctors", rej.Service)
	assert.Equal(t, 10*time.Second, rej.RetryAfter)
}

func TestFailuresOutsideWindowDoNotOpen(t *testing.T) {
	ctx := context.Background()
	b, clk, _ := newTestBreaker(t)

	fail(t, b, 2)
	clk.Advance(2 * time.Minute)
	fail(t, b, 2)

	st, _ := b.State(ctx)
	assert.Equal(t, Closed, st)
}

func TestHalfOpenAfterCooldownAdmitsSingleProbe(t *testing.T) {
	ctx := context.Background()
	b, clk, rec := newTestBreaker(t)
	fail(t, b, 3)

	clk.Advance(5 * time.Second)
	_, err := b.Allow(ctx)
	assert.ErrorIs(t, err, ErrOpen)

	clk.Advance(5 * time.Second)
	probe, err := b.Allow(ctx)
	require.NoError(t, err)
	assert.Equal(t, []State{Open, HalfOpen}, rec.path())

	_, err = b.Allow(ctx)
	assert.ErrorIs(t, err, ErrTooManyProbes)

	probe.Success(ctx)
	st, _ := b.State(ctx)
	assert.Equal(t, HalfOpen, st, "one success is below the threshold")

	probe2, err := b.Allow(ctx)
	require.NoError(t, err)
	probe2.Success(ctx)

	st, _ = b.State(ctx)
	assert.Equal(t, Closed, st)
	assert.Equal(t, []State{Open, HalfOpen, Closed}, rec.path())

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, snap.Failures)
	assert.Nil(t, snap.OpenedAt)
}

func TestProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	b, clk, rec := newTestBreaker(t)
	fail(t, b, 3)
	clk.Advance(10 * time.Second)

	probe, err := b.Allow(ctx)
	require.NoError(t, err)
	probe.Failure(ctx)

	st, _ := b.State(ctx)
	assert.Equal(t, Open, st)
	assert.Equal(t, []State{Open, HalfOpen, Open}, rec.path())

	// a fresh cooldown started at the reopen
	clk.Advance(5 * time.Second)
	_, err = b.Allow(ctx)
	assert.ErrorIs(t, err, ErrOpen)
	clk.Advance(5 * time.Second)
	_, err = b.Allow(ctx)
	assert.NoError(t, err)
}

func TestHalfOpenTransitionKeepsProbesFromOtherReplicas(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	store := cache.NewMemory().WithClock(clk.Now)
	b := New("doctors", store, testSettings, WithClock(clk.Now))
	fail(t, b, 3)
	clk.Advance(10 * time.Second)

	// another replica lost the half-open marker and already admitted its probe
	n, err := store.Incr(ctx, "cb:doctors:probes", testSettings.OpenTimeout)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = b.Allow(ctx)
	assert.ErrorIs(t, err, ErrTooManyProbes)
}

func TestCancelledProbeFreesSlot(t *testing.T) {
	ctx := context.Background()
	b, clk, _ := newTestBreaker(t)
	fail(t, b, 3)
	clk.Advance(10 * time.Second)

	probe, err := b.Allow(ctx)
	require.NoError(t, err)
	probe.Cancel(ctx)

	st, _ := b.State(ctx)
	assert.Equal(t, HalfOpen, st)
	_, err = b.Allow(ctx)
	assert.NoError(t, err)
}

func TestResetForcesClosed(t *testing.T) {
	ctx := context.Background()
	b, _, rec := newTestBreaker(t)
	fail(t, b, 3)

	require.NoError(t, b.Reset(ctx))

	st, _ := b.State(ctx)
	assert.Equal(t, Closed, st)
	_, err := b.Allow(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []State{Open, Closed}, rec.path())
}

func TestSnapshotWhileOpen(t *testing.T) {
	ctx := context.Background()
	b, clk, _ := newTestBreaker(t)
	fail(t, b, 3)
	clk.Advance(4 * time.Second)

	snap, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Open, snap.State)
	require.NotNil(t, snap.OpenedAt)
	assert.Equal(t, "6s", snap.RetryAfter)
}

func TestStateSharedAcrossReplicas(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := cache.NewRedis(rdb, "gw:")

	replicaA := New("payments", store, testSettings)
	replicaB := New("payments", store, testSettings)

	fail(t, replicaA, 2)
	fail(t, replicaB, 1)

	_, err := replicaA.Allow(ctx)
	assert.ErrorIs(t, err, ErrOpen)
	_, err = replicaB.Allow(ctx)
	assert.ErrorIs(t, err, ErrOpen)
}

type brokenStore struct{ cache.Store }

func (brokenStore) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func TestCacheErrorsFailOpen(t *testing.T) {
	b := New("users", brokenStore{Store: cache.NewMemory()}, testSettings)
	p, err := b.Allow(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestDefaultsApplied(t *testing.T) {
	b := New("users", cache.NewMemory(), Settings{})
	assert.Equal(t, DefaultSettings(), b.Settings())
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(cache.NewMemory(), testSettings, []string{"users", "doctors"})

	assert.Equal(t, []string{"doctors", "users"}, r.Names())
	b, ok := r.Get("users")
	require.True(t, ok)
	fail(t, b, 3)

	snaps, err := r.Snapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, Closed, snaps[0].State)
	assert.Equal(t, Open, snaps[1].State)

	_, ok = r.Get("billing")
	assert.False(t, ok)
}
