package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/cache"
	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/breaker"
)

type published struct {
	key    string
	v      any
	ctxErr error
}

type fakePublisher struct {
	mu  sync.Mutex
	got []published
	err error
}

func (f *fakePublisher) PublishJSON(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, published{key: key, v: v, ctxErr: ctx.Err()})
	return f.err
}

func (f *fakePublisher) all() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.got...)
}

// stalledPublisher blocks until its context expires or release is closed.
type stalledPublisher struct {
	release chan struct{}
	calls   chan struct{}
}

func (s *stalledPublisher) PublishJSON(ctx context.Context, _ string, _ any) error {
	s.calls <- struct{}{}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.release:
		return nil
	}
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, RKCircuitOpen, RoutingKey(breaker.Open))
	assert.Equal(t, RKCircuitHalfOpen, RoutingKey(breaker.HalfOpen))
	assert.Equal(t, RKCircuitClosed, RoutingKey(breaker.Closed))
}

func TestPublishesTransition(t *testing.T) {
	pub := &fakePublisher{}
	n := NewCircuitNotifier(pub, 0)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	// an already cancelled request context must not stop the publish
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.OnTransition(ctx, breaker.Transition{Service: "payments", From: breaker.Closed, To: breaker.Open, Failures: 5, At: at})
	require.NoError(t, n.Close())

	got := pub.all()
	require.Len(t, got, 1)
	assert.Equal(t, RKCircuitOpen, got[0].key)
	assert.NoError(t, got[0].ctxErr)
	ev, ok := got[0].v.(CircuitEvent)
	require.True(t, ok)
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "payments", ev.Service)
	assert.Equal(t, "closed", ev.From)
	assert.Equal(t, "open", ev.To)
	assert.EqualValues(t, 5, ev.Failures)
	assert.Equal(t, at, ev.OccurredAt)
}

func TestStalledBrokerDoesNotBlockRequests(t *testing.T) {
	pub := &stalledPublisher{release: make(chan struct{}), calls: make(chan struct{}, 8)}
	n := NewCircuitNotifier(pub, 1)
	b := breaker.New("payments", cache.NewMemory(), breaker.Settings{FailureThreshold: 1}, breaker.WithObserver(n))

	ctx := context.Background()
	start := time.Now()
	p, err := b.Allow(ctx)
	require.NoError(t, err)
	p.Failure(ctx)
	<-pub.calls // publisher is now stuck on the first event

	// queue holds one more; the rest are dropped without waiting
	for i := 0; i < 5; i++ {
		n.OnTransition(ctx, breaker.Transition{Service: "users", To: breaker.Open})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(pub.release)
	require.NoError(t, n.Close())
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	n := NewCircuitNotifier(pub, 0)
	assert.NotPanics(t, func() {
		n.OnTransition(context.Background(), breaker.Transition{Service: "users", To: breaker.Closed})
	})
	require.NoError(t, n.Close())
	assert.Len(t, pub.all(), 1)
}

func TestTransitionAfterCloseIsDropped(t *testing.T) {
	pub := &fakePublisher{}
	n := NewCircuitNotifier(pub, 0)
	require.NoError(t, n.Close())
	assert.NotPanics(t, func() {
		n.OnTransition(context.Background(), breaker.Transition{Service: "users", To: breaker.Open})
	})
	assert.Empty(t, pub.all())
}

func TestNilPublisherIsNoop(t *testing.T) {
	var n *CircuitNotifier
	assert.NotPanics(t, func() {
		n.OnTransition(context.Background(), breaker.Transition{})
	})
	nn := NewCircuitNotifier(nil, 0)
	nn.OnTransition(context.Background(), breaker.Transition{})
	assert.NoError(t, nn.Close())
}
