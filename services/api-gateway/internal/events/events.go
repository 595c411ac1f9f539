package events

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DanielEsLoH/MediConnect-sub004/services/api-gateway/internal/breaker"
)

// Routing keys on the gateway exchange.
const (
	RKCircuitOpen     = "circuit.open"
	RKCircuitHalfOpen = "circuit.half_open"
	RKCircuitClosed   = "circuit.closed"
)

type CircuitEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Service    string    `json:"service"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Failures   int64     `json:"failures"`
	OccurredAt time.Time `json:"occurred_at"`
}

func RoutingKey(to breaker.State) string {
	switch to {
	case breaker.Open:
		return RKCircuitOpen
	case breaker.HalfOpen:
		return RKCircuitHalfOpen
	default:
		return RKCircuitClosed
	}
}

// JSONPublisher is satisfied by *mq.Publisher.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

const defaultBuffer = 64

// CircuitNotifier turns breaker transitions into bus events. Transitions are
// queued and published by a single background goroutine; when the queue is
// full the event is dropped and logged.
type CircuitNotifier struct {
	pub     JSONPublisher
	timeout time.Duration
	queue   chan CircuitEvent
	done    chan struct{}
	once    sync.Once
}

// NewCircuitNotifier starts the publishing goroutine. buffer <= 0 uses a
// default size. Call Close to drain and stop it.
func NewCircuitNotifier(pub JSONPublisher, buffer int) *CircuitNotifier {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	n := &CircuitNotifier{
		pub:     pub,
		timeout: 2 * time.Second,
		queue:   make(chan CircuitEvent, buffer),
		done:    make(chan struct{}),
	}
	if pub == nil {
		close(n.done)
		return n
	}
	go n.loop()
	return n
}

func (n *CircuitNotifier) loop() {
	defer close(n.done)
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		if err := n.pub.PublishJSON(ctx, ev.EventType, ev); err != nil {
			log.Printf("[events] publish %s for %s: %v", ev.EventType, ev.Service, err)
		}
		cancel()
	}
}

// OnTransition never blocks the caller.
func (n *CircuitNotifier) OnTransition(_ context.Context, t breaker.Transition) {
	if n == nil || n.pub == nil {
		return
	}
	key := RoutingKey(t.To)
	ev := CircuitEvent{
		EventID:    uuid.NewString(),
		EventType:  key,
		Service:    t.Service,
		From:       string(t.From),
		To:         string(t.To),
		Failures:   t.Failures,
		OccurredAt: t.At,
	}
	defer func() {
		// send on a closed queue after Close
		if recover() != nil {
			log.Printf("[events] notifier closed, dropped %s for %s", key, t.Service)
		}
	}()
	select {
	case n.queue <- ev:
	default:
		log.Printf("[events] queue full, dropped %s for %s", key, t.Service)
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (n *CircuitNotifier) Close() error {
	if n == nil {
		return nil
	}
	n.once.Do(func() { close(n.queue) })
	<-n.done
	return nil
}
