package worker

import (
	"context"
	"errors"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/domain"
	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/events"
	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/notifier"
)

// Store is the persistence the worker needs; *repository.IncidentRepo
// satisfies it.
type Store interface {
	RecordOnce(ctx context.Context, inc *domain.CircuitIncident) (bool, error)
	MarkStatus(ctx context.Context, id, status, lastErr string) error
}

type Worker struct {
	store    Store
	notifier notifier.Notifier
}

func New(store Store, n notifier.Notifier) *Worker {
	return &Worker{store: store, notifier: n}
}

// Run handles deliveries until ctx is done or msgs is closed.
func (w *Worker) Run(ctx context.Context, msgs <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			w.Handle(ctx, d)
		}
	}
}

// Handle settles exactly one delivery: malformed payloads are dead-lettered,
// storage errors requeued, everything else acked.
func (w *Worker) Handle(ctx context.Context, d amqp.Delivery) {
	if !events.Known(d.RoutingKey) {
		log.Printf("[alerts] skip unknown key=%s", d.RoutingKey)
		_ = d.Ack(false)
		return
	}
	ev, err := events.DecodeCircuit(d.Body)
	if err != nil {
		log.Printf("[alerts] key=%s %v -> dead-letter", d.RoutingKey, err)
		_ = d.Nack(false, false)
		return
	}
	if ev.EventType == "" {
		ev.EventType = d.RoutingKey
	}

	inc := &domain.CircuitIncident{
		EventID:    ev.EventID,
		EventType:  ev.EventType,
		Service:    ev.Service,
		FromState:  ev.From,
		ToState:    ev.To,
		Failures:   ev.Failures,
		OccurredAt: ev.OccurredAt,
	}
	created, err := w.store.RecordOnce(ctx, inc)
	if err != nil {
		log.Printf("[alerts] record event=%s: %v -> requeue", ev.EventID, err)
		_ = d.Nack(false, true)
		return
	}
	if !created {
		log.Printf("[alerts] duplicate event=%s, skipping", ev.EventID)
		_ = d.Ack(false)
		return
	}

	status, lastErr := domain.StatusSent, ""
	if err := w.notifier.Notify(notifier.Format(ev)); err != nil {
		log.Printf("[alerts] notify event=%s: %v", ev.EventID, err)
		status, lastErr = domain.StatusFailed, err.Error()
	}
	if err := w.store.MarkStatus(ctx, inc.ID, status, lastErr); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[alerts] mark event=%s %s: %v", ev.EventID, status, err)
	}
	_ = d.Ack(false)
}
