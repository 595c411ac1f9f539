package notifier

import (
	"fmt"
	"log"
	"time"

	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/events"
)

// Notifier delivers an alert to operators.
type Notifier interface {
	Notify(subject, message string) error
}

// ConsoleNotifier writes alerts to the log.
type ConsoleNotifier struct{}

func NewConsole() *ConsoleNotifier {
	return &ConsoleNotifier{}
}

func (c *ConsoleNotifier) Notify(subject, message string) error {
	log.Printf("[alerts] %s :: %s", subject, message)
	return nil
}

// Format renders the subject and body for a circuit event.
func Format(ev events.CircuitEvent) (subject, message string) {
	at := ev.OccurredAt.UTC().Format(time.RFC3339)
	switch ev.EventType {
	case events.RKCircuitOpen:
		return "Circuit OPEN: " + ev.Service,
			fmt.Sprintf("%s stopped receiving traffic after %d failures (%s).", ev.Service, ev.Failures, at)
	case events.RKCircuitHalfOpen:
		return "Circuit probing: " + ev.Service,
			fmt.Sprintf("%s cooldown elapsed, probing with trial requests (%s).", ev.Service, at)
	case events.RKCircuitClosed:
		return "Circuit recovered: " + ev.Service,
			fmt.Sprintf("%s is healthy again, circuit %s -> closed (%s).", ev.Service, ev.From, at)
	}
	return "Circuit " + ev.To + ": " + ev.Service, fmt.Sprintf("%s -> %s (%s)", ev.From, ev.To, at)
}
