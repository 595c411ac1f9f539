package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	RKCircuitOpen     = "circuit.open"
	RKCircuitHalfOpen = "circuit.half_open"
	RKCircuitClosed   = "circuit.closed"
)

var ErrInvalidEvent = errors.New("invalid circuit event")

// CircuitEvent is the payload the gateway publishes on every breaker
// transition.
type CircuitEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Service    string    `json:"service"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Failures   int64     `json:"failures"`
	OccurredAt time.Time `json:"occurred_at"`
}

func Known(key string) bool {
	switch key {
	case RKCircuitOpen, RKCircuitHalfOpen, RKCircuitClosed:
		return true
	}
	return false
}

func Unmarshal[T any](b []byte) (T, error) {
	var t T
	if err := json.Unmarshal(b, &t); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload failed: %w", err)
	}
	return t, nil
}

// DecodeCircuit decodes and validates a circuit event body.
func DecodeCircuit(b []byte) (CircuitEvent, error) {
	ev, err := Unmarshal[CircuitEvent](b)
	if err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.EventID == "" || ev.Service == "" || ev.To == "" {
		return ev, fmt.Errorf("%w: missing event_id, service or to", ErrInvalidEvent)
	}
	return ev, nil
}
