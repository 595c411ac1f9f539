package domain

import "time"

const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// CircuitIncident is one circuit transition received from the gateway.
type CircuitIncident struct {
	ID         string `gorm:"primaryKey"`
	EventID    string `gorm:"uniqueIndex;not null"`
	EventType  string `gorm:"index"` // circuit.open|circuit.half_open|circuit.closed
	Service    string `gorm:"index"`
	FromState  string
	ToState    string
	Failures   int64
	OccurredAt time.Time `gorm:"index"`
	Status     string    `gorm:"index"` // PENDING|SENT|FAILED
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
