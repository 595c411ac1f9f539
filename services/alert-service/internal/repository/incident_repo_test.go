package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielEsLoH/MediConnect-sub004/pkg/db"
	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/domain"
)

func newRepo(t *testing.T) *IncidentRepo {
	t.Helper()
	gdb, err := db.Open("sqlite", "file::memory:")
	require.NoError(t, err)
	r := NewIncidentRepo(gdb)
	require.NoError(t, r.Migrate())
	return r
}

func incident(eventID, service string, at time.Time) *domain.CircuitIncident {
	return &domain.CircuitIncident{
		EventID:    eventID,
		EventType:  "circuit.open",
		Service:    service,
		FromState:  "closed",
		ToState:    "open",
		Failures:   5,
		OccurredAt: at,
	}
}

func TestRecordOnceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	now := time.Now().UTC()

	created, err := r.RecordOnce(ctx, incident("ev-1", "payments", now))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.RecordOnce(ctx, incident("ev-1", "payments", now))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := r.ByEventID(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.NotEmpty(t, got.ID)
}

func TestMarkStatus(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	inc := incident("ev-2", "doctors", time.Now().UTC())
	_, err := r.RecordOnce(ctx, inc)
	require.NoError(t, err)

	require.NoError(t, r.MarkStatus(ctx, inc.ID, domain.StatusFailed, "smtp down"))

	got, err := r.ByEventID(ctx, "ev-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "smtp down", got.LastError)
}

func TestListByService(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, ev := range []string{"a", "b", "c"} {
		_, err := r.RecordOnce(ctx, incident(ev, "users", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := r.RecordOnce(ctx, incident("d", "payments", base))
	require.NoError(t, err)

	got, err := r.ListByService(ctx, "users", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].EventID)
	assert.Equal(t, "b", got[1].EventID)

	all, err := r.ListByService(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
