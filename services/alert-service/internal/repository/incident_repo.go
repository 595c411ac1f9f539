package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DanielEsLoH/MediConnect-sub004/services/alert-service/internal/domain"
)

type IncidentRepo struct{ db *gorm.DB }

func NewIncidentRepo(db *gorm.DB) *IncidentRepo {
	return &IncidentRepo{db: db}
}

func (r *IncidentRepo) Migrate() error {
	return r.db.AutoMigrate(&domain.CircuitIncident{})
}

// RecordOnce inserts inc unless an incident with the same EventID exists.
// It reports whether a row was created.
func (r *IncidentRepo) RecordOnce(ctx context.Context, inc *domain.CircuitIncident) (bool, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Status == "" {
		inc.Status = domain.StatusPending
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(inc)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *IncidentRepo) MarkStatus(ctx context.Context, id, status, lastErr string) error {
	return r.db.WithContext(ctx).Model(&domain.CircuitIncident{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "last_error": lastErr, "updated_at": time.Now().UTC()}).Error
}

func (r *IncidentRepo) ByEventID(ctx context.Context, eventID string) (*domain.CircuitIncident, error) {
	var inc domain.CircuitIncident
	if err := r.db.WithContext(ctx).First(&inc, "event_id = ?", eventID).Error; err != nil {
		return nil, err
	}
	return &inc, nil
}

// ListByService returns the newest incidents first; an empty service lists all.
func (r *IncidentRepo) ListByService(ctx context.Context, service string, limit int) ([]domain.CircuitIncident, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Model(&domain.CircuitIncident{})
	if service != "" {
		q = q.Where("service = ?", service)
	}
	var out []domain.CircuitIncident
	err := q.Order("occurred_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
