package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/models"
)

// AuditRepository records auditable lecturer actions.
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByEntity(ctx context.Context, entityType string, entityID uint) ([]models.AuditLog, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository instantiates the repository.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityType string, entityID uint) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	if err := r.db.WithContext(ctx).
		Where("entity_type = ?", entityType).
		Where("entity_id = ?", entityID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	return entries, nil
}
