package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/models"
)

// CheckRepository persists evaluator outcomes per (version, check type).
type CheckRepository interface {
	GetByID(ctx context.Context, id uint) (models.CheckResult, error)
	ListByVersion(ctx context.Context, versionID uint) ([]models.CheckResult, error)
	// NonTerminal returns the single in-flight result for the pair, if any.
	NonTerminal(ctx context.Context, versionID uint, checkType string) (models.CheckResult, error)
	Create(ctx context.Context, result *models.CheckResult) error
	Update(ctx context.Context, result *models.CheckResult) error
}

type checkRepository struct {
	db *gorm.DB
}

// NewCheckRepository instantiates the repository.
func NewCheckRepository(db *gorm.DB) CheckRepository {
	return &checkRepository{db: db}
}

func (r *checkRepository) GetByID(ctx context.Context, id uint) (models.CheckResult, error) {
	var result models.CheckResult
	if err := r.db.WithContext(ctx).First(&result, id).Error; err != nil {
		return models.CheckResult{}, err
	}

	return result, nil
}

func (r *checkRepository) ListByVersion(ctx context.Context, versionID uint) ([]models.CheckResult, error) {
	var results []models.CheckResult
	if err := r.db.WithContext(ctx).
		Where("version_id = ?", versionID).
		Order("attempt ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

func (r *checkRepository) NonTerminal(ctx context.Context, versionID uint, checkType string) (models.CheckResult, error) {
	var result models.CheckResult
	if err := r.db.WithContext(ctx).
		Where("version_id = ?", versionID).
		Where("check_type = ?", checkType).
		Where("state IN ?", []string{models.CheckStatePending, models.CheckStateRunning}).
		First(&result).Error; err != nil {
		return models.CheckResult{}, err
	}

	return result, nil
}

func (r *checkRepository) Create(ctx context.Context, result *models.CheckResult) error {
	return r.db.WithContext(ctx).Create(result).Error
}

func (r *checkRepository) Update(ctx context.Context, result *models.CheckResult) error {
	return r.db.WithContext(ctx).Save(result).Error
}
