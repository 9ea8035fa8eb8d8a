package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/models"
)

// VersionRepository appends to and reads the immutable version ledger.
type VersionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Version, error)
	GetByNumber(ctx context.Context, submissionID uint, number int) (models.Version, error)
	List(ctx context.Context, submissionID uint) ([]models.Version, error)
	// CreateWithSubmission appends the version and persists the bumped
	// submission counter in one transaction.
	CreateWithSubmission(ctx context.Context, version *models.Version, submission *models.Submission) error
}

type versionRepository struct {
	db *gorm.DB
}

// NewVersionRepository instantiates the repository.
func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &versionRepository{db: db}
}

func (r *versionRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Version{}).
		Preload("CheckResults")
}

func (r *versionRepository) GetByID(ctx context.Context, id uint) (models.Version, error) {
	var version models.Version
	if err := r.baseQuery(ctx).First(&version, id).Error; err != nil {
		return models.Version{}, err
	}

	return version, nil
}

func (r *versionRepository) GetByNumber(ctx context.Context, submissionID uint, number int) (models.Version, error) {
	var version models.Version
	if err := r.baseQuery(ctx).
		Where("submission_id = ?", submissionID).
		Where("number = ?", number).
		First(&version).Error; err != nil {
		return models.Version{}, err
	}

	return version, nil
}

func (r *versionRepository) List(ctx context.Context, submissionID uint) ([]models.Version, error) {
	var versions []models.Version
	if err := r.baseQuery(ctx).
		Where("submission_id = ?", submissionID).
		Order("number ASC").
		Find(&versions).Error; err != nil {
		return nil, err
	}

	return versions, nil
}

func (r *versionRepository) CreateWithSubmission(ctx context.Context, version *models.Version, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(version).Error; err != nil {
			return err
		}
		return tx.Save(submission).Error
	})
}
