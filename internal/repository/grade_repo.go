package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/models"
)

// GradeRepository appends immutable grade records.
type GradeRepository interface {
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradeRecord, error)
	// CreateWithTransition appends the record and moves the submission to
	// graded inside one transaction: either both are visible or neither.
	CreateWithTransition(ctx context.Context, record *models.GradeRecord, submission *models.Submission) error
}

type gradeRepository struct {
	db *gorm.DB
}

// NewGradeRepository instantiates the repository.
func NewGradeRepository(db *gorm.DB) GradeRepository {
	return &gradeRepository{db: db}
}

func (r *gradeRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.GradeRecord, error) {
	var records []models.GradeRecord
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("graded_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	return records, nil
}

func (r *gradeRepository) CreateWithTransition(ctx context.Context, record *models.GradeRecord, submission *models.Submission) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		return tx.Save(submission).Error
	})
}
