package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/models"
)

// appendRetries bounds how often Append recomputes the sequence number when
// a concurrent emitter wins the race for it.
const appendRetries = 5

// EventRepository appends to the per-submission ordered event log.
type EventRepository interface {
	// Append allocates the next per-submission sequence number and inserts
	// the event in one transaction. Under read-committed isolation two
	// emitters can read the same maximum; the loser hits the unique
	// (submission_id, seq) index and retries with a fresh number.
	Append(ctx context.Context, event *models.SubmissionEvent) error
	ListBySubmission(ctx context.Context, submissionID uint, afterSeq int64, limit int) ([]models.SubmissionEvent, error)
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository instantiates the repository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Append(ctx context.Context, event *models.SubmissionEvent) error {
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var maxSeq int64
			row := tx.Model(&models.SubmissionEvent{}).
				Where("submission_id = ?", event.SubmissionID).
				Select("COALESCE(MAX(seq), 0)")
			if err := row.Scan(&maxSeq).Error; err != nil {
				return err
			}

			event.Seq = maxSeq + 1
			return tx.Create(event).Error
		})
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}
	}
	return err
}

func (r *eventRepository) ListBySubmission(ctx context.Context, submissionID uint, afterSeq int64, limit int) ([]models.SubmissionEvent, error) {
	query := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Where("seq > ?", afterSeq).
		Order("seq ASC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	var events []models.SubmissionEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}

	return events, nil
}
