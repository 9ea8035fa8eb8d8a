package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/dto"
	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/observability"
	"github.com/smartlms/submission-core/internal/repository"
)

// ErrChecksStillPending indicates finalize was attempted before every check reached a terminal state.
var ErrChecksStillPending = errors.New("checks still pending for the current version")

// ErrRubricScoreExceedsMax indicates a rubric entry scores above its own maximum.
var ErrRubricScoreExceedsMax = errors.New("rubric score exceeds criterion maximum")

// GradingService merges lecturer rubric input with the latest check results
// into immutable grade records.
type GradingService interface {
	Finalize(ctx context.Context, submissionID uint, payload dto.FinalizeGradeRequest, actor Actor) (dto.GradeRecordResponse, error)
	History(ctx context.Context, submissionID uint) ([]dto.GradeRecordResponse, error)
}

type gradingService struct {
	grades      repository.GradeRepository
	submissions repository.SubmissionRepository
	versions    repository.VersionRepository
	audit       repository.AuditRepository
	events      EventService
	locker      *SubmissionLocker
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewGradingService constructs the grade aggregator.
func NewGradingService(
	gradeRepo repository.GradeRepository,
	submissionRepo repository.SubmissionRepository,
	versionRepo repository.VersionRepository,
	auditRepo repository.AuditRepository,
	events EventService,
	locker *SubmissionLocker,
	validate *validator.Validate,
	logger zerolog.Logger,
) GradingService {
	return &gradingService{
		grades:      gradeRepo,
		submissions: submissionRepo,
		versions:    versionRepo,
		audit:       auditRepo,
		events:      events,
		locker:      locker,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "grading_service").Logger(),
		tracer:      otel.Tracer("github.com/smartlms/submission-core/internal/service/grading"),
		now:         time.Now,
	}
}

func (s *gradingService) Finalize(ctx context.Context, submissionID uint, payload dto.FinalizeGradeRequest, actor Actor) (dto.GradeRecordResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "grading.finalize", trace.WithAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.actor_id", int64(actor.ID)),
	))
	defer span.End()

	if err := s.validator.Struct(payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "validation_failed")
		return dto.GradeRecordResponse{}, err
	}

	for _, entry := range payload.RubricScores {
		if entry.Score > entry.MaxScore {
			span.SetStatus(codes.Error, "rubric_score_exceeds_max")
			return dto.GradeRecordResponse{}, ErrRubricScoreExceedsMax
		}
	}

	// Finalize reads already-recorded terminal check results; it never waits
	// on evaluator I/O.
	unlock := s.locker.LockSubmission(submissionID)
	defer unlock()

	submission, err := s.submissions.GetByID(spanCtx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.GradeRecordResponse{}, ErrSubmissionNotFound
		}
		span.RecordError(err)
		return dto.GradeRecordResponse{}, err
	}

	if submission.Status != models.SubmissionStatusUnderReview && submission.Status != models.SubmissionStatusFlagged {
		span.SetStatus(codes.Error, "invalid_transition")
		return dto.GradeRecordResponse{}, ErrInvalidTransition
	}

	version, err := s.versions.GetByNumber(spanCtx, submissionID, submission.CurrentVersionNumber)
	if err != nil {
		span.RecordError(err)
		return dto.GradeRecordResponse{}, err
	}

	if !version.ChecksTerminal() {
		span.SetStatus(codes.Error, "checks_still_pending")
		return dto.GradeRecordResponse{}, ErrChecksStillPending
	}

	rubric, err := json.Marshal(payload.RubricScores)
	if err != nil {
		return dto.GradeRecordResponse{}, err
	}

	finalScore := 0.0
	for _, entry := range payload.RubricScores {
		finalScore += entry.Score
	}

	gradedAt := s.now()
	record := models.GradeRecord{
		SubmissionID:  submissionID,
		VersionNumber: version.Number,
		RubricScores:  datatypes.JSON(rubric),
		FinalScore:    finalScore,
		Feedback:      strings.TrimSpace(s.sanitizer.Sanitize(payload.Feedback)),
		GradedBy:      actor.ID,
		GradedAt:      gradedAt,
	}

	from, err := s.transition(&submission)
	if err != nil {
		span.SetStatus(codes.Error, "invalid_transition")
		return dto.GradeRecordResponse{}, err
	}

	// Record creation and the graded transition commit together or not at all.
	if err := s.grades.CreateWithTransition(spanCtx, &record, &submission); err != nil {
		span.RecordError(err)
		return dto.GradeRecordResponse{}, err
	}

	if s.audit != nil {
		entityID := submission.ID
		entry := models.AuditLog{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     "submission.finalize_grade",
			EntityType: "submission",
			EntityID:   &entityID,
			Metadata: datatypes.JSONMap{
				"version_number": version.Number,
				"final_score":    finalScore,
			},
		}
		if err := s.audit.Create(spanCtx, &entry); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submissionID).Msg("failed to record grading audit entry")
		}
	}

	s.emit(spanCtx, submissionID, models.EventStateChanged, map[string]interface{}{
		"from": from,
		"to":   submission.Status,
	})
	s.emit(spanCtx, submissionID, models.EventSubmissionGraded, map[string]interface{}{
		"version_number": version.Number,
		"final_score":    finalScore,
		"graded_by":      actor.ID,
	})

	s.logger.Info().
		Uint("submission_id", submissionID).
		Int("version", version.Number).
		Float64("final_score", finalScore).
		Uint("graded_by", actor.ID).
		Msg("grade finalized")

	return dto.NewGradeRecordResponse(record), nil
}

func (s *gradingService) History(ctx context.Context, submissionID uint) ([]dto.GradeRecordResponse, error) {
	if _, err := s.submissions.GetByID(ctx, submissionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}

	records, err := s.grades.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	return dto.NewGradeRecordResponseSlice(records), nil
}

func (s *gradingService) transition(submission *models.Submission) (string, error) {
	if !submission.CanTransition(models.SubmissionStatusGraded) {
		return "", ErrInvalidTransition
	}

	from := submission.Status
	submission.Status = models.SubmissionStatusGraded

	observability.StateTransitions().WithLabelValues(from, models.SubmissionStatusGraded).Inc()

	return from, nil
}

func (s *gradingService) emit(ctx context.Context, submissionID uint, eventType string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, submissionID, eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Uint("submission_id", submissionID).Msg("failed to emit grading event")
	}
}
