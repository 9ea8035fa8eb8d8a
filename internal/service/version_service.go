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
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/dto"
	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/repository"
)

// ErrAssignmentNotFound indicates the referenced assignment does not exist.
var ErrAssignmentNotFound = errors.New("assignment not found")

// ErrSubmissionClosedForEdits indicates the submission no longer accepts versions.
var ErrSubmissionClosedForEdits = errors.New("submission closed for edits")

// VersionService is the append-only version ledger. Version numbers are
// allocated under the per-submission lock and form a gapless sequence.
type VersionService interface {
	Create(ctx context.Context, payload dto.VersionCreateRequest, actor Actor) (dto.VersionResponse, error)
	Get(ctx context.Context, submissionID uint, number int) (dto.VersionResponse, error)
	List(ctx context.Context, submissionID uint) ([]dto.VersionResponse, error)
}

type versionService struct {
	versions     repository.VersionRepository
	submissions  repository.SubmissionRepository
	assignments  repository.AssignmentRepository
	orchestrator CheckOrchestrator
	events       EventService
	locker       *SubmissionLocker
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	now          func() time.Time
}

// NewVersionService constructs the version ledger service.
func NewVersionService(
	versionRepo repository.VersionRepository,
	submissionRepo repository.SubmissionRepository,
	assignmentRepo repository.AssignmentRepository,
	orchestrator CheckOrchestrator,
	events EventService,
	locker *SubmissionLocker,
	validate *validator.Validate,
	logger zerolog.Logger,
) VersionService {
	return &versionService{
		versions:     versionRepo,
		submissions:  submissionRepo,
		assignments:  assignmentRepo,
		orchestrator: orchestrator,
		events:       events,
		locker:       locker,
		validator:    validate,
		sanitizer:    bluemonday.StrictPolicy(),
		logger:       logger.With().Str("component", "version_service").Logger(),
		now:          time.Now,
	}
}

func (s *versionService) Create(ctx context.Context, payload dto.VersionCreateRequest, actor Actor) (dto.VersionResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.VersionResponse{}, err
	}

	submission, err := s.resolveSubmission(ctx, payload)
	if err != nil {
		return dto.VersionResponse{}, err
	}

	unlock := s.locker.LockSubmission(submission.ID)

	// Re-read under the lock so the number allocation sees the latest counter.
	submission, err = s.submissions.GetByID(ctx, submission.ID)
	if err != nil {
		unlock()
		return dto.VersionResponse{}, err
	}

	if !submission.AcceptsVersions() {
		unlock()
		return dto.VersionResponse{}, ErrSubmissionClosedForEdits
	}

	refs, totalSize, err := encodeFileRefs(payload.FileRefs)
	if err != nil {
		unlock()
		return dto.VersionResponse{}, err
	}

	triggerType := payload.TriggerType
	if triggerType == "" {
		triggerType = models.VersionTriggerManual
	}

	version := models.Version{
		SubmissionID:   submission.ID,
		Number:         submission.CurrentVersionNumber + 1,
		FileRefs:       refs,
		Comment:        strings.TrimSpace(s.sanitizer.Sanitize(payload.Comment)),
		TriggerType:    triggerType,
		CreatedBy:      actor.ID,
		TotalFiles:     len(payload.FileRefs),
		TotalSizeBytes: totalSize,
	}

	submission.CurrentVersionNumber = version.Number

	if err := s.versions.CreateWithSubmission(ctx, &version, &submission); err != nil {
		unlock()
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// The lock makes this unreachable; a hit means the numbering
			// invariant broke and the operation must abort, not repair.
			s.logger.Error().
				Uint("submission_id", submission.ID).
				Int("number", version.Number).
				Msg("duplicate version number detected, aborting")
		}
		return dto.VersionResponse{}, err
	}

	unlock()

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Int("number", version.Number).
		Uint("student_id", actor.ID).
		Msg("version created")

	if s.events != nil {
		if err := s.events.Emit(ctx, submission.ID, models.EventVersionCreated, map[string]interface{}{
			"version_number": version.Number,
			"trigger_type":   version.TriggerType,
			"total_files":    version.TotalFiles,
		}); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", submission.ID).Msg("failed to emit version created event")
		}
	}

	// Checks dispatch only after the version is durably recorded, and the
	// evaluator calls themselves run off this request's critical path.
	if s.orchestrator != nil {
		s.orchestrator.Dispatch(ctx, version)
	}

	return dto.NewVersionResponse(version), nil
}

func (s *versionService) Get(ctx context.Context, submissionID uint, number int) (dto.VersionResponse, error) {
	version, err := s.versions.GetByNumber(ctx, submissionID, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.VersionResponse{}, ErrVersionNotFound
		}
		return dto.VersionResponse{}, err
	}

	return dto.NewVersionResponse(version), nil
}

func (s *versionService) List(ctx context.Context, submissionID uint) ([]dto.VersionResponse, error) {
	if _, err := s.submissions.GetByID(ctx, submissionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}

	versions, err := s.versions.List(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	return dto.NewVersionResponseSlice(versions), nil
}

// resolveSubmission finds the submission owning the (assignment, student)
// pair, creating it in draft on the first upload. Creation runs under the
// owner lock so exactly one submission ever exists per pair.
func (s *versionService) resolveSubmission(ctx context.Context, payload dto.VersionCreateRequest) (models.Submission, error) {
	submission, err := s.submissions.GetByOwner(ctx, payload.AssignmentID, payload.StudentID)
	if err == nil {
		return submission, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Submission{}, err
	}

	unlock := s.locker.LockOwner(payload.AssignmentID, payload.StudentID)
	defer unlock()

	// Another creator may have won the race before the lock was acquired.
	submission, err = s.submissions.GetByOwner(ctx, payload.AssignmentID, payload.StudentID)
	if err == nil {
		return submission, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Submission{}, err
	}

	assignment, err := s.assignments.GetByID(ctx, payload.AssignmentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrAssignmentNotFound
		}
		return models.Submission{}, err
	}

	submission = models.Submission{
		AssignmentID: payload.AssignmentID,
		StudentID:    payload.StudentID,
		Status:       models.SubmissionStatusDraft,
		DueAt:        assignment.DueAt,
	}

	if err := s.submissions.Create(ctx, &submission); err != nil {
		return models.Submission{}, err
	}

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Uint("assignment_id", payload.AssignmentID).
		Uint("student_id", payload.StudentID).
		Msg("submission created on first version upload")

	return submission, nil
}

func encodeFileRefs(refs []dto.FileRef) (datatypes.JSON, int64, error) {
	var totalSize int64
	for _, ref := range refs {
		totalSize += ref.SizeBytes
	}

	raw, err := json.Marshal(refs)
	if err != nil {
		return nil, 0, err
	}

	return datatypes.JSON(raw), totalSize, nil
}
