package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/dto"
	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/observability"
	"github.com/smartlms/submission-core/internal/repository"
)

// ErrSubmissionNotFound indicates a submission could not be found.
var ErrSubmissionNotFound = errors.New("submission not found")

// ErrInvalidTransition indicates the requested state change is not legal.
var ErrInvalidTransition = errors.New("invalid submission state transition")

// ErrNoVersions indicates a formal submit was attempted before any version exists.
var ErrNoVersions = errors.New("submission has no versions")

// SubmissionService owns the submission state machine. All transitions run
// under the per-submission lock; an illegal transition leaves state untouched.
type SubmissionService interface {
	Get(ctx context.Context, id uint) (dto.SubmissionResponse, error)
	Submit(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error)
	Reopen(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error)
	// ChecksCompleted consumes the orchestrator's completion signal for a
	// version. Replays and signals for superseded versions are no-ops.
	ChecksCompleted(ctx context.Context, version models.Version) error
}

type submissionService struct {
	submissions   repository.SubmissionRepository
	versions      repository.VersionRepository
	grades        repository.GradeRepository
	audit         repository.AuditRepository
	events        EventService
	locker        *SubmissionLocker
	flagThreshold float64
	logger        zerolog.Logger
	now           func() time.Time
}

// NewSubmissionService constructs the state machine service.
func NewSubmissionService(
	submissionRepo repository.SubmissionRepository,
	versionRepo repository.VersionRepository,
	gradeRepo repository.GradeRepository,
	auditRepo repository.AuditRepository,
	events EventService,
	locker *SubmissionLocker,
	flagThreshold float64,
	logger zerolog.Logger,
) SubmissionService {
	return &submissionService{
		submissions:   submissionRepo,
		versions:      versionRepo,
		grades:        gradeRepo,
		audit:         auditRepo,
		events:        events,
		locker:        locker,
		flagThreshold: flagThreshold,
		logger:        logger.With().Str("component", "submission_service").Logger(),
		now:           time.Now,
	}
}

func (s *submissionService) Get(ctx context.Context, id uint) (dto.SubmissionResponse, error) {
	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	versions, err := s.versions.List(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	submission.Versions = versions

	response := dto.NewSubmissionResponse(submission, s.now())

	records, err := s.grades.ListBySubmission(ctx, id)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	response.GradeRecords = dto.NewGradeRecordResponseSlice(records)

	return response, nil
}

func (s *submissionService) Submit(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error) {
	unlock := s.locker.LockSubmission(id)
	defer unlock()

	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if submission.CurrentVersionNumber < 1 {
		return dto.SubmissionResponse{}, ErrNoVersions
	}

	from, err := s.transition(&submission, models.SubmissionStatusSubmitted)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	submittedAt := s.now()
	submission.SubmittedAt = &submittedAt

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.emit(ctx, submission.ID, models.EventStateChanged, map[string]interface{}{
		"from": from,
		"to":   submission.Status,
	})

	s.logger.Info().Uint("submission_id", id).Uint("student_id", actor.ID).Msg("submission submitted")

	// Checks may have finished while the submission was still a draft; in
	// that case the completion signal was a no-op and the outcome applies now.
	version, err := s.versions.GetByNumber(ctx, submission.ID, submission.CurrentVersionNumber)
	if err == nil && version.ChecksTerminal() {
		if err := s.applyCheckOutcome(ctx, &submission, version); err != nil {
			return dto.SubmissionResponse{}, err
		}
	}

	return dto.NewSubmissionResponse(submission, s.now()), nil
}

func (s *submissionService) Reopen(ctx context.Context, id uint, actor Actor) (dto.SubmissionResponse, error) {
	unlock := s.locker.LockSubmission(id)
	defer unlock()

	submission, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionResponse{}, ErrSubmissionNotFound
		}
		return dto.SubmissionResponse{}, err
	}

	if submission.Status != models.SubmissionStatusGraded {
		return dto.SubmissionResponse{}, ErrInvalidTransition
	}

	from, err := s.transition(&submission, models.SubmissionStatusSubmitted)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}

	if err := s.submissions.Update(ctx, &submission); err != nil {
		return dto.SubmissionResponse{}, err
	}

	s.emit(ctx, submission.ID, models.EventStateChanged, map[string]interface{}{
		"from": from,
		"to":   submission.Status,
	})

	if s.audit != nil {
		entityID := submission.ID
		entry := models.AuditLog{
			ActorID:    actor.ID,
			ActorRole:  actor.Role,
			Action:     "submission.reopen",
			EntityType: "submission",
			EntityID:   &entityID,
		}
		if err := s.audit.Create(ctx, &entry); err != nil {
			s.logger.Warn().Err(err).Uint("submission_id", id).Msg("failed to record reopen audit entry")
		}
	}

	s.emit(ctx, submission.ID, models.EventSubmissionReopened, map[string]interface{}{
		"actor_id":   actor.ID,
		"actor_role": actor.Role,
	})

	s.logger.Info().Uint("submission_id", id).Uint("actor_id", actor.ID).Msg("submission reopened")

	return dto.NewSubmissionResponse(submission, s.now()), nil
}

func (s *submissionService) ChecksCompleted(ctx context.Context, version models.Version) error {
	unlock := s.locker.LockSubmission(version.SubmissionID)
	defer unlock()

	submission, err := s.submissions.GetByID(ctx, version.SubmissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSubmissionNotFound
		}
		return err
	}

	// Only the latest version's checks drive state. Signals for superseded
	// versions, and replays of an already-applied signal, fall through here.
	if version.Number != submission.CurrentVersionNumber {
		return nil
	}

	if submission.Status != models.SubmissionStatusSubmitted && submission.Status != models.SubmissionStatusUnderReview {
		return nil
	}

	originality := version.CheckFor(models.CheckTypeOriginality)
	if originality == nil || !originality.IsTerminal() {
		return nil
	}

	return s.applyCheckOutcome(ctx, &submission, version)
}

// applyCheckOutcome moves the submission according to the originality result
// of its current version. Callers hold the submission lock and have verified
// the version is current and its originality check terminal.
func (s *submissionService) applyCheckOutcome(ctx context.Context, submission *models.Submission, version models.Version) error {
	originality := version.CheckFor(models.CheckTypeOriginality)
	if originality == nil {
		return nil
	}

	target := models.SubmissionStatusUnderReview
	manualReview := false

	switch {
	case originality.State == models.CheckStateFailed:
		// Cannot auto-clear: the lecturer has to look at it.
		manualReview = true
	case originality.Score != nil && *originality.Score >= s.flagThreshold:
		target = models.SubmissionStatusFlagged
	}

	if submission.Status == target {
		return nil
	}

	from, err := s.transition(submission, target)
	if err != nil {
		return err
	}

	submission.ManualReviewRequired = manualReview

	if err := s.submissions.Update(ctx, submission); err != nil {
		return err
	}

	s.emit(ctx, submission.ID, models.EventStateChanged, map[string]interface{}{
		"from":           from,
		"to":             submission.Status,
		"version_number": version.Number,
	})

	s.logger.Info().
		Uint("submission_id", submission.ID).
		Int("version", version.Number).
		Str("status", submission.Status).
		Msg("checks completed, submission transitioned")

	return nil
}

// transition validates the state change and applies it in memory.
// Persistence stays with the caller so related writes can share its
// transaction; the caller emits state.changed once the write is durable.
func (s *submissionService) transition(submission *models.Submission, target string) (string, error) {
	if !submission.CanTransition(target) {
		return "", ErrInvalidTransition
	}

	from := submission.Status
	submission.Status = target

	observability.StateTransitions().WithLabelValues(from, target).Inc()

	return from, nil
}

func (s *submissionService) emit(ctx context.Context, submissionID uint, eventType string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Emit(ctx, submissionID, eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Uint("submission_id", submissionID).Msg("failed to emit lifecycle event")
	}
}
