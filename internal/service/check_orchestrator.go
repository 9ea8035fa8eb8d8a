package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
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
	"github.com/smartlms/submission-core/pkg/evaluator"
)

// ErrVersionNotFound indicates a version could not be found.
var ErrVersionNotFound = errors.New("version not found")

// ErrUnknownCheckType indicates the requested check type does not exist.
var ErrUnknownCheckType = errors.New("unknown check type")

// ErrCheckNotRetryable indicates the check is not in a state that allows a manual retry.
var ErrCheckNotRetryable = errors.New("check is not retryable")

// ChecksCompletedHandler consumes the signal fired when every check for a
// version has reached a terminal state.
type ChecksCompletedHandler interface {
	ChecksCompleted(ctx context.Context, version models.Version) error
}

// OrchestratorConfig carries the retry and timeout policy for evaluator calls.
type OrchestratorConfig struct {
	Timeout     time.Duration
	RetryBase   time.Duration
	RetryCap    time.Duration
	MaxAttempts int
}

// CheckOrchestrator dispatches originality and quality evaluations per
// version and records each outcome exactly once. Evaluator I/O runs on
// detached goroutines, never on the version-creation path and never under
// the submission lock.
type CheckOrchestrator interface {
	// Dispatch starts all missing checks for the version. In-flight checks
	// for an older version of the same submission are cancelled first.
	Dispatch(ctx context.Context, version models.Version)
	// Retry launches a fresh attempt for a check that exhausted its budget.
	Retry(ctx context.Context, versionID uint, checkType string, actor Actor) (dto.CheckResultResponse, error)
}

type dispatchGroup struct {
	versionNumber int
	ctx           context.Context
	cancel        context.CancelFunc
}

type checkOrchestrator struct {
	checks      repository.CheckRepository
	versions    repository.VersionRepository
	submissions repository.SubmissionRepository
	evaluators  map[string]evaluator.Evaluator
	handler     ChecksCompletedHandler
	events      EventService
	locker      *SubmissionLocker
	cfg         OrchestratorConfig
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[uint]*dispatchGroup
	wg       sync.WaitGroup
}

// NewCheckOrchestrator constructs the orchestrator.
func NewCheckOrchestrator(
	checkRepo repository.CheckRepository,
	versionRepo repository.VersionRepository,
	submissionRepo repository.SubmissionRepository,
	evaluators map[string]evaluator.Evaluator,
	handler ChecksCompletedHandler,
	events EventService,
	locker *SubmissionLocker,
	cfg OrchestratorConfig,
	logger zerolog.Logger,
) CheckOrchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	return &checkOrchestrator{
		checks:      checkRepo,
		versions:    versionRepo,
		submissions: submissionRepo,
		evaluators:  evaluators,
		handler:     handler,
		events:      events,
		locker:      locker,
		cfg:         cfg,
		logger:      logger.With().Str("component", "check_orchestrator").Logger(),
		tracer:      otel.Tracer("github.com/smartlms/submission-core/internal/service/check_orchestrator"),
		now:         time.Now,
		sleep:       sleepContext,
		inflight:    make(map[uint]*dispatchGroup),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *checkOrchestrator) Dispatch(ctx context.Context, version models.Version) {
	groupCtx := o.registerGroup(version)

	unlock := o.locker.LockSubmission(version.SubmissionID)
	defer unlock()

	for _, checkType := range models.AllCheckTypes {
		if _, err := o.checks.NonTerminal(ctx, version.ID, checkType); err == nil {
			// A fresh attempt supersedes an in-flight one, never duplicates it.
			continue
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			o.logger.Error().Err(err).Str("check_type", checkType).Msg("failed to query in-flight checks")
			continue
		}

		if _, ok := o.evaluators[checkType]; !ok {
			o.failUnavailable(ctx, version, checkType)
			continue
		}

		result, err := o.createAttempt(ctx, version, checkType)
		if err != nil {
			o.logger.Error().Err(err).Str("check_type", checkType).Uint("version_id", version.ID).Msg("failed to create check attempt")
			continue
		}

		o.launch(groupCtx, version, result)
	}
}

func (o *checkOrchestrator) Retry(ctx context.Context, versionID uint, checkType string, actor Actor) (dto.CheckResultResponse, error) {
	if !models.ValidCheckType(checkType) {
		return dto.CheckResultResponse{}, ErrUnknownCheckType
	}
	if _, ok := o.evaluators[checkType]; !ok {
		return dto.CheckResultResponse{}, ErrUnknownCheckType
	}

	version, err := o.versions.GetByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.CheckResultResponse{}, ErrVersionNotFound
		}
		return dto.CheckResultResponse{}, err
	}

	submission, err := o.submissions.GetByID(ctx, version.SubmissionID)
	if err != nil {
		return dto.CheckResultResponse{}, err
	}

	// Retrying a superseded version would produce results nothing may act on.
	if version.Number != submission.CurrentVersionNumber {
		return dto.CheckResultResponse{}, ErrCheckNotRetryable
	}

	unlock := o.locker.LockSubmission(version.SubmissionID)
	defer unlock()

	latest := version.CheckFor(checkType)
	if latest == nil || latest.State != models.CheckStateFailed {
		return dto.CheckResultResponse{}, ErrCheckNotRetryable
	}

	result, err := o.createAttempt(ctx, version, checkType)
	if err != nil {
		return dto.CheckResultResponse{}, err
	}

	o.logger.Info().
		Uint("version_id", versionID).
		Str("check_type", checkType).
		Uint("actor_id", actor.ID).
		Int("attempt", result.Attempt).
		Msg("manual check retry requested")

	o.launch(o.groupContext(version), version, result)

	return dto.NewCheckResultResponse(*result), nil
}

// registerGroup records the dispatched version as the live one for its
// submission and cancels any older in-flight group.
func (o *checkOrchestrator) registerGroup(version models.Version) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.inflight[version.SubmissionID]; ok {
		if existing.versionNumber >= version.Number {
			// Already dispatched at this or a newer version.
			return existing.ctx
		}
		existing.cancel()
		observability.ChecksSuperseded().Inc()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.inflight[version.SubmissionID] = &dispatchGroup{versionNumber: version.Number, ctx: ctx, cancel: cancel}

	return ctx
}

// releaseGroup drops the dispatch record once checks for the registered
// version are terminal. A newer registration is left untouched.
func (o *checkOrchestrator) releaseGroup(submissionID uint, versionNumber int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	existing, ok := o.inflight[submissionID]
	if !ok || existing.versionNumber != versionNumber {
		return
	}

	existing.cancel()
	delete(o.inflight, submissionID)
}

// groupContext returns the live dispatch context for the version, creating
// one when the orchestrator has no record of it (e.g. after a restart).
func (o *checkOrchestrator) groupContext(version models.Version) context.Context {
	o.mu.Lock()
	if existing, ok := o.inflight[version.SubmissionID]; ok && existing.versionNumber == version.Number {
		o.mu.Unlock()
		return existing.ctx
	}
	o.mu.Unlock()

	return o.registerGroup(version)
}

// wait blocks until every in-flight evaluator goroutine has finished.
func (o *checkOrchestrator) wait() {
	o.wg.Wait()
}

func (o *checkOrchestrator) createAttempt(ctx context.Context, version models.Version, checkType string) (*models.CheckResult, error) {
	attempt := 1
	if latest := version.CheckFor(checkType); latest != nil {
		attempt = latest.Attempt + 1
	}

	result := &models.CheckResult{
		VersionID: version.ID,
		CheckType: checkType,
		State:     models.CheckStatePending,
		Attempt:   attempt,
		RequestID: uuid.NewString(),
	}

	if err := o.checks.Create(ctx, result); err != nil {
		return nil, err
	}

	observability.ChecksDispatched().WithLabelValues(checkType).Inc()

	o.emit(ctx, version.SubmissionID, models.EventCheckStarted, map[string]interface{}{
		"version_number": version.Number,
		"check_type":     checkType,
		"attempt":        result.Attempt,
	})

	return result, nil
}

// failUnavailable records a terminal failed attempt when no evaluator is
// configured for the type. The version still reaches a terminal state, so
// the submission moves to manual review instead of stalling in submitted.
func (o *checkOrchestrator) failUnavailable(ctx context.Context, version models.Version, checkType string) {
	reloaded, err := o.versions.GetByID(ctx, version.ID)
	if err == nil && reloaded.CheckFor(checkType) != nil {
		return
	}

	o.logger.Warn().Str("check_type", checkType).Uint("version_id", version.ID).Msg("no evaluator configured, recording failed check")

	result, err := o.createAttempt(ctx, version, checkType)
	if err != nil {
		o.logger.Error().Err(err).Str("check_type", checkType).Uint("version_id", version.ID).Msg("failed to create check attempt")
		return
	}

	o.failAttempt(result, "no evaluator configured")

	// finish signals the state machine, which takes the submission lock held
	// by Dispatch, so it must run off this goroutine.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.finish(version, result)
	}()
}

func (o *checkOrchestrator) launch(ctx context.Context, version models.Version, result *models.CheckResult) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runCheck(ctx, version, result)
	}()
}

// runCheck drives one check through its retry budget to a terminal state.
func (o *checkOrchestrator) runCheck(ctx context.Context, version models.Version, result *models.CheckResult) {
	spanCtx, span := o.tracer.Start(ctx, "checks.run", trace.WithAttributes(
		attribute.String("check_type", result.CheckType),
		attribute.Int64("version_id", int64(version.ID)),
		attribute.Int("attempt", result.Attempt),
	))
	defer span.End()

	eval := o.evaluators[result.CheckType]
	refs := fileRefStrings(version.FileRefs)

	for {
		startedAt := o.now()
		result.State = models.CheckStateRunning
		result.StartedAt = &startedAt
		if err := o.checks.Update(context.Background(), result); err != nil {
			o.logger.Error().Err(err).Uint("check_id", result.ID).Msg("failed to mark check running")
		}

		attemptCtx, cancel := context.WithTimeout(spanCtx, o.cfg.Timeout)
		outcome, err := eval.Check(attemptCtx, evaluator.Request{
			RequestID: result.RequestID,
			VersionID: version.ID,
			FileRefs:  refs,
		})
		cancel()

		observability.CheckDuration().WithLabelValues(result.CheckType).Observe(o.now().Sub(startedAt).Seconds())

		if err == nil {
			o.completeAttempt(result, outcome)
			break
		}

		observability.CheckAttempts().WithLabelValues(result.CheckType, "failure").Inc()
		span.RecordError(err)

		if ctx.Err() != nil {
			// Cancelled by supersession or shutdown; the result is recorded
			// but never drives state.
			o.failAttempt(result, "superseded before completion")
			span.SetStatus(codes.Error, "superseded")
			return
		}

		if result.Attempt >= o.cfg.MaxAttempts {
			o.failAttempt(result, err.Error())
			span.SetStatus(codes.Error, "attempts_exhausted")
			break
		}

		backoff := o.backoff(result.Attempt)
		o.logger.Warn().
			Err(err).
			Str("check_type", result.CheckType).
			Int("attempt", result.Attempt).
			Dur("backoff", backoff).
			Msg("check attempt failed, retrying")

		if err := o.sleep(ctx, backoff); err != nil {
			o.failAttempt(result, "superseded before completion")
			span.SetStatus(codes.Error, "superseded")
			return
		}

		result.Attempt++
	}

	o.finish(version, result)
}

func (o *checkOrchestrator) completeAttempt(result *models.CheckResult, outcome evaluator.Result) {
	completedAt := o.now()
	score := outcome.Score
	result.State = models.CheckStateComplete
	result.Score = &score
	result.CompletedAt = &completedAt

	if outcome.Detail != nil {
		if raw, err := json.Marshal(outcome.Detail); err == nil {
			result.Detail = datatypes.JSON(raw)
		}
	}

	if err := o.checks.Update(context.Background(), result); err != nil {
		o.logger.Error().Err(err).Uint("check_id", result.ID).Msg("failed to persist completed check")
	}

	observability.CheckAttempts().WithLabelValues(result.CheckType, "success").Inc()
}

func (o *checkOrchestrator) failAttempt(result *models.CheckResult, reason string) {
	completedAt := o.now()
	result.State = models.CheckStateFailed
	result.CompletedAt = &completedAt

	if raw, err := json.Marshal(map[string]interface{}{"error": reason}); err == nil {
		result.Detail = datatypes.JSON(raw)
	}

	if err := o.checks.Update(context.Background(), result); err != nil {
		o.logger.Error().Err(err).Uint("check_id", result.ID).Msg("failed to persist failed check")
	}
}

// finish emits the completion event and, when the whole version is terminal,
// signals the state machine. The handler re-validates currency under the
// submission lock, so late signals for superseded versions are harmless.
func (o *checkOrchestrator) finish(version models.Version, result *models.CheckResult) {
	ctx := context.Background()

	o.emit(ctx, version.SubmissionID, models.EventCheckCompleted, map[string]interface{}{
		"version_number": version.Number,
		"check_type":     result.CheckType,
		"state":          result.State,
		"score":          result.Score,
		"attempt":        result.Attempt,
	})

	reloaded, err := o.versions.GetByID(ctx, version.ID)
	if err != nil {
		o.logger.Error().Err(err).Uint("version_id", version.ID).Msg("failed to reload version after check completion")
		return
	}

	if !reloaded.ChecksTerminal() {
		return
	}

	o.releaseGroup(version.SubmissionID, version.Number)

	if o.handler == nil {
		return
	}

	if err := o.handler.ChecksCompleted(ctx, reloaded); err != nil {
		o.logger.Error().Err(err).Uint("version_id", version.ID).Msg("checks completed signal failed")
	}
}

func (o *checkOrchestrator) backoff(attempt int) time.Duration {
	backoff := o.cfg.RetryBase << (attempt - 1)
	if backoff > o.cfg.RetryCap {
		backoff = o.cfg.RetryCap
	}
	return backoff
}

func (o *checkOrchestrator) emit(ctx context.Context, submissionID uint, eventType string, payload map[string]interface{}) {
	if o.events == nil {
		return
	}
	if err := o.events.Emit(ctx, submissionID, eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to emit check event")
	}
}

func fileRefStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}

	var refs []struct {
		Ref string `json:"ref"`
	}
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil
	}

	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.Ref)
	}
	return out
}
