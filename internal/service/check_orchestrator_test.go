package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/repository"
	"github.com/smartlms/submission-core/pkg/evaluator"
)

type orchestratorFixture struct {
	db          *gorm.DB
	checks      repository.CheckRepository
	versions    repository.VersionRepository
	submissions repository.SubmissionRepository
	events      EventService
	locker      *SubmissionLocker
	handler     SubmissionService
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	db := setupTestDB(t)
	locker := NewSubmissionLocker()
	events := testEventService(t, db)

	submissions := repository.NewSubmissionRepository(db)
	versions := repository.NewVersionRepository(db)

	handler := NewSubmissionService(
		submissions,
		versions,
		repository.NewGradeRepository(db),
		nil,
		events,
		locker,
		20,
		testLogger(),
	)

	return &orchestratorFixture{
		db:          db,
		checks:      repository.NewCheckRepository(db),
		versions:    versions,
		submissions: submissions,
		events:      events,
		locker:      locker,
		handler:     handler,
	}
}

func (f *orchestratorFixture) orchestrator(t *testing.T, evaluators map[string]evaluator.Evaluator, cfg OrchestratorConfig) *checkOrchestrator {
	t.Helper()

	built := NewCheckOrchestrator(f.checks, f.versions, f.submissions, evaluators, f.handler, f.events, f.locker, cfg, testLogger())
	orch, ok := built.(*checkOrchestrator)
	require.True(t, ok)
	orch.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return orch
}

func TestDispatchRunsAllChecksAndSignals(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusSubmitted)
	version := seedVersion(t, f.db, &submission, 1)

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: staticEvaluator(5),
		models.CheckTypeQuality:     staticEvaluator(82),
	}, OrchestratorConfig{})

	orch.Dispatch(context.Background(), version)
	orch.wait()

	results, err := f.checks.ListByVersion(context.Background(), version.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		require.Equal(t, models.CheckStateComplete, result.State)
		require.NotNil(t, result.Score)
		require.NotNil(t, result.CompletedAt)
		require.Equal(t, 1, result.Attempt)
		require.NotEmpty(t, result.RequestID)
	}

	refreshed, err := f.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusUnderReview, refreshed.Status)

	types := eventTypes(t, f.events, submission.ID)
	require.Contains(t, types, models.EventCheckStarted)
	require.Contains(t, types, models.EventCheckCompleted)
	require.Contains(t, types, models.EventStateChanged)
}

func TestDispatchFlagsHighSimilarity(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusSubmitted)
	version := seedVersion(t, f.db, &submission, 1)

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: staticEvaluator(64),
		models.CheckTypeQuality:     staticEvaluator(91),
	}, OrchestratorConfig{})

	orch.Dispatch(context.Background(), version)
	orch.wait()

	refreshed, err := f.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusFlagged, refreshed.Status)
}

func TestDispatchExhaustsRetryBudget(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusSubmitted)
	version := seedVersion(t, f.db, &submission, 1)

	var originalityCalls int32
	failing := evaluatorFunc(func(context.Context, evaluator.Request) (evaluator.Result, error) {
		atomic.AddInt32(&originalityCalls, 1)
		return evaluator.Result{}, errors.New("similarity service unavailable")
	})

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: failing,
		models.CheckTypeQuality:     staticEvaluator(70),
	}, OrchestratorConfig{MaxAttempts: 3})
	orch.sleep = func(context.Context, time.Duration) error { return nil }

	orch.Dispatch(context.Background(), version)
	orch.wait()

	require.Equal(t, int32(3), atomic.LoadInt32(&originalityCalls))

	reloaded, err := f.versions.GetByID(context.Background(), version.ID)
	require.NoError(t, err)
	originality := reloaded.CheckFor(models.CheckTypeOriginality)
	require.NotNil(t, originality)
	require.Equal(t, models.CheckStateFailed, originality.State)
	require.Equal(t, 3, originality.Attempt)

	// A failed originality check cannot auto-clear the submission.
	refreshed, err := f.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusUnderReview, refreshed.Status)
	require.True(t, refreshed.ManualReviewRequired)
}

func TestDispatchBackoffGrowsAndCaps(t *testing.T) {
	f := newOrchestratorFixture(t)
	orch := f.orchestrator(t, nil, OrchestratorConfig{RetryBase: 2 * time.Second, RetryCap: 30 * time.Second})

	require.Equal(t, 2*time.Second, orch.backoff(1))
	require.Equal(t, 4*time.Second, orch.backoff(2))
	require.Equal(t, 8*time.Second, orch.backoff(3))
	require.Equal(t, 30*time.Second, orch.backoff(6))
}

func TestDispatchSkipsInFlightPairs(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusSubmitted)
	version := seedVersion(t, f.db, &submission, 1)

	release := make(chan struct{})
	blocking := evaluatorFunc(func(ctx context.Context, _ evaluator.Request) (evaluator.Result, error) {
		select {
		case <-release:
			return evaluator.Result{Score: 1}, nil
		case <-ctx.Done():
			return evaluator.Result{}, ctx.Err()
		}
	})

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: blocking,
		models.CheckTypeQuality:     blocking,
	}, OrchestratorConfig{})

	orch.Dispatch(context.Background(), version)
	orch.Dispatch(context.Background(), version)

	results, err := f.checks.ListByVersion(context.Background(), version.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	close(release)
	orch.wait()
}

func TestDispatchReleasesRegistrationOnCompletion(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusSubmitted)
	version := seedVersion(t, f.db, &submission, 1)

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: staticEvaluator(4),
		models.CheckTypeQuality:     staticEvaluator(77),
	}, OrchestratorConfig{})

	orch.Dispatch(context.Background(), version)
	orch.wait()

	// Once every check is terminal the dispatch record has no job left;
	// keeping it would pin one group per submission for the process lifetime.
	orch.mu.Lock()
	defer orch.mu.Unlock()
	require.Empty(t, orch.inflight)
}

func TestDispatchFailsUnconfiguredCheckTypes(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusSubmitted)
	version := seedVersion(t, f.db, &submission, 1)

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeQuality: staticEvaluator(74),
	}, OrchestratorConfig{})

	orch.Dispatch(context.Background(), version)
	orch.wait()

	reloaded, err := f.versions.GetByID(context.Background(), version.ID)
	require.NoError(t, err)
	require.True(t, reloaded.ChecksTerminal())

	originality := reloaded.CheckFor(models.CheckTypeOriginality)
	require.NotNil(t, originality)
	require.Equal(t, models.CheckStateFailed, originality.State)
	require.Contains(t, string(originality.Detail), "no evaluator configured")

	// The missing evaluator must not strand the submission: the failed check
	// routes it to manual review like any other failure.
	refreshed, err := f.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusUnderReview, refreshed.Status)
	require.True(t, refreshed.ManualReviewRequired)
}

func TestDispatchSupersedesOlderVersion(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusSubmitted)
	oldVersion := seedVersion(t, f.db, &submission, 1)
	newVersion := seedVersion(t, f.db, &submission, 2)

	evaluators := map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: evaluatorFunc(func(ctx context.Context, req evaluator.Request) (evaluator.Result, error) {
			if req.VersionID == oldVersion.ID {
				<-ctx.Done()
				return evaluator.Result{}, ctx.Err()
			}
			return evaluator.Result{Score: 3}, nil
		}),
		models.CheckTypeQuality: evaluatorFunc(func(ctx context.Context, req evaluator.Request) (evaluator.Result, error) {
			if req.VersionID == oldVersion.ID {
				<-ctx.Done()
				return evaluator.Result{}, ctx.Err()
			}
			return evaluator.Result{Score: 85}, nil
		}),
	}

	orch := f.orchestrator(t, evaluators, OrchestratorConfig{})

	orch.Dispatch(context.Background(), oldVersion)
	orch.Dispatch(context.Background(), newVersion)
	orch.wait()

	oldReloaded, err := f.versions.GetByID(context.Background(), oldVersion.ID)
	require.NoError(t, err)
	for _, checkType := range models.AllCheckTypes {
		result := oldReloaded.CheckFor(checkType)
		require.NotNil(t, result)
		require.Equal(t, models.CheckStateFailed, result.State)
	}

	newReloaded, err := f.versions.GetByID(context.Background(), newVersion.ID)
	require.NoError(t, err)
	require.True(t, newReloaded.ChecksTerminal())
	for _, checkType := range models.AllCheckTypes {
		require.Equal(t, models.CheckStateComplete, newReloaded.CheckFor(checkType).State)
	}

	// Only the latest version's results drove the state machine.
	refreshed, err := f.submissions.GetByID(context.Background(), submission.ID)
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusUnderReview, refreshed.Status)
}

func TestRetryRelaunchesFailedCheck(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusUnderReview)
	version := seedVersion(t, f.db, &submission, 1)
	failed := seedCheck(t, f.db, version.ID, models.CheckTypeOriginality, models.CheckStateFailed, nil)
	failed.Attempt = 3
	require.NoError(t, f.db.Save(&failed).Error)
	seedCheck(t, f.db, version.ID, models.CheckTypeQuality, models.CheckStateComplete, floatPtr(88))

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: staticEvaluator(2),
		models.CheckTypeQuality:     staticEvaluator(88),
	}, OrchestratorConfig{})

	result, err := orch.Retry(context.Background(), version.ID, models.CheckTypeOriginality, Actor{ID: 42, Role: "lecturer"})
	require.NoError(t, err)
	require.Equal(t, 4, result.Attempt)
	require.Equal(t, models.CheckStatePending, result.State)

	orch.wait()

	reloaded, err := f.versions.GetByID(context.Background(), version.ID)
	require.NoError(t, err)
	latest := reloaded.CheckFor(models.CheckTypeOriginality)
	require.Equal(t, 4, latest.Attempt)
	require.Equal(t, models.CheckStateComplete, latest.State)
	require.NotEqual(t, failed.RequestID, latest.RequestID)
}

func TestRetryRejectsNonFailedCheck(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusUnderReview)
	version := seedVersion(t, f.db, &submission, 1)
	seedCheck(t, f.db, version.ID, models.CheckTypeOriginality, models.CheckStateComplete, floatPtr(5))

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: staticEvaluator(5),
		models.CheckTypeQuality:     staticEvaluator(50),
	}, OrchestratorConfig{})

	_, err := orch.Retry(context.Background(), version.ID, models.CheckTypeOriginality, Actor{ID: 42})
	require.ErrorIs(t, err, ErrCheckNotRetryable)

	_, err = orch.Retry(context.Background(), version.ID, "syntax", Actor{ID: 42})
	require.ErrorIs(t, err, ErrUnknownCheckType)

	_, err = orch.Retry(context.Background(), 9999, models.CheckTypeOriginality, Actor{ID: 42})
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestRetryRejectsSupersededVersion(t *testing.T) {
	f := newOrchestratorFixture(t)
	assignment := seedAssignment(t, f.db, time.Now().Add(time.Hour))
	submission := seedSubmission(t, f.db, assignment, models.SubmissionStatusUnderReview)
	oldVersion := seedVersion(t, f.db, &submission, 1)
	seedVersion(t, f.db, &submission, 2)
	seedCheck(t, f.db, oldVersion.ID, models.CheckTypeOriginality, models.CheckStateFailed, nil)

	orch := f.orchestrator(t, map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: staticEvaluator(2),
		models.CheckTypeQuality:     staticEvaluator(60),
	}, OrchestratorConfig{})

	_, err := orch.Retry(context.Background(), oldVersion.ID, models.CheckTypeOriginality, Actor{ID: 42})
	require.ErrorIs(t, err, ErrCheckNotRetryable)
}
