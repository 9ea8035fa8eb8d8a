package service

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/repository"
	"github.com/smartlms/submission-core/pkg/evaluator"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// sqlite allows one writer; a single connection keeps concurrent
	// service calls from tripping over table locks.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Assignment{},
		&models.Submission{},
		&models.Version{},
		&models.CheckResult{},
		&models.GradeRecord{},
		&models.SubmissionEvent{},
		&models.AuditLog{},
	))

	return db
}

func seedAssignment(t *testing.T, db *gorm.DB, due time.Time) models.Assignment {
	t.Helper()

	assignment := models.Assignment{Title: "Essay on Distributed Systems", DueAt: due, MaxScore: 100}
	require.NoError(t, db.Create(&assignment).Error)

	return assignment
}

func seedSubmission(t *testing.T, db *gorm.DB, assignment models.Assignment, status string) models.Submission {
	t.Helper()

	submission := models.Submission{
		AssignmentID: assignment.ID,
		StudentID:    7,
		Status:       status,
		DueAt:        assignment.DueAt,
	}
	require.NoError(t, db.Create(&submission).Error)

	return submission
}

func seedVersion(t *testing.T, db *gorm.DB, submission *models.Submission, number int) models.Version {
	t.Helper()

	version := models.Version{
		SubmissionID: submission.ID,
		Number:       number,
		FileRefs:     []byte(`[{"ref":"blob://essay.pdf","size_bytes":2048}]`),
		TriggerType:  models.VersionTriggerManual,
		CreatedBy:    7,
		TotalFiles:   1,
	}
	require.NoError(t, db.Create(&version).Error)

	if submission.CurrentVersionNumber < number {
		submission.CurrentVersionNumber = number
		require.NoError(t, db.Save(submission).Error)
	}

	return version
}

func seedCheck(t *testing.T, db *gorm.DB, versionID uint, checkType, state string, score *float64) models.CheckResult {
	t.Helper()

	result := models.CheckResult{
		VersionID: versionID,
		CheckType: checkType,
		State:     state,
		Score:     score,
		Attempt:   1,
		RequestID: fmt.Sprintf("req-%d-%s", versionID, checkType),
	}
	require.NoError(t, db.Create(&result).Error)

	return result
}

func testEventService(t *testing.T, db *gorm.DB) EventService {
	t.Helper()
	return NewEventService(repository.NewEventRepository(db), nil, "", nil, testLogger())
}

func floatPtr(v float64) *float64 {
	return &v
}

// evaluatorFunc adapts a plain function to the evaluator contract.
type evaluatorFunc func(ctx context.Context, req evaluator.Request) (evaluator.Result, error)

func (f evaluatorFunc) Check(ctx context.Context, req evaluator.Request) (evaluator.Result, error) {
	return f(ctx, req)
}

func staticEvaluator(score float64) evaluatorFunc {
	return func(context.Context, evaluator.Request) (evaluator.Result, error) {
		return evaluator.Result{Score: score}, nil
	}
}

func eventTypes(t *testing.T, svc EventService, submissionID uint) []string {
	t.Helper()

	events, err := svc.List(context.Background(), submissionID, 0, 0)
	require.NoError(t, err)

	types := make([]string, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}
