package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/smartlms/submission-core/internal/config"
	"github.com/smartlms/submission-core/internal/dto"
	"github.com/smartlms/submission-core/internal/handler"
	"github.com/smartlms/submission-core/internal/middleware"
	"github.com/smartlms/submission-core/internal/models"
	"github.com/smartlms/submission-core/internal/repository"
	"github.com/smartlms/submission-core/internal/router"
	"github.com/smartlms/submission-core/internal/service"
	"github.com/smartlms/submission-core/pkg/evaluator"
)

type stubEvaluator struct {
	score float64
}

func (s *stubEvaluator) Check(_ context.Context, _ evaluator.Request) (evaluator.Result, error) {
	return evaluator.Result{Score: s.score}, nil
}

func setupLifecycleApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

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

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	locker := service.NewSubmissionLocker()

	submissionRepo := repository.NewSubmissionRepository(db)
	versionRepo := repository.NewVersionRepository(db)
	checkRepo := repository.NewCheckRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	eventService := service.NewEventService(repository.NewEventRepository(db), nil, "", nil, logger)
	submissionService := service.NewSubmissionService(submissionRepo, versionRepo, gradeRepo, auditRepo, eventService, locker, 20, logger)

	evaluators := map[string]evaluator.Evaluator{
		models.CheckTypeOriginality: &stubEvaluator{score: 6},
		models.CheckTypeQuality:     &stubEvaluator{score: 81},
	}
	orchestrator := service.NewCheckOrchestrator(checkRepo, versionRepo, submissionRepo, evaluators, submissionService, eventService, locker, service.OrchestratorConfig{}, logger)

	versionService := service.NewVersionService(versionRepo, submissionRepo, repository.NewAssignmentRepository(db), orchestrator, eventService, locker, validate, logger)
	gradingService := service.NewGradingService(gradeRepo, submissionRepo, versionRepo, auditRepo, eventService, locker, validate, logger)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, config.Config{AppName: "Test"}, router.Dependencies{
		VersionHandler:    handler.NewVersionHandler(versionService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		GradingHandler:    handler.NewGradingHandler(gradingService, logger),
		CheckHandler:      handler.NewCheckHandler(orchestrator, logger),
		EventHandler:      handler.NewEventHandler(eventService, logger, time.Second),
	})

	return app, db
}

func jsonRequest(t *testing.T, method, target string, payload interface{}, userID uint, role string) *http.Request {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("X-User-ID", strconv.FormatUint(uint64(userID), 10))
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}

	return req
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func fetchSubmission(t *testing.T, app *fiber.App, id uint) dto.SubmissionResponse {
	t.Helper()

	resp, err := app.Test(jsonRequest(t, "GET", fmt.Sprintf("/api/v1/submissions/%d", id), nil, 7, "student"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body envelope
	decodeResponse(t, resp, &body)
	var submission dto.SubmissionResponse
	require.NoError(t, json.Unmarshal(body.Data, &submission))
	return submission
}

func TestLifecycleUploadSubmitGrade(t *testing.T) {
	app, db := setupLifecycleApp(t)

	assignment := models.Assignment{Title: "Essay on Consensus", DueAt: time.Now().Add(2 * time.Hour), MaxScore: 100}
	require.NoError(t, db.Create(&assignment).Error)

	createReq := jsonRequest(t, "POST", "/api/v1/versions", dto.VersionCreateRequest{
		AssignmentID: assignment.ID,
		StudentID:    7,
		FileRefs:     []dto.FileRef{{Ref: "blob://essay.pdf", SizeBytes: 2048}},
		Comment:      "ready for review",
	}, 7, "student")
	resp, err := app.Test(createReq)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created envelope
	decodeResponse(t, resp, &created)
	require.True(t, created.Success)
	require.Equal(t, "version created", created.Message)

	var version dto.VersionResponse
	require.NoError(t, json.Unmarshal(created.Data, &version))
	require.Equal(t, 1, version.Number)

	submissionID := version.SubmissionID
	require.Equal(t, models.SubmissionStatusDraft, fetchSubmission(t, app, submissionID).Status)

	resp, err = app.Test(jsonRequest(t, "POST", fmt.Sprintf("/api/v1/submissions/%d/submit", submissionID), nil, 7, "student"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var submitted envelope
	decodeResponse(t, resp, &submitted)
	require.Equal(t, "submission submitted", submitted.Message)

	// Both stub checks score below the flag threshold, so review clears
	// as soon as the evaluator goroutines finish.
	require.Eventually(t, func() bool {
		return fetchSubmission(t, app, submissionID).Status == models.SubmissionStatusUnderReview
	}, 3*time.Second, 20*time.Millisecond)

	gradePayload := dto.FinalizeGradeRequest{
		RubricScores: []models.RubricScore{
			{Criterion: "argument", Score: 36, MaxScore: 40},
			{Criterion: "evidence", Score: 52, MaxScore: 60},
		},
		Feedback: "Well structured.",
	}

	resp, err = app.Test(jsonRequest(t, "POST", fmt.Sprintf("/api/v1/submissions/%d/grade", submissionID), gradePayload, 0, ""))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, "POST", fmt.Sprintf("/api/v1/submissions/%d/grade", submissionID), gradePayload, 7, "student"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, err = app.Test(jsonRequest(t, "POST", fmt.Sprintf("/api/v1/submissions/%d/grade", submissionID), gradePayload, 42, "lecturer"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var graded envelope
	decodeResponse(t, resp, &graded)
	require.Equal(t, "grade finalized", graded.Message)

	var record dto.GradeRecordResponse
	require.NoError(t, json.Unmarshal(graded.Data, &record))
	require.Equal(t, 88.0, record.FinalScore)
	require.Equal(t, uint(42), record.GradedBy)

	require.Equal(t, models.SubmissionStatusGraded, fetchSubmission(t, app, submissionID).Status)

	resp, err = app.Test(jsonRequest(t, "GET", fmt.Sprintf("/api/v1/submissions/%d/grades", submissionID), nil, 42, "lecturer"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var history envelope
	decodeResponse(t, resp, &history)
	var records []dto.GradeRecordResponse
	require.NoError(t, json.Unmarshal(history.Data, &records))
	require.Len(t, records, 1)

	resp, err = app.Test(jsonRequest(t, "GET", fmt.Sprintf("/api/v1/submissions/%d/events", submissionID), nil, 7, "student"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var eventList envelope
	decodeResponse(t, resp, &eventList)
	var events []dto.EventResponse
	require.NoError(t, json.Unmarshal(eventList.Data, &events))
	require.NotEmpty(t, events)
	for i, event := range events {
		require.EqualValues(t, i+1, event.Seq)
	}
	require.Equal(t, models.EventVersionCreated, events[0].Type)

	seen := make(map[string]bool, len(events))
	for _, event := range events {
		seen[event.Type] = true
	}
	require.True(t, seen[models.EventCheckCompleted])
	require.True(t, seen[models.EventStateChanged])
	require.True(t, seen[models.EventSubmissionGraded])
}

func TestLifecycleReopenAndNewVersion(t *testing.T) {
	app, db := setupLifecycleApp(t)

	assignment := models.Assignment{Title: "Essay on Consensus", DueAt: time.Now().Add(2 * time.Hour), MaxScore: 100}
	require.NoError(t, db.Create(&assignment).Error)

	submission := models.Submission{AssignmentID: assignment.ID, StudentID: 7, Status: models.SubmissionStatusGraded, DueAt: assignment.DueAt, CurrentVersionNumber: 1}
	require.NoError(t, db.Create(&submission).Error)
	require.NoError(t, db.Create(&models.Version{SubmissionID: submission.ID, Number: 1, FileRefs: datatypes.JSON("[]"), TriggerType: models.VersionTriggerManual}).Error)

	resp, err := app.Test(jsonRequest(t, "POST", fmt.Sprintf("/api/v1/submissions/%d/reopen", submission.ID), nil, 42, "lecturer"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.Equal(t, models.SubmissionStatusSubmitted, fetchSubmission(t, app, submission.ID).Status)

	createReq := jsonRequest(t, "POST", "/api/v1/versions", dto.VersionCreateRequest{
		AssignmentID: assignment.ID,
		StudentID:    7,
		FileRefs:     []dto.FileRef{{Ref: "blob://essay-v2.pdf", SizeBytes: 4096}},
	}, 7, "student")
	resp, err = app.Test(createReq)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created envelope
	decodeResponse(t, resp, &created)
	var version dto.VersionResponse
	require.NoError(t, json.Unmarshal(created.Data, &version))
	require.Equal(t, 2, version.Number)
}

func TestLifecycleErrorCodes(t *testing.T) {
	app, db := setupLifecycleApp(t)

	resp, err := app.Test(jsonRequest(t, "GET", "/api/v1/submissions/9999", nil, 7, "student"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var notFound envelope
	decodeResponse(t, resp, &notFound)
	require.False(t, notFound.Success)
	require.Equal(t, "SUBMISSION_NOT_FOUND", notFound.Code)

	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/versions", dto.VersionCreateRequest{
		AssignmentID: 9999,
		StudentID:    7,
		FileRefs:     []dto.FileRef{{Ref: "blob://essay.pdf", SizeBytes: 1}},
	}, 7, "student"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var missingAssignment envelope
	decodeResponse(t, resp, &missingAssignment)
	require.Equal(t, "ASSIGNMENT_NOT_FOUND", missingAssignment.Code)

	assignment := models.Assignment{Title: "Essay", DueAt: time.Now().Add(time.Hour), MaxScore: 100}
	require.NoError(t, db.Create(&assignment).Error)
	submission := models.Submission{AssignmentID: assignment.ID, StudentID: 7, Status: models.SubmissionStatusDraft, DueAt: assignment.DueAt}
	require.NoError(t, db.Create(&submission).Error)

	// Submitting an empty submission violates the at-least-one-version rule.
	resp, err = app.Test(jsonRequest(t, "POST", fmt.Sprintf("/api/v1/submissions/%d/submit", submission.ID), nil, 7, "student"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	var conflict envelope
	decodeResponse(t, resp, &conflict)
	require.Equal(t, "INVALID_TRANSITION", conflict.Code)

	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/versions/9999/checks/originality/retry", nil, 42, "lecturer"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	var missingVersion envelope
	decodeResponse(t, resp, &missingVersion)
	require.Equal(t, "VERSION_NOT_FOUND", missingVersion.Code)

	resp, err = app.Test(jsonRequest(t, "POST", "/api/v1/versions/1/checks/plagiarism/retry", nil, 42, "lecturer"))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
