package dto

import (
	"time"

	"github.com/smartlms/submission-core/internal/models"
)

// SubmissionResponse is the full projection returned to the UI/API layer.
// is_late and overdue are derived here, never stored (states stay the single
// source of truth for display vocabularies).
type SubmissionResponse struct {
	ID                   uint                  `json:"id"`
	AssignmentID         uint                  `json:"assignment_id"`
	StudentID            uint                  `json:"student_id"`
	Status               string                `json:"status"`
	DueAt                time.Time             `json:"due_at"`
	SubmittedAt          *time.Time            `json:"submitted_at"`
	IsLate               bool                  `json:"is_late"`
	Overdue              bool                  `json:"overdue"`
	CurrentVersionNumber int                   `json:"current_version_number"`
	ManualReviewRequired bool                  `json:"manual_review_required"`
	CreatedAt            time.Time             `json:"created_at"`
	UpdatedAt            time.Time             `json:"updated_at"`
	Assignment           AssignmentLite        `json:"assignment"`
	Versions             []VersionResponse     `json:"versions,omitempty"`
	GradeRecords         []GradeRecordResponse `json:"grade_records,omitempty"`
}

// AssignmentLite summarizes an assignment in submission responses.
type AssignmentLite struct {
	ID       uint      `json:"id"`
	Title    string    `json:"title"`
	DueAt    time.Time `json:"due_at"`
	MaxScore float64   `json:"max_score"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission, reference time.Time) SubmissionResponse {
	response := SubmissionResponse{
		ID:                   model.ID,
		AssignmentID:         model.AssignmentID,
		StudentID:            model.StudentID,
		Status:               model.Status,
		DueAt:                model.DueAt,
		SubmittedAt:          model.SubmittedAt,
		IsLate:               model.IsLate(),
		Overdue:              model.IsOverdue(reference),
		CurrentVersionNumber: model.CurrentVersionNumber,
		ManualReviewRequired: model.ManualReviewRequired,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}

	if model.Assignment.ID != 0 {
		response.Assignment = AssignmentLite{
			ID:       model.Assignment.ID,
			Title:    model.Assignment.Title,
			DueAt:    model.Assignment.DueAt,
			MaxScore: model.Assignment.MaxScore,
		}
	}

	if len(model.Versions) > 0 {
		response.Versions = NewVersionResponseSlice(model.Versions)
	}

	return response
}
