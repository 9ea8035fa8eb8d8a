package dto

import (
	"encoding/json"
	"time"

	"github.com/smartlms/submission-core/internal/models"
)

// FinalizeGradeRequest carries the lecturer's rubric for one finalize action.
type FinalizeGradeRequest struct {
	RubricScores []models.RubricScore `json:"rubric_scores" validate:"required,min=1,dive"`
	Feedback     string               `json:"feedback" validate:"omitempty,max=4000"`
}

// GradeRecordResponse serializes one immutable grade record.
type GradeRecordResponse struct {
	ID            uint                 `json:"id"`
	SubmissionID  uint                 `json:"submission_id"`
	VersionNumber int                  `json:"version_number"`
	RubricScores  []models.RubricScore `json:"rubric_scores"`
	FinalScore    float64              `json:"final_score"`
	Feedback      string               `json:"feedback"`
	GradedBy      uint                 `json:"graded_by"`
	GradedAt      time.Time            `json:"graded_at"`
}

// NewGradeRecordResponse converts a GradeRecord model into a DTO.
func NewGradeRecordResponse(model models.GradeRecord) GradeRecordResponse {
	response := GradeRecordResponse{
		ID:            model.ID,
		SubmissionID:  model.SubmissionID,
		VersionNumber: model.VersionNumber,
		FinalScore:    model.FinalScore,
		Feedback:      model.Feedback,
		GradedBy:      model.GradedBy,
		GradedAt:      model.GradedAt,
	}

	if len(model.RubricScores) > 0 {
		_ = json.Unmarshal(model.RubricScores, &response.RubricScores)
	}

	return response
}

// NewGradeRecordResponseSlice converts a slice of grade records.
func NewGradeRecordResponseSlice(records []models.GradeRecord) []GradeRecordResponse {
	responses := make([]GradeRecordResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, NewGradeRecordResponse(record))
	}
	return responses
}
