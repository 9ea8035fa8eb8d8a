package dto

import (
	"encoding/json"
	"time"

	"github.com/smartlms/submission-core/internal/models"
)

// VersionCreateRequest describes the payload for appending a new version.
// File contents live in the blob store; the core only receives opaque refs.
type VersionCreateRequest struct {
	AssignmentID uint      `json:"assignment_id" validate:"required,gt=0"`
	StudentID    uint      `json:"student_id" validate:"required,gt=0"`
	FileRefs     []FileRef `json:"file_refs" validate:"required,min=1,dive"`
	Comment      string    `json:"comment" validate:"omitempty,max=1000"`
	TriggerType  string    `json:"trigger_type" validate:"omitempty,oneof=manual auto_save submission"`
}

// FileRef is one opaque blob store handle plus its recorded size.
type FileRef struct {
	Ref       string `json:"ref" validate:"required"`
	SizeBytes int64  `json:"size_bytes" validate:"gte=0"`
}

// VersionResponse is the API projection of one immutable version.
type VersionResponse struct {
	ID             uint                  `json:"id"`
	SubmissionID   uint                  `json:"submission_id"`
	Number         int                   `json:"number"`
	FileRefs       []FileRef             `json:"file_refs"`
	Comment        string                `json:"comment"`
	TriggerType    string                `json:"trigger_type"`
	TotalFiles     int                   `json:"total_files"`
	TotalSizeBytes int64                 `json:"total_size_bytes"`
	CreatedAt      time.Time             `json:"created_at"`
	CheckResults   []CheckResultResponse `json:"check_results"`
}

// NewVersionResponse converts a Version model into a DTO.
func NewVersionResponse(model models.Version) VersionResponse {
	response := VersionResponse{
		ID:             model.ID,
		SubmissionID:   model.SubmissionID,
		Number:         model.Number,
		Comment:        model.Comment,
		TriggerType:    model.TriggerType,
		TotalFiles:     model.TotalFiles,
		TotalSizeBytes: model.TotalSizeBytes,
		CreatedAt:      model.CreatedAt,
		CheckResults:   make([]CheckResultResponse, 0, len(models.AllCheckTypes)),
	}

	if len(model.FileRefs) > 0 {
		_ = json.Unmarshal(model.FileRefs, &response.FileRefs)
	}

	for _, checkType := range models.AllCheckTypes {
		if result := model.CheckFor(checkType); result != nil {
			response.CheckResults = append(response.CheckResults, NewCheckResultResponse(*result))
		}
	}

	return response
}

// NewVersionResponseSlice converts a slice of versions.
func NewVersionResponseSlice(versions []models.Version) []VersionResponse {
	responses := make([]VersionResponse, 0, len(versions))
	for _, version := range versions {
		responses = append(responses, NewVersionResponse(version))
	}
	return responses
}
