package dto

import (
	"encoding/json"
	"time"

	"github.com/smartlms/submission-core/internal/models"
)

// CheckResultResponse serializes the outcome of one evaluator call.
type CheckResultResponse struct {
	CheckType   string                 `json:"check_type"`
	State       string                 `json:"state"`
	Score       *float64               `json:"score"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	Attempt     int                    `json:"attempt"`
	StartedAt   *time.Time             `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at"`
}

// NewCheckResultResponse converts a CheckResult model into a DTO.
func NewCheckResultResponse(model models.CheckResult) CheckResultResponse {
	response := CheckResultResponse{
		CheckType:   model.CheckType,
		State:       model.State,
		Score:       model.Score,
		Attempt:     model.Attempt,
		StartedAt:   model.StartedAt,
		CompletedAt: model.CompletedAt,
	}

	if len(model.Detail) > 0 {
		_ = json.Unmarshal(model.Detail, &response.Detail)
	}

	return response
}
