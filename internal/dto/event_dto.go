package dto

import (
	"encoding/json"
	"time"

	"github.com/smartlms/submission-core/internal/models"
)

// EventResponse is one entry of the per-submission event stream. Consumers
// must dedupe on EventID; delivery is at-least-once.
type EventResponse struct {
	EventID      string                 `json:"event_id"`
	SubmissionID uint                   `json:"submission_id"`
	Seq          int64                  `json:"seq"`
	Type         string                 `json:"type"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NewEventResponse converts a SubmissionEvent model into a DTO.
func NewEventResponse(model models.SubmissionEvent) EventResponse {
	response := EventResponse{
		EventID:      model.EventID,
		SubmissionID: model.SubmissionID,
		Seq:          model.Seq,
		Type:         model.Type,
		Timestamp:    model.CreatedAt,
	}

	if len(model.Payload) > 0 {
		_ = json.Unmarshal(model.Payload, &response.Payload)
	}

	return response
}

// NewEventResponseSlice converts a slice of events preserving order.
func NewEventResponseSlice(events []models.SubmissionEvent) []EventResponse {
	responses := make([]EventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, NewEventResponse(event))
	}
	return responses
}
