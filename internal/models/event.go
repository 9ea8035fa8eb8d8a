package models

import (
	"time"

	"gorm.io/datatypes"
)

// Lifecycle event types published per submission.
const (
	EventVersionCreated     = "version.created"
	EventCheckStarted       = "check.started"
	EventCheckCompleted     = "check.completed"
	EventStateChanged       = "state.changed"
	EventSubmissionGraded   = "submission.graded"
	EventSubmissionReopened = "submission.reopened"
)

// SubmissionEvent is one entry in the per-submission, totally ordered event
// log. Delivery downstream is at-least-once; consumers dedupe on EventID.
type SubmissionEvent struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	EventID      string         `gorm:"size:64;not null;uniqueIndex" json:"event_id"`
	SubmissionID uint           `gorm:"not null;uniqueIndex:idx_event_seq" json:"submission_id"`
	Seq          int64          `gorm:"not null;uniqueIndex:idx_event_seq" json:"seq"`
	Type         string         `gorm:"size:64;not null" json:"type"`
	Payload      datatypes.JSON `gorm:"type:json" json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`
}
