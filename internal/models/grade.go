package models

import (
	"time"

	"gorm.io/datatypes"
)

// RubricScore is one lecturer-entered criterion score inside a grade record.
type RubricScore struct {
	Criterion string  `json:"criterion" validate:"required"`
	Score     float64 `json:"score" validate:"gte=0"`
	MaxScore  float64 `json:"max_score" validate:"gt=0"`
}

// GradeRecord is the immutable result of one finalize action. Re-grading
// appends a new record for the same submission; history is never rewritten.
type GradeRecord struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	SubmissionID  uint           `gorm:"not null;index" json:"submission_id"`
	VersionNumber int            `gorm:"not null" json:"version_number"`
	RubricScores  datatypes.JSON `gorm:"type:json" json:"rubric_scores"`
	FinalScore    float64        `gorm:"not null" json:"final_score"`
	Feedback      string         `gorm:"type:text" json:"feedback"`
	GradedBy      uint           `gorm:"not null" json:"graded_by"`
	GradedAt      time.Time      `gorm:"not null" json:"graded_at"`
	CreatedAt     time.Time      `json:"created_at"`
}
