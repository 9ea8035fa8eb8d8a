package models

import "time"

// Assignment is the read-only definition a submission belongs to. Assignment
// administration happens outside this service; the core only resolves the
// deadline and the maximum rubric score.
type Assignment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	DueAt     time.Time `gorm:"not null" json:"due_at"`
	MaxScore  float64   `gorm:"not null;default:100" json:"max_score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPastDue returns true when the assignment deadline has already passed.
func (a Assignment) IsPastDue(reference time.Time) bool {
	return reference.After(a.DueAt)
}
