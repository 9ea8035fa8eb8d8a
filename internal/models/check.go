package models

import (
	"time"

	"gorm.io/datatypes"
)

// Check types run against every version.
const (
	CheckTypeOriginality = "originality"
	CheckTypeQuality     = "quality"
)

// AllCheckTypes lists the evaluators dispatched per version.
var AllCheckTypes = []string{CheckTypeOriginality, CheckTypeQuality}

// Check states.
const (
	CheckStatePending  = "pending"
	CheckStateRunning  = "running"
	CheckStateComplete = "complete"
	CheckStateFailed   = "failed"
)

// CheckResult records the outcome of one evaluator call for one version.
// At most one non-terminal row may exist per (version, check type); a fresh
// attempt supersedes an in-flight one, it never duplicates it.
type CheckResult struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	VersionID   uint           `gorm:"not null;index:idx_check_version" json:"version_id"`
	CheckType   string         `gorm:"size:32;not null;index:idx_check_version" json:"check_type"`
	State       string         `gorm:"size:32;not null" json:"state"`
	Score       *float64       `json:"score"`
	Detail      datatypes.JSON `gorm:"type:json" json:"detail"`
	Attempt     int            `gorm:"not null;default:1" json:"attempt"`
	RequestID   string         `gorm:"size:64" json:"request_id"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsTerminal reports whether the result will not change again.
func (c CheckResult) IsTerminal() bool {
	return c.State == CheckStateComplete || c.State == CheckStateFailed
}

// ValidCheckType reports whether the supplied type names a known evaluator.
func ValidCheckType(checkType string) bool {
	for _, known := range AllCheckTypes {
		if checkType == known {
			return true
		}
	}
	return false
}
