package models

import (
	"time"

	"gorm.io/datatypes"
)

// Version trigger types mirror how the snapshot came to exist.
const (
	VersionTriggerManual     = "manual"
	VersionTriggerAutoSave   = "auto_save"
	VersionTriggerSubmission = "submission"
)

// Version is one immutable snapshot of a student's files for a submission.
// Numbers form a gapless sequence starting at 1; after creation the only rows
// that ever change underneath a version are its attached check results.
type Version struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	SubmissionID   uint               `gorm:"not null;uniqueIndex:idx_version_number" json:"submission_id"`
	Number         int                `gorm:"not null;uniqueIndex:idx_version_number" json:"number"`
	FileRefs       datatypes.JSON     `gorm:"type:json" json:"file_refs"`
	Comment        string             `gorm:"size:1000" json:"comment"`
	TriggerType    string             `gorm:"size:32;not null;default:manual" json:"trigger_type"`
	CreatedBy      uint               `json:"created_by"`
	TotalFiles     int                `gorm:"not null;default:0" json:"total_files"`
	TotalSizeBytes int64              `gorm:"not null;default:0" json:"total_size_bytes"`
	CreatedAt      time.Time          `json:"created_at"`
	CheckResults   []CheckResult      `json:"check_results,omitempty"`
}

// CheckFor returns the latest check result of the given type, if any.
func (v Version) CheckFor(checkType string) *CheckResult {
	var latest *CheckResult
	for i := range v.CheckResults {
		result := &v.CheckResults[i]
		if result.CheckType != checkType {
			continue
		}
		if latest == nil || result.Attempt > latest.Attempt {
			latest = result
		}
	}
	return latest
}

// ChecksTerminal reports whether every known check type has reached a
// terminal state for this version.
func (v Version) ChecksTerminal() bool {
	for _, checkType := range AllCheckTypes {
		result := v.CheckFor(checkType)
		if result == nil || !result.IsTerminal() {
			return false
		}
	}
	return true
}
