package models

import "time"

// Submission holds the authoritative lifecycle state for one (student, assignment) pair.
type Submission struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	AssignmentID         uint       `gorm:"not null;uniqueIndex:idx_submission_owner" json:"assignment_id"`
	StudentID            uint       `gorm:"not null;uniqueIndex:idx_submission_owner" json:"student_id"`
	Status               string     `gorm:"size:32;not null" json:"status"`
	DueAt                time.Time  `json:"due_at"`
	SubmittedAt          *time.Time `json:"submitted_at"`
	CurrentVersionNumber int        `gorm:"not null;default:0" json:"current_version_number"`
	ManualReviewRequired bool       `gorm:"not null;default:false" json:"manual_review_required"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	Assignment           Assignment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assignment"`
	Versions             []Version  `json:"versions,omitempty"`
}

// Submission lifecycle states. The set is closed; presentation layers must
// derive every display variant from these values.
const (
	SubmissionStatusDraft       = "draft"
	SubmissionStatusSubmitted   = "submitted"
	SubmissionStatusUnderReview = "under_review"
	SubmissionStatusFlagged     = "flagged"
	SubmissionStatusGraded      = "graded"
)

var submissionTransitions = map[string]map[string]struct{}{
	SubmissionStatusDraft: {
		SubmissionStatusSubmitted: {},
	},
	SubmissionStatusSubmitted: {
		SubmissionStatusUnderReview: {},
		SubmissionStatusFlagged:     {},
	},
	SubmissionStatusUnderReview: {
		SubmissionStatusFlagged: {},
		SubmissionStatusGraded:  {},
	},
	SubmissionStatusFlagged: {
		SubmissionStatusGraded: {},
	},
	SubmissionStatusGraded: {
		// Re-open via explicit lecturer action only.
		SubmissionStatusSubmitted: {},
	},
}

// CanTransition reports whether moving from the current status to target is legal.
func (s Submission) CanTransition(target string) bool {
	targets, ok := submissionTransitions[s.Status]
	if !ok {
		return false
	}
	_, ok = targets[target]
	return ok
}

// IsGraded reports whether the submission has reached the graded state.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}

// AcceptsVersions reports whether new versions may be appended in the current state.
func (s Submission) AcceptsVersions() bool {
	return s.Status != SubmissionStatusGraded
}

// IsLate reports whether the formal submit happened after the deadline.
func (s Submission) IsLate() bool {
	return s.SubmittedAt != nil && s.SubmittedAt.After(s.DueAt)
}

// IsOverdue is the derived display flag for submissions past due that never
// reached a submitted state. It is never persisted.
func (s Submission) IsOverdue(reference time.Time) bool {
	switch s.Status {
	case SubmissionStatusSubmitted, SubmissionStatusUnderReview, SubmissionStatusFlagged, SubmissionStatusGraded:
		return false
	}
	return reference.After(s.DueAt)
}
