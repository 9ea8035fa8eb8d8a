package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from    string
		to      string
		allowed bool
	}{
		{SubmissionStatusDraft, SubmissionStatusSubmitted, true},
		{SubmissionStatusDraft, SubmissionStatusGraded, false},
		{SubmissionStatusSubmitted, SubmissionStatusUnderReview, true},
		{SubmissionStatusSubmitted, SubmissionStatusFlagged, true},
		{SubmissionStatusSubmitted, SubmissionStatusDraft, false},
		{SubmissionStatusUnderReview, SubmissionStatusGraded, true},
		{SubmissionStatusUnderReview, SubmissionStatusFlagged, true},
		{SubmissionStatusFlagged, SubmissionStatusGraded, true},
		{SubmissionStatusFlagged, SubmissionStatusUnderReview, false},
		{SubmissionStatusGraded, SubmissionStatusSubmitted, true},
		{SubmissionStatusGraded, SubmissionStatusDraft, false},
		{"unknown", SubmissionStatusSubmitted, false},
	}

	for _, tc := range cases {
		submission := Submission{Status: tc.from}
		require.Equal(t, tc.allowed, submission.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIsLate(t *testing.T) {
	due := time.Now()

	onTime := due.Add(-time.Minute)
	require.False(t, Submission{DueAt: due, SubmittedAt: &onTime}.IsLate())

	late := due.Add(time.Minute)
	require.True(t, Submission{DueAt: due, SubmittedAt: &late}.IsLate())

	require.False(t, Submission{DueAt: due}.IsLate())
}

func TestIsOverdue(t *testing.T) {
	due := time.Now().Add(-time.Hour)

	require.True(t, Submission{Status: SubmissionStatusDraft, DueAt: due}.IsOverdue(time.Now()))
	require.False(t, Submission{Status: SubmissionStatusSubmitted, DueAt: due}.IsOverdue(time.Now()))
	require.False(t, Submission{Status: SubmissionStatusGraded, DueAt: due}.IsOverdue(time.Now()))

	future := time.Now().Add(time.Hour)
	require.False(t, Submission{Status: SubmissionStatusDraft, DueAt: future}.IsOverdue(time.Now()))
}

func TestChecksTerminal(t *testing.T) {
	version := Version{}
	require.False(t, version.ChecksTerminal())

	version.CheckResults = []CheckResult{
		{CheckType: CheckTypeOriginality, State: CheckStateComplete, Attempt: 1},
	}
	require.False(t, version.ChecksTerminal())

	version.CheckResults = append(version.CheckResults, CheckResult{CheckType: CheckTypeQuality, State: CheckStateRunning, Attempt: 1})
	require.False(t, version.ChecksTerminal())

	version.CheckResults[1].State = CheckStateFailed
	require.True(t, version.ChecksTerminal())
}

func TestCheckForReturnsLatestAttempt(t *testing.T) {
	version := Version{CheckResults: []CheckResult{
		{CheckType: CheckTypeOriginality, State: CheckStateFailed, Attempt: 1},
		{CheckType: CheckTypeOriginality, State: CheckStateComplete, Attempt: 2},
		{CheckType: CheckTypeQuality, State: CheckStateComplete, Attempt: 1},
	}}

	latest := version.CheckFor(CheckTypeOriginality)
	require.NotNil(t, latest)
	require.Equal(t, 2, latest.Attempt)
	require.Equal(t, CheckStateComplete, latest.State)

	require.Nil(t, version.CheckFor("syntax"))
}
