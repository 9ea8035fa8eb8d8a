package service

import (
	"fmt"
	"sync"
)

// Actor identifies the caller of a core operation. Identity always arrives
// explicitly as a parameter; the core keeps no ambient session state.
type Actor struct {
	ID   uint
	Role string
}

// SubmissionLocker serializes every mutating operation for one submission.
// Evaluator I/O never runs while a lock is held.
type SubmissionLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewSubmissionLocker() *SubmissionLocker {
	return &SubmissionLocker{locks: make(map[string]*lockEntry)}
}

// Lock acquires the logical lock for the given key and returns its release func.
func (l *SubmissionLocker) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// LockSubmission acquires the lock for a known submission id.
func (l *SubmissionLocker) LockSubmission(submissionID uint) func() {
	return l.Lock(fmt.Sprintf("submission:%d", submissionID))
}

// LockOwner acquires the lock for a (assignment, student) pair before the
// submission row exists.
func (l *SubmissionLocker) LockOwner(assignmentID, studentID uint) func() {
	return l.Lock(fmt.Sprintf("owner:%d:%d", assignmentID, studentID))
}
