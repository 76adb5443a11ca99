// Package store persists healing sessions and element identification
// records. The postgres implementation backs multi-node deployments; the
// memory implementation serves tests and single-process runs. Both enforce
// the same two guarantees: at most one active session per
// (testCaseID, stepID) key, and version-checked identification supersede.
package store

import "errors"

var (
	// ErrNotFound is returned when a session or identification does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when an identification supersede loses
	// an optimistic-concurrency race.
	ErrVersionConflict = errors.New("identification version conflict")
)

// sessionKey builds the uniqueness key for the active-session guard.
func sessionKey(testCaseID, stepID string) string {
	return testCaseID + "\x00" + stepID
}
