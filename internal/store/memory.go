package store

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// Memory is a mutex-backed implementation of the session and
// identification stores. All returned records are copies; callers cannot
// mutate stored state through them.
type Memory struct {
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*schemas.HealingSession
	// active maps a (testCaseID, stepID) key to the id of its active
	// session, enforcing the idempotency guard.
	active map[string]string
	// identifications holds version-ordered records per step key.
	identifications map[string][]*schemas.ElementIdentification
}

// NewMemory creates an empty in-memory store.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		logger:          logger.Named("memstore"),
		sessions:        make(map[string]*schemas.HealingSession),
		active:          make(map[string]string),
		identifications: make(map[string][]*schemas.ElementIdentification),
	}
}

// InsertActive registers a session as the active one for its step key in a
// single critical section. When an active session already holds the key,
// that session is returned and created is false.
func (m *Memory) InsertActive(_ context.Context, session *schemas.HealingSession) (*schemas.HealingSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(session.TestCaseID, session.FailureDetails.StepID)
	if existingID, ok := m.active[key]; ok {
		if existing, found := m.sessions[existingID]; found && !existing.Status.IsTerminal() {
			return cloneSession(existing), false, nil
		}
		// A stale index entry for a terminal session does not block a new one.
		delete(m.active, key)
	}

	m.sessions[session.ID] = cloneSession(session)
	m.active[key] = session.ID
	return cloneSession(session), true, nil
}

// Update persists the current state of a session and releases the active
// key when the session has reached a terminal state.
func (m *Memory) Update(_ context.Context, session *schemas.HealingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; !ok {
		return fmt.Errorf("update session %s: %w", session.ID, ErrNotFound)
	}
	m.sessions[session.ID] = cloneSession(session)

	if session.Status.IsTerminal() {
		key := sessionKey(session.TestCaseID, session.FailureDetails.StepID)
		if m.active[key] == session.ID {
			delete(m.active, key)
		}
	}
	return nil
}

// Get returns a session by id.
func (m *Memory) Get(_ context.Context, id string) (*schemas.HealingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return cloneSession(session), nil
}

// Save inserts a new identification record.
func (m *Memory) Save(_ context.Context, record *schemas.ElementIdentification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(record.TestCaseID, record.StepID)
	m.identifications[key] = append(m.identifications[key], cloneIdentification(record))
	return nil
}

// GetLatest returns the newest identification for a test step.
func (m *Memory) GetLatest(_ context.Context, testCaseID, stepID string) (*schemas.ElementIdentification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.identifications[sessionKey(testCaseID, stepID)]
	if len(records) == 0 {
		return nil, fmt.Errorf("identification for step %s: %w", stepID, ErrNotFound)
	}
	return cloneIdentification(records[len(records)-1]), nil
}

// Supersede appends next if and only if prev is still the latest record at
// the expected version.
func (m *Memory) Supersede(_ context.Context, prev, next *schemas.ElementIdentification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(prev.TestCaseID, prev.StepID)
	records := m.identifications[key]
	if len(records) == 0 {
		return fmt.Errorf("supersede identification %s: %w", prev.ID, ErrNotFound)
	}
	latest := records[len(records)-1]
	if latest.ID != prev.ID || latest.Version != prev.Version {
		return fmt.Errorf("supersede identification %s at version %d: %w", prev.ID, prev.Version, ErrVersionConflict)
	}
	m.identifications[key] = append(records, cloneIdentification(next))
	return nil
}

func cloneSession(s *schemas.HealingSession) *schemas.HealingSession {
	out := *s
	out.HealingAttempts = append([]schemas.HealingAttempt(nil), s.HealingAttempts...)
	if s.FinalResolution != nil {
		resolution := *s.FinalResolution
		out.FinalResolution = &resolution
	}
	return &out
}

func cloneIdentification(r *schemas.ElementIdentification) *schemas.ElementIdentification {
	out := *r
	out.AlternativeSelectors = append([]string(nil), r.AlternativeSelectors...)
	out.ConfidenceScores = append([]float64(nil), r.ConfidenceScores...)
	if r.TechnicalDetails.Attributes != nil {
		attrs := make(map[string]string, len(r.TechnicalDetails.Attributes))
		for k, v := range r.TechnicalDetails.Attributes {
			attrs[k] = v
		}
		out.TechnicalDetails.Attributes = attrs
	}
	return &out
}
