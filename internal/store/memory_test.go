package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kestrelqa/selfheal/api/schemas"
)

func newSession(testCaseID, stepID string) *schemas.HealingSession {
	return &schemas.HealingSession{
		ID:         uuid.NewString(),
		TestCaseID: testCaseID,
		Status:     schemas.StatusPending,
		FailureDetails: schemas.FailureDetails{
			StepID:           stepID,
			FailureType:      schemas.FailureElementNotFound,
			OriginalSelector: "#gone",
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestInsertActiveIsIdempotentUnderRace(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	const racers = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		winners = map[string]bool{}
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stored, ok, err := m.InsertActive(ctx, newSession("tc-1", "step-1"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			winners[stored.ID] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "exactly one trigger may win the step key")
	assert.Len(t, winners, 1, "every racer must observe the same session")
}

func TestInsertActiveReleasedAfterTerminal(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	first := newSession("tc-1", "step-1")
	_, created, err := m.InsertActive(ctx, first)
	require.NoError(t, err)
	require.True(t, created)

	// A second trigger while the first is active returns the first.
	second := newSession("tc-1", "step-1")
	stored, created, err := m.InsertActive(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, stored.ID)

	// Finishing the first releases the key.
	first.Status = schemas.StatusFailed
	require.NoError(t, m.Update(ctx, first))

	stored, created, err = m.InsertActive(ctx, second)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, second.ID, stored.ID)
}

func TestDifferentStepsDoNotBlockEachOther(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	_, created, err := m.InsertActive(ctx, newSession("tc-1", "step-1"))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = m.InsertActive(ctx, newSession("tc-1", "step-2"))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = m.InsertActive(ctx, newSession("tc-2", "step-1"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestUpdateUnknownSession(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	err := m.Update(context.Background(), newSession("tc-1", "step-1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetReturnsACopy(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	session := newSession("tc-1", "step-1")
	_, _, err := m.InsertActive(ctx, session)
	require.NoError(t, err)

	got, err := m.Get(ctx, session.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(session, got); diff != "" {
		t.Fatalf("stored session mismatch (-want +got):\n%s", diff)
	}

	got.Status = schemas.StatusFailed
	got.HealingAttempts = append(got.HealingAttempts, schemas.HealingAttempt{AttemptNumber: 1})

	reread, err := m.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusPending, reread.Status)
	assert.Empty(t, reread.HealingAttempts)
}

func newIdentification(testCaseID, stepID string, version int64) *schemas.ElementIdentification {
	return &schemas.ElementIdentification{
		ID:              uuid.NewString(),
		TestCaseID:      testCaseID,
		StepID:          stepID,
		PrimarySelector: "#x",
		Version:         version,
		CreatedAt:       time.Now().UTC(),
	}
}

func TestSupersedeVersionCheck(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	ctx := context.Background()

	v1 := newIdentification("tc-1", "step-1", 1)
	require.NoError(t, m.Save(ctx, v1))

	v2 := newIdentification("tc-1", "step-1", 2)
	require.NoError(t, m.Supersede(ctx, v1, v2))

	latest, err := m.GetLatest(ctx, "tc-1", "step-1")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, latest.ID)

	// A second supersede of the same v1 loses the race.
	v2b := newIdentification("tc-1", "step-1", 2)
	err = m.Supersede(ctx, v1, v2b)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestGetLatestMissing(t *testing.T) {
	m := NewMemory(zaptest.NewLogger(t))
	_, err := m.GetLatest(context.Background(), "tc-1", "never")
	assert.ErrorIs(t, err, ErrNotFound)
}
