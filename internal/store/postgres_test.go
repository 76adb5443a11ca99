package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL mocks.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

const (
	sqlInsertSession = `
		INSERT INTO healing_sessions (id, test_case_id, step_id, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (test_case_id, step_id)
			WHERE status NOT IN ('completed', 'failed', 'requires_review')
			DO NOTHING;
	`
	sqlUpdateSession = `
		UPDATE healing_sessions SET status = $2, payload = $3, updated_at = $4 WHERE id = $1;
	`
	sqlSupersedeUpdate = `
		UPDATE element_identifications SET superseded = TRUE
		WHERE id = $1 AND version = $2 AND NOT superseded;
	`
	sqlInsertIdentification = `
		INSERT INTO element_identifications (id, test_case_id, step_id, version, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Postgres) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool, NewPostgres(mockPool, zaptest.NewLogger(t))
}

func TestPostgresInsertActive(t *testing.T) {
	t.Run("should create when no active session holds the key", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		session := newSession("tc-1", "step-1")

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSession)).
			WithArgs(session.ID, "tc-1", "step-1", "pending",
				pgxmock.AnyArg(), session.CreatedAt, session.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		stored, created, err := store.InsertActive(context.Background(), session)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, session.ID, stored.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should return the existing session on conflict", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		existing := newSession("tc-1", "step-1")
		existing.Status = schemas.StatusHealing
		payload, err := json.Marshal(existing)
		require.NoError(t, err)

		session := newSession("tc-1", "step-1")
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertSession)).
			WithArgs(session.ID, "tc-1", "step-1", "pending",
				pgxmock.AnyArg(), session.CreatedAt, session.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))
		mockPool.ExpectQuery(`SELECT payload FROM healing_sessions`).
			WithArgs("tc-1", "step-1").
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

		stored, created, err := store.InsertActive(context.Background(), session)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, stored.ID)
		assert.Equal(t, schemas.StatusHealing, stored.Status)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresUpdate(t *testing.T) {
	t.Run("should persist the session payload", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		session := newSession("tc-1", "step-1")
		session.Status = schemas.StatusCompleted

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateSession)).
			WithArgs(session.ID, "completed", pgxmock.AnyArg(), session.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.Update(context.Background(), session))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report not found for unknown ids", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		session := newSession("tc-1", "step-1")

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateSession)).
			WithArgs(session.ID, "pending", pgxmock.AnyArg(), session.UpdatedAt).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.Update(context.Background(), session)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresGetLatest(t *testing.T) {
	mockPool, store := newMockStore(t)
	record := newIdentification("tc-1", "step-1", 3)
	payload, err := json.Marshal(record)
	require.NoError(t, err)

	mockPool.ExpectQuery(`SELECT payload FROM element_identifications`).
		WithArgs("tc-1", "step-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

	got, err := store.GetLatest(context.Background(), "tc-1", "step-1")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, int64(3), got.Version)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPostgresSupersede(t *testing.T) {
	t.Run("should replace the record transactionally", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		prev := newIdentification("tc-1", "step-1", 1)
		next := newIdentification("tc-1", "step-1", 2)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlSupersedeUpdate)).
			WithArgs(prev.ID, prev.Version).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertIdentification)).
			WithArgs(next.ID, "tc-1", "step-1", next.Version, pgxmock.AnyArg(), next.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback() // deferred rollback after commit is a no-op

		require.NoError(t, store.Supersede(context.Background(), prev, next))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back on a lost version race", func(t *testing.T) {
		mockPool, store := newMockStore(t)
		prev := newIdentification("tc-1", "step-1", 1)
		next := newIdentification("tc-1", "step-1", 2)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlSupersedeUpdate)).
			WithArgs(prev.ID, prev.Version).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectRollback()

		err := store.Supersede(context.Background(), prev, next)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPostgresSchemaFailure(t *testing.T) {
	mockPool, store := newMockStore(t)
	boom := errors.New("permission denied")
	mockPool.ExpectExec(`CREATE TABLE IF NOT EXISTS healing_sessions`).
		WillReturnError(boom)

	err := store.EnsureSchema(context.Background())
	assert.ErrorIs(t, err, boom)
}
