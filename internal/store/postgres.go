package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kestrelqa/selfheal/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PgxIface is the slice of pgxpool.Pool the store uses. pgxmock satisfies
// it in tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres implements the session and identification stores on a
// PostgreSQL backend. The active-session guard rides on a partial unique
// index over non-terminal sessions, so check-and-insert is a single
// statement rather than a read-then-write race.
type Postgres struct {
	db  PgxIface
	log *zap.Logger
}

// Schema creates the tables and the partial unique index backing the
// idempotency guard.
const Schema = `
CREATE TABLE IF NOT EXISTS healing_sessions (
	id           TEXT PRIMARY KEY,
	test_case_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_healing_sessions_active
	ON healing_sessions (test_case_id, step_id)
	WHERE status NOT IN ('completed', 'failed', 'requires_review');

CREATE TABLE IF NOT EXISTS element_identifications (
	id           TEXT PRIMARY KEY,
	test_case_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	version      BIGINT NOT NULL,
	superseded   BOOLEAN NOT NULL DEFAULT FALSE,
	payload      JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS ix_element_identifications_step
	ON element_identifications (test_case_id, step_id, version DESC);
`

// NewPostgres creates a store over an existing connection pool.
func NewPostgres(db PgxIface, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, log: logger.Named("pgstore")}
}

// EnsureSchema applies the schema idempotently.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply store schema: %w", err)
	}
	return nil
}

// InsertActive registers a session as the active one for its step key. The
// partial unique index turns a duplicate trigger into a no-op insert; the
// existing session is then fetched and returned with created=false.
func (p *Postgres) InsertActive(ctx context.Context, session *schemas.HealingSession) (*schemas.HealingSession, bool, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal session: %w", err)
	}

	tag, err := p.db.Exec(ctx, `
		INSERT INTO healing_sessions (id, test_case_id, step_id, status, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (test_case_id, step_id)
			WHERE status NOT IN ('completed', 'failed', 'requires_review')
			DO NOTHING;
	`, session.ID, session.TestCaseID, session.FailureDetails.StepID,
		string(session.Status), payload, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert session: %w", err)
	}

	if tag.RowsAffected() == 1 {
		return session, true, nil
	}

	existing, err := p.activeByStep(ctx, session.TestCaseID, session.FailureDetails.StepID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (p *Postgres) activeByStep(ctx context.Context, testCaseID, stepID string) (*schemas.HealingSession, error) {
	var payload []byte
	err := p.db.QueryRow(ctx, `
		SELECT payload FROM healing_sessions
		WHERE test_case_id = $1 AND step_id = $2
		  AND status NOT IN ('completed', 'failed', 'requires_review');
	`, testCaseID, stepID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("active session for step %s: %w", stepID, ErrNotFound)
		}
		return nil, err
	}
	return unmarshalSession(payload)
}

// Update persists the current state of a session. Terminal statuses fall
// out of the partial index automatically, releasing the step key.
func (p *Postgres) Update(ctx context.Context, session *schemas.HealingSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	tag, err := p.db.Exec(ctx, `
		UPDATE healing_sessions SET status = $2, payload = $3, updated_at = $4 WHERE id = $1;
	`, session.ID, string(session.Status), payload, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session %s: %w", session.ID, ErrNotFound)
	}
	return nil
}

// Get returns a session by id.
func (p *Postgres) Get(ctx context.Context, id string) (*schemas.HealingSession, error) {
	var payload []byte
	err := p.db.QueryRow(ctx, `SELECT payload FROM healing_sessions WHERE id = $1;`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return unmarshalSession(payload)
}

// Save inserts a new identification record.
func (p *Postgres) Save(ctx context.Context, record *schemas.ElementIdentification) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal identification: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO element_identifications (id, test_case_id, step_id, version, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, record.ID, record.TestCaseID, record.StepID, record.Version, payload, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert identification %s: %w", record.ID, err)
	}
	return nil
}

// GetLatest returns the newest identification for a test step.
func (p *Postgres) GetLatest(ctx context.Context, testCaseID, stepID string) (*schemas.ElementIdentification, error) {
	var payload []byte
	err := p.db.QueryRow(ctx, `
		SELECT payload FROM element_identifications
		WHERE test_case_id = $1 AND step_id = $2
		ORDER BY version DESC LIMIT 1;
	`, testCaseID, stepID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("identification for step %s: %w", stepID, ErrNotFound)
		}
		return nil, err
	}

	var record schemas.ElementIdentification
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identification: %w", err)
	}
	return &record, nil
}

// Supersede marks prev superseded and inserts next inside one transaction.
// The version check on the UPDATE makes the whole operation optimistic: a
// session that lost the race rolls back without writing anything.
func (p *Postgres) Supersede(ctx context.Context, prev, next *schemas.ElementIdentification) error {
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to marshal identification: %w", err)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin supersede transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE element_identifications SET superseded = TRUE
		WHERE id = $1 AND version = $2 AND NOT superseded;
	`, prev.ID, prev.Version)
	if err != nil {
		return fmt.Errorf("failed to mark identification %s superseded: %w", prev.ID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("supersede identification %s at version %d: %w", prev.ID, prev.Version, ErrVersionConflict)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO element_identifications (id, test_case_id, step_id, version, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`, next.ID, next.TestCaseID, next.StepID, next.Version, payload, next.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert replacement identification: %w", err)
	}

	return tx.Commit(ctx)
}

func unmarshalSession(payload []byte) (*schemas.HealingSession, error) {
	var session schemas.HealingSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}
