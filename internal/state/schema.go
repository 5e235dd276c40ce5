package state

import "context"

// schema mirrors the shape of the teacher's sqlite.Store.createSchema: a
// single exec'd DDL string, CREATE TABLE IF NOT EXISTS, explicit indexes.
// Adapted from SQLite's column types to Postgres's (TIMESTAMPTZ, BIGINT)
// since this store's production home is Postgres via pgx/stdlib.
const schema = `
CREATE TABLE IF NOT EXISTS review_states (
	request_id        TEXT PRIMARY KEY,
	provider          TEXT NOT NULL,
	repository_id     TEXT NOT NULL,
	change_request_id BIGINT NOT NULL,
	state             TEXT NOT NULL,
	request_payload   TEXT NOT NULL,
	result_payload    TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ,
	UNIQUE (repository_id, change_request_id, provider)
);

CREATE INDEX IF NOT EXISTS idx_review_states_lookup
	ON review_states (repository_id, change_request_id, provider);

CREATE INDEX IF NOT EXISTS idx_review_states_created
	ON review_states (created_at);
`

// CreateSchema applies the store's DDL. Safe to call repeatedly; every
// statement is idempotent (IF NOT EXISTS).
func CreateSchema(ctx context.Context, db Queryer) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
