// Package state implements the Review State Store (C11): a relational
// table keyed by (repositoryId, changeRequestId, provider) carrying each
// review's FSM state, its originating request, and its result once
// available, plus a retention sweep.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codewatch-dev/codewatch/internal/domain"
)

// Queryer is the subset of *sql.DB this store needs, in the same spirit as
// the teacher's direct use of *sql.DB: a thin seam that lets tests swap in
// any database/sql-compatible connection without a mocking framework.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// ReviewKey is the store's business key.
type ReviewKey struct {
	RepositoryID    domain.RepositoryIdentifier
	ChangeRequestID domain.ChangeRequestIdentifier
	Provider        domain.Provider
}

// Row is one persisted review-lifecycle record.
type Row struct {
	RequestID   uuid.UUID
	Key         ReviewKey
	State       domain.ReviewState
	Request     domain.AsyncReviewRequest
	Result      *domain.ReviewResult
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Store is the C11 Review State Store, backed by any database/sql driver
// (production wiring is github.com/jackc/pgx/v5/stdlib, registered by the
// composition root before NewStore is called).
type Store struct {
	db Queryer

	// Logger is optional; when set, UpdateResultAndState uses it to record
	// whether a write to an already-COMPLETED row carried a genuinely new
	// result or a redelivered duplicate (domain.Issue.Fingerprint(), §12 of
	// SPEC_FULL.md). A nil Logger disables the check entirely.
	Logger *zap.Logger
}

// NewStore wraps an already-open connection. It does not create the
// schema; call CreateSchema once at startup (or via migration tooling).
func NewStore(db Queryer) *Store {
	return &Store{db: db}
}

// Save inserts a PENDING row for req's key if none exists. If a row
// already exists for the key (two messages racing for the same change
// request, §5), it is deleted and reinserted at PENDING with req's
// payload, preserving the original createdAt — the last writer wins on
// content, and the FSM restarts cleanly rather than carrying over a stale
// in-flight or terminal state from the loser of the race.
func (s *Store) Save(ctx context.Context, req domain.AsyncReviewRequest) error {
	key := ReviewKey{RepositoryID: req.RepositoryID, ChangeRequestID: req.ChangeRequestID, Provider: req.Provider}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("state: marshal request: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var createdAt time.Time
	var priorResult sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT created_at, result_payload FROM review_states
		WHERE repository_id = $1 AND change_request_id = $2 AND provider = $3
	`, key.RepositoryID.String(), int64(key.ChangeRequestID), string(key.Provider)).Scan(&createdAt, &priorResult)

	now := time.Now().UTC()
	switch {
	case err == sql.ErrNoRows:
		createdAt = now
	case err != nil:
		return fmt.Errorf("%w: lookup existing row: %v", ErrUnavailable, err)
	default:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM review_states
			WHERE repository_id = $1 AND change_request_id = $2 AND provider = $3
		`, key.RepositoryID.String(), int64(key.ChangeRequestID), string(key.Provider)); err != nil {
			return fmt.Errorf("%w: delete existing row: %v", ErrUnavailable, err)
		}
	}

	// A prior result survives the reinsert (rather than being wiped to
	// NULL) so a subsequent UpdateResultAndState on this key can still
	// tell a genuinely new result apart from a redelivered duplicate of
	// the loser's own previous run.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO review_states
			(request_id, provider, repository_id, change_request_id, state, request_payload, result_payload, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
	`,
		req.RequestID.String(), string(key.Provider), key.RepositoryID.String(), int64(key.ChangeRequestID),
		string(domain.StatePending), string(payload), priorResult, createdAt, now,
	); err != nil {
		return fmt.Errorf("%w: insert row: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateState transitions key's row to newState. The transition must be
// legal per domain.CanTransition given the row's current state;
// terminal states also stamp completedAt.
func (s *Store) UpdateState(ctx context.Context, key ReviewKey, newState domain.ReviewState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	current, err := lockCurrentState(ctx, tx, key)
	if err != nil {
		return err
	}
	if !domain.CanTransition(current, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, newState)
	}

	if err := applyStateUpdate(ctx, tx, key, newState); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// UpdateResultAndState writes result and transitions to newState in a
// single transaction (§4.11: "a single transaction").
func (s *Store) UpdateResultAndState(ctx context.Context, key ReviewKey, result domain.ReviewResult, newState domain.ReviewState) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("state: marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	current, err := lockCurrentState(ctx, tx, key)
	if err != nil {
		return err
	}
	if !domain.CanTransition(current, newState) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, newState)
	}

	s.logDuplicateOrNew(ctx, tx, key, result)

	now := time.Now().UTC()
	var completedAt *time.Time
	if newState.Terminal() {
		completedAt = &now
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE review_states
		SET state = $1, result_payload = $2, updated_at = $3, completed_at = $4
		WHERE repository_id = $5 AND change_request_id = $6 AND provider = $7
	`, string(newState), string(payload), now, completedAt,
		key.RepositoryID.String(), int64(key.ChangeRequestID), string(key.Provider),
	); err != nil {
		return fmt.Errorf("%w: update row: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return nil
}

// FindByKey looks up a row by its business key.
func (s *Store) FindByKey(ctx context.Context, key ReviewKey) (Row, error) {
	var (
		row             Row
		requestID       string
		provider        string
		repositoryID    string
		changeRequestID int64
		state           string
		requestPayload  string
		resultPayload   sql.NullString
		completedAt     sql.NullTime
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT request_id, provider, repository_id, change_request_id, state,
		       request_payload, result_payload, created_at, updated_at, completed_at
		FROM review_states
		WHERE repository_id = $1 AND change_request_id = $2 AND provider = $3
	`, key.RepositoryID.String(), int64(key.ChangeRequestID), string(key.Provider)).Scan(
		&requestID, &provider, &repositoryID, &changeRequestID, &state,
		&requestPayload, &resultPayload, &row.CreatedAt, &row.UpdatedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return Row{}, ErrNotFound
	}
	if err != nil {
		return Row{}, fmt.Errorf("%w: find by key: %v", ErrUnavailable, err)
	}

	row.RequestID, err = uuid.Parse(requestID)
	if err != nil {
		return Row{}, fmt.Errorf("state: parse request id: %w", err)
	}
	row.Key = key
	row.State = domain.ReviewState(state)
	if completedAt.Valid {
		t := completedAt.Time
		row.CompletedAt = &t
	}

	if err := json.Unmarshal([]byte(requestPayload), &row.Request); err != nil {
		return Row{}, fmt.Errorf("state: unmarshal request: %w", err)
	}
	if resultPayload.Valid {
		var result domain.ReviewResult
		if err := json.Unmarshal([]byte(resultPayload.String), &result); err != nil {
			return Row{}, fmt.Errorf("state: unmarshal result: %w", err)
		}
		row.Result = &result
	}

	return row, nil
}

// Sweep deletes rows older than retention, measured from createdAt, and
// returns the number of rows removed (the periodic retention sweep,
// §4.11, run by the sweeper binary).
func (s *Store) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx, `DELETE FROM review_states WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: sweep rows affected: %v", ErrUnavailable, err)
	}
	return n, nil
}

// logDuplicateOrNew reads back whatever result_payload is currently stored
// for key (which Save, §"preserve" note above, carries forward across a
// racing reinsert rather than wiping) and logs whether result's issue
// fingerprints match it. A nil Store.Logger makes this a no-op; a read
// failure is swallowed since this is observability, not a correctness gate.
func (s *Store) logDuplicateOrNew(ctx context.Context, tx *sql.Tx, key ReviewKey, result domain.ReviewResult) {
	if s.Logger == nil {
		return
	}
	var priorPayload sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT result_payload FROM review_states
		WHERE repository_id = $1 AND change_request_id = $2 AND provider = $3
	`, key.RepositoryID.String(), int64(key.ChangeRequestID), string(key.Provider)).Scan(&priorPayload)
	if err != nil || !priorPayload.Valid {
		return
	}
	var prior domain.ReviewResult
	if err := json.Unmarshal([]byte(priorPayload.String), &prior); err != nil {
		return
	}
	if result.SameIssuesAs(prior) {
		s.Logger.Debug("review result matches the previously recorded result for this change request",
			zap.String("repositoryId", key.RepositoryID.String()),
			zap.Int64("changeRequestId", int64(key.ChangeRequestID)))
	} else {
		s.Logger.Debug("review result differs from the previously recorded result for this change request",
			zap.String("repositoryId", key.RepositoryID.String()),
			zap.Int64("changeRequestId", int64(key.ChangeRequestID)))
	}
}

func lockCurrentState(ctx context.Context, tx *sql.Tx, key ReviewKey) (domain.ReviewState, error) {
	var state string
	err := tx.QueryRowContext(ctx, `
		SELECT state FROM review_states
		WHERE repository_id = $1 AND change_request_id = $2 AND provider = $3
	`, key.RepositoryID.String(), int64(key.ChangeRequestID), string(key.Provider)).Scan(&state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: lock current state: %v", ErrUnavailable, err)
	}
	return domain.ReviewState(state), nil
}

func applyStateUpdate(ctx context.Context, tx *sql.Tx, key ReviewKey, newState domain.ReviewState) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if newState.Terminal() {
		completedAt = &now
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE review_states
		SET state = $1, updated_at = $2, completed_at = $3
		WHERE repository_id = $4 AND change_request_id = $5 AND provider = $6
	`, string(newState), now, completedAt,
		key.RepositoryID.String(), int64(key.ChangeRequestID), string(key.Provider),
	); err != nil {
		return fmt.Errorf("%w: update row: %v", ErrUnavailable, err)
	}
	return nil
}
