package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"autolender/internal/marketplace"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createStateTableSQL = `CREATE TABLE IF NOT EXISTS marketplace_state (
        account    TEXT        NOT NULL,
        kind       TEXT        NOT NULL,
        last_check TIMESTAMPTZ NOT NULL,
        seen_ids   BIGINT[]    NOT NULL DEFAULT '{}',
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (account, kind)
    );`

	createOperationsTableSQL = `CREATE TABLE IF NOT EXISTS operations (
        id         BIGSERIAL   PRIMARY KEY,
        account    TEXT        NOT NULL,
        kind       TEXT        NOT NULL,
        item_id    BIGINT      NOT NULL,
        loan_id    BIGINT      NOT NULL,
        rating     TEXT        NOT NULL,
        amount     NUMERIC     NOT NULL,
        status     TEXT        NOT NULL,
        reason     TEXT,
        dry_run    BOOLEAN     NOT NULL DEFAULT false,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );`

	createOperationsIndexSQL = `CREATE INDEX IF NOT EXISTS operations_created_at_idx ON operations (created_at);`

	upsertStateSQL = `INSERT INTO marketplace_state (
        account,
        kind,
        last_check,
        seen_ids
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (account, kind) DO UPDATE
    SET
        last_check = EXCLUDED.last_check,
        seen_ids   = EXCLUDED.seen_ids,
        updated_at = now();`

	selectStateSQL = `SELECT last_check, seen_ids
    FROM marketplace_state
    WHERE account = $1 AND kind = $2;`

	insertOperationSQL = `INSERT INTO operations (
        account,
        kind,
        item_id,
        loan_id,
        rating,
        amount,
        status,
        reason,
        dry_run,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	operationColumns = `id,
        account,
        kind,
        item_id,
        loan_id,
        rating,
        amount::text,
        status,
        reason,
        dry_run,
        created_at`

	listRecentOperationsSQL = `SELECT ` + operationColumns + `
    FROM operations
    ORDER BY created_at DESC
    LIMIT $1;`

	listOperationsBetweenSQL = `SELECT ` + operationColumns + `
    FROM operations
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OperationStore defines operations for the audit trail.
type OperationStore interface {
	InsertOperation(ctx context.Context, op Operation) error
	ListRecentOperations(ctx context.Context, limit int) ([]Operation, error)
	ListOperationsBetween(ctx context.Context, from, to time.Time) ([]Operation, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything the robot persists.
type Backend interface {
	marketplace.StateStore
	OperationStore
	Close()
}

// AdvisoryKey derives a stable lock key for an account.
func AdvisoryKey(account string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("autolender:" + account))
	return int64(h.Sum64() >> 1)
}

// Store keeps robot state and the operations audit in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range []string{createStateTableSQL, createOperationsTableSQL, createOperationsIndexSQL} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// LoadState returns the persisted marketplace state for account and kind.
func (s *Store) LoadState(ctx context.Context, account, kind string) (marketplace.State, error) {
	pool, err := s.getPool()
	if err != nil {
		return marketplace.State{}, err
	}

	var state marketplace.State
	if err := pool.QueryRow(ctx, selectStateSQL, account, kind).Scan(&state.LastCheck, &state.SeenIDs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return marketplace.State{}, marketplace.ErrNoState
		}
		return marketplace.State{}, fmt.Errorf("load state: %w", err)
	}
	return state, nil
}

// SaveState upserts the marketplace state for account and kind.
func (s *Store) SaveState(ctx context.Context, account, kind string, state marketplace.State) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	ids := state.SeenIDs
	if ids == nil {
		ids = []int64{}
	}
	if _, err := pool.Exec(ctx, upsertStateSQL, account, kind, state.LastCheck, ids); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// InsertOperation appends to the audit trail.
func (s *Store) InsertOperation(ctx context.Context, op Operation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var reason interface{}
	if op.Reason != nil {
		reason = *op.Reason
	}
	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, execErr := pool.Exec(ctx, insertOperationSQL,
		op.Account,
		op.Kind,
		op.ItemID,
		op.LoanID,
		op.Rating,
		op.Amount.String(),
		op.Status,
		reason,
		op.DryRun,
		createdAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert operation: %w", execErr)
	}
	return nil
}

// ListRecentOperations lists the newest operations first.
func (s *Store) ListRecentOperations(ctx context.Context, limit int) ([]Operation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOperationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent operations: %w", queryErr)
	}
	defer rows.Close()
	return collectOperations(rows, limit)
}

// ListOperationsBetween lists operations within a time window, oldest first.
func (s *Store) ListOperationsBetween(ctx context.Context, from, to time.Time) ([]Operation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOperationsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list operations between: %w", queryErr)
	}
	defer rows.Close()
	return collectOperations(rows, 0)
}

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectOperations(rows rowScanner, capacity int) ([]Operation, error) {
	ops := make([]Operation, 0, capacity)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}

func scanOperation(rows rowScanner) (Operation, error) {
	var (
		op        Operation
		amountStr string
		reason    sql.NullString
	)
	if err := rows.Scan(
		&op.ID,
		&op.Account,
		&op.Kind,
		&op.ItemID,
		&op.LoanID,
		&op.Rating,
		&amountStr,
		&op.Status,
		&reason,
		&op.DryRun,
		&op.CreatedAt,
	); err != nil {
		return Operation{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Operation{}, fmt.Errorf("parse amount: %w", err)
	}
	op.Amount = amount
	if reason.Valid {
		msg := reason.String
		op.Reason = &msg
	}
	return op, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
