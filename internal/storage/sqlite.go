package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"autolender/internal/marketplace"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS marketplace_state (
		account    TEXT    NOT NULL,
		kind       TEXT    NOT NULL,
		last_check INTEGER NOT NULL,
		seen_ids   TEXT    NOT NULL DEFAULT '[]',
		PRIMARY KEY (account, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS operations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		account    TEXT    NOT NULL,
		kind       TEXT    NOT NULL,
		item_id    INTEGER NOT NULL,
		loan_id    INTEGER NOT NULL,
		rating     TEXT    NOT NULL,
		amount     TEXT    NOT NULL,
		status     TEXT    NOT NULL,
		reason     TEXT,
		dry_run    INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS operations_created_at_idx ON operations (created_at)`,
}

const sqliteOperationColumns = `id, account, kind, item_id, loan_id, rating, amount, status, reason, dry_run, created_at`

// SQLiteStore keeps robot state in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLite opens (or creates) the database at path and creates missing tables.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func (s *SQLiteStore) LoadState(ctx context.Context, account, kind string) (marketplace.State, error) {
	var (
		lastCheck int64
		seenRaw   string
	)
	err := s.db.QueryRowContext(ctx, `SELECT last_check, seen_ids FROM marketplace_state WHERE account = ? AND kind = ?`, account, kind).
		Scan(&lastCheck, &seenRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return marketplace.State{}, marketplace.ErrNoState
	}
	if err != nil {
		return marketplace.State{}, fmt.Errorf("load state: %w", err)
	}

	state := marketplace.State{LastCheck: time.UnixMilli(lastCheck).UTC()}
	if err := json.Unmarshal([]byte(seenRaw), &state.SeenIDs); err != nil {
		return marketplace.State{}, fmt.Errorf("decode seen ids: %w", err)
	}
	return state, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, account, kind string, state marketplace.State) error {
	ids := state.SeenIDs
	if ids == nil {
		ids = []int64{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode seen ids: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO marketplace_state (account, kind, last_check, seen_ids)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account, kind) DO UPDATE SET last_check = excluded.last_check, seen_ids = excluded.seen_ids`,
		account, kind, state.LastCheck.UnixMilli(), string(raw))
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertOperation(ctx context.Context, op Operation) error {
	createdAt := op.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var reason sql.NullString
	if op.Reason != nil {
		reason = sql.NullString{String: *op.Reason, Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO operations (account, kind, item_id, loan_id, rating, amount, status, reason, dry_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Account, op.Kind, op.ItemID, op.LoanID, op.Rating, op.Amount.String(), op.Status, reason, op.DryRun, createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRecentOperations(ctx context.Context, limit int) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteOperationColumns+` FROM operations ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent operations: %w", err)
	}
	defer rows.Close()
	return scanSQLiteOperations(rows)
}

func (s *SQLiteStore) ListOperationsBetween(ctx context.Context, from, to time.Time) ([]Operation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteOperationColumns+` FROM operations WHERE created_at >= ? AND created_at < ? ORDER BY created_at, id`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list operations between: %w", err)
	}
	defer rows.Close()
	return scanSQLiteOperations(rows)
}

func scanSQLiteOperations(rows *sql.Rows) ([]Operation, error) {
	var ops []Operation
	for rows.Next() {
		var (
			op        Operation
			amountStr string
			reason    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&op.ID, &op.Account, &op.Kind, &op.ItemID, &op.LoanID, &op.Rating, &amountStr, &op.Status, &reason, &op.DryRun, &createdAt); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		op.Amount = amount
		op.CreatedAt = time.UnixMilli(createdAt).UTC()
		if reason.Valid {
			msg := reason.String
			op.Reason = &msg
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

var _ Backend = (*SQLiteStore)(nil)
