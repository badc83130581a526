// Package store provides crash-safe persistence of engine state snapshots
// and crash markers, backed by a local SQLite database.
//
// Every write is wrapped in a single SQL transaction, the relational
// equivalent of the teacher's tmp-file-then-rename atomic writes: a crash
// mid-write leaves either the old row or the new one, never a partial one.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"polymarket-mm/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS engine_states (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp            DATETIME NOT NULL,
	state                TEXT NOT NULL,
	strategy_name        TEXT NOT NULL,
	broker_name          TEXT NOT NULL,
	positions_json       TEXT NOT NULL,
	pending_orders_json  TEXT NOT NULL,
	statistics_json      TEXT NOT NULL,
	created_at           DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_engine_states_timestamp ON engine_states(timestamp DESC);

CREATE TABLE IF NOT EXISTS crash_markers (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp            DATETIME NOT NULL,
	engine_state_id      INTEGER,
	recovered            BOOLEAN NOT NULL DEFAULT 0,
	recovery_timestamp   DATETIME
);
`

// Store persists engine state snapshots and crash markers to SQLite.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers to avoid SQLITE_BUSY

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveState persists a snapshot and returns its row id.
func (s *Store) SaveState(ctx context.Context, snapshot types.EngineStateSnapshot) (int64, error) {
	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return 0, fmt.Errorf("marshal positions: %w", err)
	}
	pendingJSON, err := json.Marshal(snapshot.PendingOrders)
	if err != nil {
		return 0, fmt.Errorf("marshal pending orders: %w", err)
	}
	statsJSON, err := json.Marshal(snapshot.Statistics)
	if err != nil {
		return 0, fmt.Errorf("marshal statistics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO engine_states
			(timestamp, state, strategy_name, broker_name, positions_json, pending_orders_json, statistics_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(snapshot.Timestamp), snapshot.State, snapshot.StrategyName, snapshot.BrokerName,
		string(positionsJSON), string(pendingJSON), string(statsJSON), formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("insert engine state: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetLatestState returns the most recently saved snapshot, or nil if none
// exists yet.
func (s *Store) GetLatestState(ctx context.Context) (*types.EngineStateSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, state, strategy_name, broker_name, positions_json, pending_orders_json, statistics_json
		FROM engine_states ORDER BY timestamp DESC LIMIT 1`)

	snapshot, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest state: %w", err)
	}
	return snapshot, nil
}

// GetStateHistory returns up to limit snapshots, most recent first.
func (s *Store) GetStateHistory(ctx context.Context, limit int) ([]types.EngineStateSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, state, strategy_name, broker_name, positions_json, pending_orders_json, statistics_json
		FROM engine_states ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query state history: %w", err)
	}
	defer rows.Close()

	var out []types.EngineStateSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		out = append(out, *snapshot)
	}
	return out, rows.Err()
}

// MarkCrash records a crash marker, optionally tied to the engine state id
// that was current at the time, and returns the marker's row id.
func (s *Store) MarkCrash(ctx context.Context, stateID *int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO crash_markers (timestamp, engine_state_id, recovered) VALUES (?, ?, 0)`,
		formatTime(time.Now()), stateID,
	)
	if err != nil {
		return 0, fmt.Errorf("insert crash marker: %w", err)
	}
	return res.LastInsertId()
}

// HasUnrecoveredCrash reports whether any crash marker is still unrecovered.
func (s *Store) HasUnrecoveredCrash(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crash_markers WHERE recovered = 0`).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count crash markers: %w", err)
	}
	return count > 0, nil
}

// MarkCrashRecovered marks the crash marker id as recovered.
func (s *Store) MarkCrashRecovered(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE crash_markers SET recovered = 1, recovery_timestamp = ? WHERE id = ?`,
		formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark crash recovered: %w", err)
	}
	return nil
}

// CleanupOldStates deletes engine_states rows whose snapshot timestamp is
// older than days and reports how many rows were removed.
func (s *Store) CleanupOldStates(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	res, err := s.db.ExecContext(ctx, `DELETE FROM engine_states WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup old states: %w", err)
	}
	return res.RowsAffected()
}

// fixedNanoLayout is RFC3339Nano with the fractional-seconds field padded to
// a constant width. RFC3339Nano itself trims trailing zeros, so two
// snapshots within the same second (e.g. ".5Z" and ".51Z") would otherwise
// sort incorrectly as plain strings; the fixed width keeps ORDER BY and "<
// cutoff" comparisons lexically equivalent to chronological order.
const fixedNanoLayout = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime renders t in fixedNanoLayout so that timestamp ordering and
// comparisons (ORDER BY, < cutoff) work as plain string comparisons
// regardless of how the driver would otherwise marshal a time.Time, and so
// the on-disk format doesn't depend on sqlite's column-affinity guesses.
func formatTime(t time.Time) string {
	return t.UTC().Format(fixedNanoLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(fixedNanoLayout, s)
}

type scanner func(dest ...any) error

func scanSnapshot(scan scanner) (*types.EngineStateSnapshot, error) {
	var (
		snapshot                              types.EngineStateSnapshot
		timestampStr                          string
		positionsJSON, pendingJSON, statsJSON string
	)
	if err := scan(&timestampStr, &snapshot.State, &snapshot.StrategyName, &snapshot.BrokerName,
		&positionsJSON, &pendingJSON, &statsJSON); err != nil {
		return nil, err
	}

	ts, err := parseTime(timestampStr)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	snapshot.Timestamp = ts

	if err := json.Unmarshal([]byte(positionsJSON), &snapshot.Positions); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}
	if err := json.Unmarshal([]byte(pendingJSON), &snapshot.PendingOrders); err != nil {
		return nil, fmt.Errorf("unmarshal pending orders: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &snapshot.Statistics); err != nil {
		return nil, fmt.Errorf("unmarshal statistics: %w", err)
	}
	return &snapshot, nil
}
