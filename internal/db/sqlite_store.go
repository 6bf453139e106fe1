package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"qpfwatch/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS qpf_alert_state (
	state_key    TEXT PRIMARY KEY,
	alert_active INTEGER NOT NULL DEFAULT 0,
	items        TEXT NOT NULL DEFAULT '[]',
	updated_at   TEXT NOT NULL
)`

// SQLiteStateStore keeps RunState in a local SQLite database using the pure-Go
// modernc driver.
type SQLiteStateStore struct {
	db       *sql.DB
	key      string
	maxItems int
	clock    types.Clock
	logger   *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// connection pragmas used for a single-writer batch job.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// :memory: databases are per-connection.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return conn, nil
}

// NewSQLiteStateStore creates the store and its table.
func NewSQLiteStateStore(ctx context.Context, conn *sql.DB, key string, maxItems int, clock types.Clock, logger *slog.Logger) (*SQLiteStateStore, error) {
	if key == "" {
		key = DefaultStateKey
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, stateStoreError("failed to create sqlite state table", err)
	}
	return &SQLiteStateStore{
		db:       conn,
		key:      key,
		maxItems: maxItems,
		clock:    clock,
		logger:   loggerOrDefault(logger),
	}, nil
}

// Load implements types.StateStore.
func (s *SQLiteStateStore) Load(ctx context.Context) (types.RunState, error) {
	var (
		active bool
		items  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT alert_active, items FROM qpf_alert_state WHERE state_key = ?`,
		s.key,
	).Scan(&active, &items)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RunState{}, nil
	}
	if err != nil {
		return types.RunState{}, stateStoreError("failed to load sqlite state", err)
	}

	return types.RunState{
		AlertActive: active,
		Items:       decodeItems(ctx, s.logger, []byte(items), "sqlite:"+s.key),
	}, nil
}

// Save implements types.StateStore.
func (s *SQLiteStateStore) Save(ctx context.Context, state types.RunState) error {
	raw, err := encodeItems(types.TruncateItems(state.Items, s.maxItems))
	if err != nil {
		return stateStoreError("failed to encode items", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO qpf_alert_state (state_key, alert_active, items, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(state_key) DO UPDATE SET
			alert_active = excluded.alert_active,
			items = excluded.items,
			updated_at = excluded.updated_at`,
		s.key, state.AlertActive, string(raw), s.clock.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return stateStoreError("failed to save sqlite state", err)
	}
	return nil
}
