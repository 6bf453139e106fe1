package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"qpfwatch/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS qpf_alert_state (
	state_key    TEXT PRIMARY KEY,
	alert_active BOOLEAN NOT NULL DEFAULT FALSE,
	items        JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStateStore keeps RunState in PostgreSQL. It accepts a DBTX so it
// runs equally against a *pgxpool.Pool or inside a pgx.Tx.
type PostgresStateStore struct {
	db       DBTX
	key      string
	maxItems int
	logger   *slog.Logger
}

// NewPostgresStateStore creates a store for the given state key.
func NewPostgresStateStore(db DBTX, key string, maxItems int, logger *slog.Logger) *PostgresStateStore {
	if key == "" {
		key = DefaultStateKey
	}
	return &PostgresStateStore{
		db:       db,
		key:      key,
		maxItems: maxItems,
		logger:   loggerOrDefault(logger),
	}
}

// EnsureSchema creates the state table when it does not exist.
func (s *PostgresStateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return stateStoreError("failed to create state table", err)
	}
	return nil
}

// Load implements types.StateStore.
func (s *PostgresStateStore) Load(ctx context.Context) (types.RunState, error) {
	var (
		active bool
		items  []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT alert_active, items::text FROM qpf_alert_state WHERE state_key = $1`,
		s.key,
	).Scan(&active, &items)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.RunState{}, nil
		}
		return types.RunState{}, stateStoreError("failed to load state", err)
	}

	return types.RunState{
		AlertActive: active,
		Items:       decodeItems(ctx, s.logger, items, "postgres:"+s.key),
	}, nil
}

// Save implements types.StateStore as a single upsert.
func (s *PostgresStateStore) Save(ctx context.Context, state types.RunState) error {
	raw, err := encodeItems(types.TruncateItems(state.Items, s.maxItems))
	if err != nil {
		return stateStoreError("failed to encode items", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO qpf_alert_state (state_key, alert_active, items, updated_at)
		 VALUES ($1, $2, $3::jsonb, NOW())
		 ON CONFLICT (state_key) DO UPDATE SET
			alert_active = EXCLUDED.alert_active,
			items = EXCLUDED.items,
			updated_at = NOW()`,
		s.key, state.AlertActive, string(raw),
	)
	if err != nil {
		return stateStoreError("failed to save state", err)
	}
	return nil
}
