// Package db implements types.StateStore on top of JSON files, SQLite and
// PostgreSQL. The SQL backends keep one row per STATE_KEY so several
// deployments can share a database.
//
// Every backend follows the same contract: a missing record loads as the
// zero RunState, an undecodable record loads as the zero RunState with a WARN
// log, and Save truncates the item history before overwriting the record.
package db

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"qpfwatch/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultStateKey is the row key used when none is configured.
const DefaultStateKey = "default"

// decodeItems parses a JSON item history. Corrupt input yields nil and a WARN.
func decodeItems(ctx context.Context, logger *slog.Logger, raw []byte, source string) []types.FeedItem {
	if len(raw) == 0 {
		return nil
	}
	var items []types.FeedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.WarnContext(ctx, "Item history unreadable; starting empty",
			"source", source,
			"error", err.Error(),
		)
		return nil
	}
	return items
}

// encodeItems renders items as a JSON list, never "null".
func encodeItems(items []types.FeedItem) ([]byte, error) {
	if items == nil {
		items = []types.FeedItem{}
	}
	return json.Marshal(items)
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

func stateStoreError(msg string, err error) error {
	return types.NewAppError(types.ErrCodeInternalStateStore, msg, err)
}
