package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"qpfwatch/internal/types"
)

// alertFlag is the state.json document.
type alertFlag struct {
	AlertActive bool `json:"alert_active"`
}

// FileStateStore keeps the alert flag in state.json and the item history in
// items.json, both pretty-printed with two-space indentation.
type FileStateStore struct {
	statePath string
	itemsPath string
	maxItems  int
	logger    *slog.Logger
}

// NewFileStateStore creates a store over the two files.
func NewFileStateStore(statePath, itemsPath string, maxItems int, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{
		statePath: statePath,
		itemsPath: itemsPath,
		maxItems:  maxItems,
		logger:    loggerOrDefault(logger),
	}
}

// Load implements types.StateStore.
func (s *FileStateStore) Load(ctx context.Context) (types.RunState, error) {
	var state types.RunState

	raw, err := readOptional(s.statePath)
	if err != nil {
		return state, stateStoreError("failed to read state file", err)
	}
	if len(raw) > 0 {
		var flag alertFlag
		if err := json.Unmarshal(raw, &flag); err != nil {
			s.logger.WarnContext(ctx, "State file unreadable; assuming no active alert",
				"path", s.statePath,
				"error", err.Error(),
			)
		} else {
			state.AlertActive = flag.AlertActive
		}
	}

	raw, err = readOptional(s.itemsPath)
	if err != nil {
		return state, stateStoreError("failed to read items file", err)
	}
	state.Items = decodeItems(ctx, s.logger, raw, s.itemsPath)

	return state, nil
}

// Save implements types.StateStore. Items are written before the flag so an
// interrupted save never records an alert without its item.
func (s *FileStateStore) Save(_ context.Context, state types.RunState) error {
	items := state.Items
	if items == nil {
		items = []types.FeedItem{}
	}
	if err := writeJSONFile(s.itemsPath, types.TruncateItems(items, s.maxItems)); err != nil {
		return stateStoreError("failed to write items file", err)
	}
	if err := writeJSONFile(s.statePath, alertFlag{AlertActive: state.AlertActive}); err != nil {
		return stateStoreError("failed to write state file", err)
	}
	return nil
}

// readOptional returns nil for a missing file.
func readOptional(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return raw, err
}

func writeJSONFile(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), path)
}
