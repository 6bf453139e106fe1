package external

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"qpfwatch/internal/types"

	"github.com/klauspost/compress/zstd"
)

// PayloadArchive stores raw MapServer responses as zstd files, one directory
// per run, so a schema change upstream can be inspected after the fact.
//
// Layout: <dir>/<UTC timestamp>_<run id>/<seq>_<label>.json.zst
type PayloadArchive struct {
	dir     string
	clock   types.Clock
	encoder *zstd.Encoder

	mu     sync.Mutex
	runID  string
	runDir string
	seq    int
}

// NewPayloadArchive creates the archive root if needed.
func NewPayloadArchive(dir string, clock types.Clock) (*PayloadArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &PayloadArchive{dir: dir, clock: clock, encoder: enc}, nil
}

// Record implements PayloadRecorder. A new run directory is started whenever
// the run ID on ctx changes, so warm Lambda invocations do not share one.
func (a *PayloadArchive) Record(ctx context.Context, label string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	runID := types.GetRunID(ctx)
	if a.runDir == "" || runID != a.runID {
		name := a.clock.Now().UTC().Format("20060102T150405Z")
		if runID != "" {
			name += "_" + runID
		}
		runDir := filepath.Join(a.dir, name)
		if err := os.MkdirAll(runDir, 0o755); err != nil {
			return fmt.Errorf("create run archive dir: %w", err)
		}
		a.runDir = runDir
		a.runID = runID
		a.seq = 0
	}

	a.seq++
	path := filepath.Join(a.runDir, fmt.Sprintf("%03d_%s.json.zst", a.seq, sanitizeLabel(label)))
	if err := os.WriteFile(path, a.encoder.EncodeAll(body, nil), 0o644); err != nil {
		return fmt.Errorf("write archived payload: %w", err)
	}
	return nil
}

// RunDir returns the directory of the most recent run, or "" before the
// first Record.
func (a *PayloadArchive) RunDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runDir
}

// Close releases the encoder.
func (a *PayloadArchive) Close() error {
	return a.encoder.Close()
}

// ReadArchivedPayload decompresses one archived file.
func ReadArchivedPayload(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return out, nil
}

func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, label)
}
