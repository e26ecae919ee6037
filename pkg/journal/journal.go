package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"nof0-api/pkg/executor"
)

// CycleRecord captures one Engine decision cycle for audit and analysis.
// CycleNumber is owned by the Engine's own monotone counter, not the
// journal writer, so a restart that reattaches to an existing journal
// directory never reuses a number the Engine has already assigned.
type CycleRecord struct {
	Timestamp     time.Time        `json:"timestamp"`
	CycleNumber   int              `json:"cycle_number"`
	PromptDigest  string           `json:"prompt_digest,omitempty"`
	DecisionsJSON string           `json:"decisions_json,omitempty"`
	Account       map[string]any   `json:"account_snapshot,omitempty"`
	Positions     []map[string]any `json:"positions_snapshot,omitempty"`
	MarketDigest  map[string]any   `json:"market_snap_digest,omitempty"`
	Actions       []map[string]any `json:"actions,omitempty"`
	Success       bool             `json:"success"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	Extra         map[string]any   `json:"extra,omitempty"`
}

// Writer persists cycle records and trade closures to a directory as JSON
// files, one file per event.
type Writer struct {
	dir   string
	nowFn func() time.Time
}

// NewWriter constructs a journal writer.
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = "journal"
	}
	_ = os.MkdirAll(dir, 0o755)
	return &Writer{dir: dir, nowFn: time.Now}
}

// WriteCycle writes a cycle record to a timestamped JSON file, named after
// the Engine's own cycle number so files sort and cross-reference cleanly.
func (w *Writer) WriteCycle(rec *CycleRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("journal: nil record")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = w.nowFn()
	}
	name := fmt.Sprintf("cycle_%s_%06d.json", rec.Timestamp.UTC().Format("20060102_150405"), rec.CycleNumber)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type closureRecord struct {
	Timestamp time.Time             `json:"timestamp"`
	Reason    string                `json:"reason"`
	Trade     executor.TrackedTrade `json:"trade"`
}

// WriteClosure records a position closed with no matching fill to back-fill
// from (reconcile.JournalWriter). Used when the Executor itself already
// accounted for the close/reduce within the same cycle.
func (w *Writer) WriteClosure(ctx context.Context, trade executor.TrackedTrade, reason string) error {
	rec := closureRecord{Timestamp: w.nowFn(), Reason: reason, Trade: trade}
	name := fmt.Sprintf("closure_%s_%s_%s.json", rec.Timestamp.UTC().Format("20060102_150405"), trade.Symbol, trade.Side)
	path := filepath.Join(w.dir, name)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
