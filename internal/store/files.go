package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gridcab/gridcab/internal/model"
)

// FileSet holds the paths of the three persisted JSON files. All writes go
// through a temp-file-plus-rename replace so readers never observe a
// half-written file.
type FileSet struct {
	StatePath   string
	LedgerPath  string
	MetricsPath string
}

// NewFileSet returns the canonical file layout under dir, creating dir if
// needed.
func NewFileSet(dir string) (*FileSet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &FileSet{
		StatePath:   filepath.Join(dir, "state.json"),
		LedgerPath:  filepath.Join(dir, "ledger.json"),
		MetricsPath: filepath.Join(dir, "metrics.json"),
	}, nil
}

// WriteState rewrites state.json with the snapshot.
func (f *FileSet) WriteState(snap model.Snapshot) error {
	if snap.Taxis == nil {
		snap.Taxis = map[string][2]int{}
	}
	if snap.Solicitudes == nil {
		snap.Solicitudes = []model.LedgerEntry{}
	}
	return writeJSON(f.StatePath, snap)
}

// WriteLedger rewrites ledger.json with the full ledger. Rewriting the whole
// file per append is a known inefficiency carried for interface
// compatibility.
func (f *FileSet) WriteLedger(entries []model.LedgerEntry) error {
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return writeJSON(f.LedgerPath, entries)
}

// WriteMetrics rewrites metrics.json.
func (f *FileSet) WriteMetrics(m model.Metrics) error {
	if m.ResponseTimes == nil {
		m.ResponseTimes = []float64{}
	}
	return writeJSON(f.MetricsPath, m)
}

// LoadState reads state.json. ok=false when the file does not exist.
func (f *FileSet) LoadState() (snap model.Snapshot, ok bool, err error) {
	ok, err = readJSON(f.StatePath, &snap)
	if snap.Taxis == nil {
		snap.Taxis = map[string][2]int{}
	}
	return snap, ok, err
}

// LoadLedger reads ledger.json. ok=false when the file does not exist.
func (f *FileSet) LoadLedger() ([]model.LedgerEntry, bool, error) {
	var entries []model.LedgerEntry
	ok, err := readJSON(f.LedgerPath, &entries)
	return entries, ok, err
}

// LoadMetrics reads metrics.json. ok=false when the file does not exist.
func (f *FileSet) LoadMetrics() (model.Metrics, bool, error) {
	var m model.Metrics
	ok, err := readJSON(f.MetricsPath, &m)
	return m, ok, err
}

// writeJSON serializes v with 4-space indent and atomically replaces path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// readJSON loads path into v. Returns ok=false (and nil error) when the file
// does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}
