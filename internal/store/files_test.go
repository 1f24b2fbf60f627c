package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/model"
)

func TestFileSet_StateRoundTrip(t *testing.T) {
	files, err := NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}

	snap := model.Snapshot{
		Taxis: map[string][2]int{"t1": {2, 3}},
		Solicitudes: []model.LedgerEntry{
			{UserID: "u1", TaxiID: "t1", Outcome: model.OutcomeAssigned, Pickup: [2]int{3, 3}, Timestamp: 1700000000.5},
		},
	}
	if err := files.WriteState(snap); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	got, ok, err := files.LoadState()
	if err != nil || !ok {
		t.Fatalf("LoadState: ok=%v err=%v", ok, err)
	}
	if got.Taxis["t1"] != [2]int{2, 3} || len(got.Solicitudes) != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Solicitudes[0].UserID != "u1" || got.Solicitudes[0].Timestamp != 1700000000.5 {
		t.Fatalf("ledger entry mismatch: %+v", got.Solicitudes[0])
	}
}

func TestFileSet_MissingFilesReportNotOK(t *testing.T) {
	files, err := NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	if _, ok, err := files.LoadState(); ok || err != nil {
		t.Fatalf("LoadState on empty dir: ok=%v err=%v", ok, err)
	}
	if _, ok, err := files.LoadLedger(); ok || err != nil {
		t.Fatalf("LoadLedger on empty dir: ok=%v err=%v", ok, err)
	}
	if _, ok, err := files.LoadMetrics(); ok || err != nil {
		t.Fatalf("LoadMetrics on empty dir: ok=%v err=%v", ok, err)
	}
}

func TestFileSet_MalformedFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	files, err := NewFileSet(dir)
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	if err := os.WriteFile(files.StatePath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := files.LoadState(); err == nil {
		t.Fatal("expected decode error for malformed state file")
	}
}

func TestFileSet_IndentedOutputNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	files, err := NewFileSet(dir)
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	if err := files.WriteMetrics(model.Metrics{Assigned: 3}); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}

	data, err := os.ReadFile(files.MetricsPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n    \"servicios_exitosos\": 3") {
		t.Fatalf("metrics file not 4-space indented:\n%s", data)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(files.MetricsPath) {
			t.Fatalf("unexpected leftover file %q", e.Name())
		}
	}
}

func TestFileSet_NilSlicesEncodeAsEmpty(t *testing.T) {
	files, err := NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	if err := files.WriteLedger(nil); err != nil {
		t.Fatalf("WriteLedger: %v", err)
	}
	data, err := os.ReadFile(files.LedgerPath)
	if err != nil {
		t.Fatal(err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, isList := raw.([]any); !isList {
		t.Fatalf("ledger file is %T, want JSON array", raw)
	}
}

func TestLoadFiles_RestoresFromStateFile(t *testing.T) {
	files, err := NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}

	src := New(files)
	src.UpsertPosition("t1", grid.Point{X: 2, Y: 3})
	src.Dispatch("u1", grid.Point{X: 3, Y: 3}, time.Now())
	src.RecordLatency(0.25)
	if err := files.WriteState(src.Snapshot()); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	restored := New(files)
	restored.LoadFiles(files)

	if _, known := restored.FreePool()["t1"]; known {
		t.Fatal("assigned taxi leaked into restored free pool")
	}
	if len(restored.Ledger()) != 1 {
		t.Fatalf("restored ledger length = %d", len(restored.Ledger()))
	}
	m := restored.Metrics()
	if m.Assigned != 1 {
		t.Fatalf("restored counters = %+v", m)
	}
	if len(m.ResponseTimes) != 1 || m.ResponseTimes[0] != 0.25 {
		t.Fatalf("restored latency samples = %v", m.ResponseTimes)
	}
}

func TestLoadFiles_FallsBackToLedgerFile(t *testing.T) {
	files, err := NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	entries := []model.LedgerEntry{
		{UserID: "u1", Outcome: model.OutcomeRejected, Pickup: [2]int{1, 1}, Timestamp: 1},
		{UserID: "u2", TaxiID: "t9", Outcome: model.OutcomeAssigned, Pickup: [2]int{2, 2}, Timestamp: 2},
	}
	if err := files.WriteLedger(entries); err != nil {
		t.Fatalf("WriteLedger: %v", err)
	}

	s := New(files)
	s.LoadFiles(files)

	if len(s.Ledger()) != 2 {
		t.Fatalf("ledger length = %d", len(s.Ledger()))
	}
	if m := s.Metrics(); m.Assigned != 1 || m.Rejected != 1 {
		t.Fatalf("counters = %+v", m)
	}
}

func TestSnapshotWorker_WritesAndFinalFlush(t *testing.T) {
	files, err := NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	s := New(nil)
	s.UpsertPosition("t1", grid.Point{X: 1, Y: 2})

	w := NewSnapshotWorker(s, files, 10*time.Millisecond)
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := files.LoadState(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never wrote state file")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Mutate, then Stop; the final flush must capture the latest state.
	s.UpsertPosition("t2", grid.Point{X: 7, Y: 7})
	w.Stop()
	w.Stop() // idempotent

	snap, ok, err := files.LoadState()
	if err != nil || !ok {
		t.Fatalf("LoadState: ok=%v err=%v", ok, err)
	}
	if snap.Taxis["t2"] != [2]int{7, 7} {
		t.Fatalf("final flush missing t2: %+v", snap.Taxis)
	}
}
