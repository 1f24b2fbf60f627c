// Package store implements the dispatcher's replicated in-memory state: the
// free pool of taxis, the pending-trip set, the request ledger, and the
// dispatch metrics. All mutation serializes on a single mutex so that every
// snapshot, file write, and replication payload derives from one consistent
// critical section.
package store

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/model"
)

// maxLatencySamples bounds the in-memory response-time list. When full, the
// oldest sample is discarded.
const maxLatencySamples = 4096

// Store is the single source of truth for dispatcher state.
//
// A taxi ID known to the store is in exactly one of the free pool or the
// assigned set. Assignment moves it pool→assigned; the next position report
// moves it back (the taxi finished its trip and rejoined).
type Store struct {
	mu       sync.Mutex
	free     map[string]grid.Point
	assigned map[string]string // taxi ID -> user ID of the pending trip
	ledger   []model.LedgerEntry
	metrics  model.Metrics

	// files, when set, receives the ledger and metrics rewrites issued from
	// the dispatch critical section. Nil on the standby and in most tests.
	files *FileSet
}

// New creates an empty Store. files may be nil; when set, ledger.json and
// metrics.json are rewritten inside the dispatch critical section.
func New(files *FileSet) *Store {
	return &Store{
		free:     make(map[string]grid.Point),
		assigned: make(map[string]string),
		files:    files,
	}
}

// UpsertPosition records a taxi's latest position and returns it to the free
// pool. A taxi that was assigned is considered to have completed its trip.
func (s *Store) UpsertPosition(taxiID string, p grid.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assigned, taxiID)
	s.free[taxiID] = p
}

// TakeNearest removes and returns the free taxi closest to pickup by
// Euclidean distance. Ties break to the lexicographically smaller taxi ID.
// Returns ok=false when the free pool is empty.
func (s *Store) TakeNearest(pickup grid.Point) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeNearestLocked(pickup, "")
}

func (s *Store) takeNearestLocked(pickup grid.Point, userID string) (string, bool) {
	bestID := ""
	bestDist := 0.0
	for id, pos := range s.free {
		d := grid.Distance(pickup, pos)
		switch {
		case bestID == "", d < bestDist:
			bestID, bestDist = id, d
		case d == bestDist && id < bestID:
			bestID = id
		}
	}
	if bestID == "" {
		return "", false
	}
	delete(s.free, bestID)
	s.assigned[bestID] = userID
	return bestID, true
}

// PutBack returns a taxi taken by TakeNearest to the free pool. This is the
// request endpoint's only rollback path.
func (s *Store) PutBack(taxiID string, p grid.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assigned, taxiID)
	s.free[taxiID] = p
}

// Dispatch runs the matching critical section for one ride request: take the
// nearest taxi, append the terminal ledger entry, bump the matching counter,
// and rewrite the ledger and metrics files. The returned entry is terminal
// and immutable.
func (s *Store) Dispatch(userID string, pickup grid.Point, now time.Time) model.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.LedgerEntry{
		UserID:    userID,
		Pickup:    [2]int{pickup.X, pickup.Y},
		Timestamp: float64(now.UnixNano()) / 1e9,
	}
	if taxiID, ok := s.takeNearestLocked(pickup, userID); ok {
		entry.TaxiID = taxiID
		entry.Outcome = model.OutcomeAssigned
		s.metrics.Assigned++
	} else {
		entry.Outcome = model.OutcomeRejected
		s.metrics.Rejected++
	}
	s.ledger = append(s.ledger, entry)

	if s.files != nil {
		if err := s.files.WriteLedger(s.ledger); err != nil {
			log.Printf("[store] write ledger file: %v", err)
		}
		if err := s.files.WriteMetrics(s.metrics); err != nil {
			log.Printf("[store] write metrics file: %v", err)
		}
	}
	return entry
}

// RecordLatency appends a response-time sample in seconds, dropping the
// oldest when the bounded list is full, and rewrites the metrics file.
func (s *Store) RecordLatency(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.metrics.ResponseTimes) >= maxLatencySamples {
		s.metrics.ResponseTimes = s.metrics.ResponseTimes[1:]
	}
	s.metrics.ResponseTimes = append(s.metrics.ResponseTimes, seconds)
	if s.files != nil {
		if err := s.files.WriteMetrics(s.metrics); err != nil {
			log.Printf("[store] write metrics file: %v", err)
		}
	}
}

// RestoreLatencySamples replaces the response-time list, truncating to the
// bound. Used when reloading metrics.json at startup.
func (s *Store) RestoreLatencySamples(samples []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(samples) > maxLatencySamples {
		samples = samples[len(samples)-maxLatencySamples:]
	}
	s.metrics.ResponseTimes = append([]float64(nil), samples...)
}

// Snapshot returns a deep copy of the replicated state: free pool plus the
// full ledger. The copy is taken in one critical section, so it is never
// torn relative to any mutation.
func (s *Store) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := model.Snapshot{
		Taxis:       make(map[string][2]int, len(s.free)),
		Solicitudes: append([]model.LedgerEntry(nil), s.ledger...),
	}
	for id, p := range s.free {
		snap.Taxis[id] = [2]int{p.X, p.Y}
	}
	if snap.Solicitudes == nil {
		snap.Solicitudes = []model.LedgerEntry{}
	}
	return snap
}

// Install replaces the entire registry and ledger with the snapshot's
// contents (full-state overwrite, no merge). Counters are recomputed from
// the installed ledger so they always equal the ledger counts; the pending
// set and latency samples are process-local and reset.
func (s *Store) Install(snap model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = make(map[string]grid.Point, len(snap.Taxis))
	for id, xy := range snap.Taxis {
		s.free[id] = grid.Point{X: xy[0], Y: xy[1]}
	}
	s.assigned = make(map[string]string)
	s.ledger = append([]model.LedgerEntry(nil), snap.Solicitudes...)
	s.metrics = model.Metrics{}
	for _, e := range s.ledger {
		switch e.Outcome {
		case model.OutcomeAssigned:
			s.metrics.Assigned++
		case model.OutcomeRejected:
			s.metrics.Rejected++
		}
	}
}

// Clear empties all replicated state. Used on promotion, where the mirrored
// view is discarded before the last persisted snapshot is reinstalled.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = make(map[string]grid.Point)
	s.assigned = make(map[string]string)
	s.ledger = nil
	s.metrics = model.Metrics{}
}

// FreePool returns a copy of the free pool.
func (s *Store) FreePool() map[string]grid.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]grid.Point, len(s.free))
	for id, p := range s.free {
		out[id] = p
	}
	return out
}

// Assigned returns a copy of the pending-trip set (taxi ID -> user ID).
func (s *Store) Assigned() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.assigned))
	for taxi, user := range s.assigned {
		out[taxi] = user
	}
	return out
}

// Ledger returns a copy of the request ledger in append order.
func (s *Store) Ledger() []model.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LedgerEntry(nil), s.ledger...)
}

// Metrics returns a copy of the counters and latency samples.
func (s *Store) Metrics() model.Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics
	m.ResponseTimes = append([]float64(nil), s.metrics.ResponseTimes...)
	return m
}

// KnownTaxis returns every taxi ID in either the free pool or the assigned
// set, sorted. Primarily a diagnostics and test helper.
func (s *Store) KnownTaxis() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.free)+len(s.assigned))
	for id := range s.free {
		out = append(out, id)
	}
	for id := range s.assigned {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
