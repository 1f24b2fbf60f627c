package store

import (
	"log"
	"sync"
	"time"

	"github.com/gridcab/gridcab/internal/scanloop"
)

// SnapshotWorker periodically serializes the store to state.json. It is the
// single writer of that file; a final snapshot is written on Stop so an
// orderly shutdown never loses more than in-flight mutations.
type SnapshotWorker struct {
	store    *Store
	files    *FileSet
	interval time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSnapshotWorker creates a snapshot worker. Panics on nil dependencies;
// wiring them is a programming error, not a runtime condition.
func NewSnapshotWorker(store *Store, files *FileSet, interval time.Duration) *SnapshotWorker {
	if store == nil || files == nil {
		panic("store: NewSnapshotWorker requires non-nil store and files")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &SnapshotWorker{
		store:    store,
		files:    files,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background snapshot goroutine.
func (w *SnapshotWorker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		scanloop.Every(w.stopCh, w.interval, w.flush)
	}()
}

// Stop halts the loop, waits for it, and writes a final snapshot.
func (w *SnapshotWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.flush()
	})
}

func (w *SnapshotWorker) flush() {
	if err := w.files.WriteState(w.store.Snapshot()); err != nil {
		log.Printf("[snapshot] write state file: %v", err)
	}
}
