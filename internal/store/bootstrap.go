package store

import (
	"log"

	"github.com/gridcab/gridcab/internal/model"
)

// LoadFiles restores a fresh primary's state from the persisted JSON files.
// A missing file starts that portion empty; a malformed file is logged and
// skipped (file state may trail memory, never the other way around).
func (s *Store) LoadFiles(files *FileSet) {
	snap, ok, err := files.LoadState()
	switch {
	case err != nil:
		log.Printf("[store] load %s: %v; starting empty", files.StatePath, err)
	case ok:
		s.Install(snap)
		log.Printf("[store] restored %d taxis, %d ledger entries from %s",
			len(snap.Taxis), len(snap.Solicitudes), files.StatePath)
	default:
		// No previous state; try the ledger file alone so audit history
		// survives a lost snapshot.
		entries, ok, err := files.LoadLedger()
		if err != nil {
			log.Printf("[store] load %s: %v; starting empty", files.LedgerPath, err)
		} else if ok {
			s.Install(model.Snapshot{Solicitudes: entries})
			log.Printf("[store] restored %d ledger entries from %s", len(entries), files.LedgerPath)
		}
	}

	m, ok, err := files.LoadMetrics()
	if err != nil {
		log.Printf("[store] load %s: %v; ignoring", files.MetricsPath, err)
	} else if ok {
		s.RestoreLatencySamples(m.ResponseTimes)
	}
}
