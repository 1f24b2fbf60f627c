package ledger

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/gridcab/gridcab/internal/model"
)

// Service provides an async ledger writer. Emit performs a non-blocking
// channel send (drops on overflow); a background goroutine flushes batches
// to the Repo, and a cron job prunes old rows on a fixed schedule.
type Service struct {
	repo      *Repo
	queue     chan Row
	batchSize int
	interval  time.Duration

	retainRows int
	cron       *cron.Cron

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// ServiceConfig configures the ledger service.
type ServiceConfig struct {
	Repo          *Repo
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
	RetainRows    int
	PruneSchedule string // standard 5-field cron expression
}

// NewService creates a ledger service. The prune schedule must already be
// validated; an invalid expression here disables pruning with a log line.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 8192
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 256
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	retain := cfg.RetainRows
	if retain <= 0 {
		retain = 100000
	}

	s := &Service{
		repo:       cfg.Repo,
		queue:      make(chan Row, queueSize),
		batchSize:  batchSize,
		interval:   interval,
		retainRows: retain,
		stopCh:     make(chan struct{}),
	}

	if cfg.PruneSchedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(cfg.PruneSchedule, s.prune); err != nil {
			log.Printf("[ledger] invalid prune schedule %q: %v", cfg.PruneSchedule, err)
			s.cron = nil
		}
	}
	return s
}

// Start launches the background flush goroutine and the prune schedule.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop halts the prune schedule, signals the flush loop, drains remaining
// rows, and returns.
func (s *Service) Stop() {
	s.once.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		close(s.stopCh)
		s.wg.Wait()
	})
}

// Emit enqueues one dispatch decision with its measured latency.
// Non-blocking; drops on overflow.
func (s *Service) Emit(entry model.LedgerEntry, latency time.Duration) {
	row := Row{
		ID:        uuid.NewString(),
		TsNs:      int64(entry.Timestamp * 1e9),
		UserID:    entry.UserID,
		TaxiID:    entry.TaxiID,
		Outcome:   string(entry.Outcome),
		PickupX:   entry.Pickup[0],
		PickupY:   entry.Pickup[1],
		LatencyMs: float64(latency) / float64(time.Millisecond),
	}
	select {
	case s.queue <- row:
	default:
		// Queue full; drop to avoid blocking the request path.
	}
}

// Repo returns the underlying repository for query access.
func (s *Service) Repo() *Repo {
	return s.repo
}

func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]Row, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case row := <-s.queue:
			batch = append(batch, row)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-s.stopCh:
			s.drainAndFlush(batch)
			return
		}
	}
}

func (s *Service) drainAndFlush(batch []Row) {
	for {
		select {
		case row := <-s.queue:
			batch = append(batch, row)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) flush(rows []Row) {
	if n, err := s.repo.InsertBatch(rows); err != nil {
		log.Printf("[ledger] flush %d rows failed: %v", len(rows), err)
	} else if n > 0 {
		log.Printf("[ledger] flushed %d rows", n)
	}
}

func (s *Service) prune() {
	deleted, err := s.repo.PruneKeepNewest(s.retainRows)
	if err != nil {
		log.Printf("[ledger] prune failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[ledger] pruned %d rows, retaining newest %d", deleted, s.retainRows)
	}
}
