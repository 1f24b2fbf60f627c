// Package dispatch implements the primary's request-facing behavior: taxi
// position ingest and the ride request endpoint.
package dispatch

import (
	"log"
	"sync"

	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/store"
	"github.com/gridcab/gridcab/internal/wire"
)

// PositionSink returns a frame consumer for position reports. Valid reports
// update the free pool; malformed or out-of-bounds frames are dropped
// without any reply to the producer.
func PositionSink(st *store.Store, bounds grid.Bounds) func(frame []byte) {
	return func(frame []byte) {
		taxiID, p, err := wire.ParsePositionFrame(string(frame))
		if err != nil {
			log.Printf("[ingest] drop frame: %v", err)
			return
		}
		if !bounds.Contains(p) {
			log.Printf("[ingest] drop frame: taxi %s position (%d,%d) outside grid", taxiID, p.X, p.Y)
			return
		}
		st.UpsertPosition(taxiID, p)
	}
}

// Ingest serializes position frames from all producer connections through
// one worker, so reports apply in a single global order.
type Ingest struct {
	frames chan []byte
	sink   func(frame []byte)

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewIngest creates an ingest worker feeding sink.
func NewIngest(queueSize int, sink func(frame []byte)) *Ingest {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Ingest{
		frames: make(chan []byte, queueSize),
		sink:   sink,
		stopCh: make(chan struct{}),
	}
}

// Start launches the drain goroutine.
func (i *Ingest) Start() {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for {
			select {
			case frame := <-i.frames:
				i.sink(frame)
			case <-i.stopCh:
				return
			}
		}
	}()
}

// Stop halts the worker. Queued frames are discarded; the next position
// report replaces them anyway.
func (i *Ingest) Stop() {
	i.stopOnce.Do(func() {
		close(i.stopCh)
		i.wg.Wait()
	})
}

// Enqueue hands a frame to the worker. Non-blocking; a full queue drops the
// frame, which a later report from the same taxi supersedes.
func (i *Ingest) Enqueue(frame []byte) {
	select {
	case i.frames <- frame:
	default:
	}
}
