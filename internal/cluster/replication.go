package cluster

import (
	"log"
	"sync"
	"time"

	"github.com/gridcab/gridcab/internal/fabric"
	"github.com/gridcab/gridcab/internal/scanloop"
	"github.com/gridcab/gridcab/internal/store"
	"github.com/gridcab/gridcab/internal/wire"
)

// SnapshotProducer runs on the primary. It periodically serializes the store
// and stages the payload on the replication hub; a final snapshot is staged
// on Stop.
type SnapshotProducer struct {
	store    *store.Store
	hub      *fabric.BroadcastHub
	interval time.Duration

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSnapshotProducer creates a replication producer.
func NewSnapshotProducer(st *store.Store, hub *fabric.BroadcastHub, interval time.Duration) *SnapshotProducer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &SnapshotProducer{
		store:    st,
		hub:      hub,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the replication loop.
func (p *SnapshotProducer) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		scanloop.Every(p.stopCh, p.interval, p.publish)
	}()
}

// Stop halts the loop and stages one final snapshot.
func (p *SnapshotProducer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		p.publish()
	})
}

func (p *SnapshotProducer) publish() {
	payload, err := wire.EncodeSnapshot(p.store.Snapshot())
	if err != nil {
		log.Printf("[replication] encode snapshot: %v", err)
		return
	}
	p.hub.Stage(payload)
}

// SnapshotConsumer runs on the standby: it subscribes to the primary's
// replication endpoint, installs each received snapshot as a full overwrite,
// and persists it so a later promotion can start from the last applied
// snapshot.
type SnapshotConsumer struct {
	store *store.Store
	files *store.FileSet
	url   string

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSnapshotConsumer creates a replication consumer. files may be nil in
// tests; then snapshots are applied without persistence.
func NewSnapshotConsumer(st *store.Store, files *store.FileSet, url string) *SnapshotConsumer {
	return &SnapshotConsumer{
		store:  st,
		files:  files,
		url:    url,
		stopCh: make(chan struct{}),
	}
}

// Start launches the subscription loop; it redials on failure until Stop.
func (c *SnapshotConsumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fabric.Consume(c.stopCh, "replication", c.url, c.apply)
	}()
}

// Stop halts the subscription loop and waits for it.
func (c *SnapshotConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
}

func (c *SnapshotConsumer) apply(frame []byte) {
	snap, err := wire.DecodeSnapshot(frame)
	if err != nil {
		log.Printf("[replication] drop snapshot: %v", err)
		return
	}
	c.store.Install(snap)
	if c.files != nil {
		if err := c.files.WriteState(snap); err != nil {
			log.Printf("[replication] persist snapshot: %v", err)
		}
	}
}

// Promote rebuilds the store for primary duty: the mirrored view is cleared
// and the last persisted snapshot reinstalled, so the promoted state equals
// the last snapshot that was applied and written.
func Promote(st *store.Store, files *store.FileSet) {
	st.Clear()
	if files == nil {
		return
	}
	snap, ok, err := files.LoadState()
	if err != nil {
		log.Printf("[cluster] promotion reload %s: %v; starting empty", files.StatePath, err)
		return
	}
	if ok {
		st.Install(snap)
		log.Printf("[cluster] promoted with %d taxis, %d ledger entries", len(snap.Taxis), len(snap.Solicitudes))
	} else {
		log.Printf("[cluster] promoted with no persisted snapshot; starting empty")
	}
}
