package cluster

import (
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gridcab/gridcab/internal/scanloop"
	"github.com/gridcab/gridcab/internal/wire"
)

// HandleLiveness returns the handler for the health channel. Any request
// gets "pong"; answering at all is the health signal.
func HandleLiveness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, wire.Pong)
	}
}

// HandleHealthz returns a handler for GET /healthz, for operators and
// load checkers rather than the peer prober.
func HandleHealthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		io.WriteString(w, `{"status":"ok"}`)
	}
}

// Prober pings the primary's health endpoint on a fixed interval. The first
// probe that fails or answers anything but "pong" fires onFailure once and
// stops the loop (single strike, no retries).
type Prober struct {
	url       string
	interval  time.Duration
	timeout   time.Duration
	onFailure func()

	client   *http.Client
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewProber creates a liveness prober against url. onFailure runs at most
// once, from the probe goroutine.
func NewProber(url string, interval, timeout time.Duration, onFailure func()) *Prober {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = interval
	}
	return &Prober{
		url:       url,
		interval:  interval,
		timeout:   timeout,
		onFailure: onFailure,
		client:    &http.Client{Timeout: timeout},
		stopCh:    make(chan struct{}),
	}
}

// Start launches the probe loop.
func (p *Prober) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		scanloop.Every(p.stopCh, p.interval, func() {
			if p.probe() {
				return
			}
			log.Printf("[cluster] primary %s failed liveness probe", p.url)
			p.Stop()
			p.onFailure()
		})
	}()
}

// Stop halts the probe loop. Safe to call from the loop itself and from the
// outside concurrently.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// Wait blocks until the probe goroutine exits.
func (p *Prober) Wait() {
	p.wg.Wait()
}

func (p *Prober) probe() bool {
	resp, err := p.client.Post(p.url, "text/plain", strings.NewReader(wire.Ping))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(body)) == wire.Pong
}
