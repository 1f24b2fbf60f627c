package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gridcab/gridcab/internal/cluster"
	"github.com/gridcab/gridcab/internal/config"
	"github.com/gridcab/gridcab/internal/dispatch"
	"github.com/gridcab/gridcab/internal/fabric"
	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/ledger"
	"github.com/gridcab/gridcab/internal/store"
)

// replicationQueueSize bounds staged snapshots. Snapshots supersede each
// other, so a short queue with drop-oldest is exactly right.
const replicationQueueSize = 8

type gridcabApp struct {
	envCfg *config.EnvConfig
	bounds grid.Bounds
	role   *cluster.RoleVar
	st     *store.Store
	files  *store.FileSet

	serverErrCh chan error

	mu      sync.Mutex
	servers []*http.Server

	// Primary services, nil until this node acts as primary.
	ingest     *dispatch.Ingest
	assignHub  *fabric.BroadcastHub
	replHub    *fabric.BroadcastHub
	snapWorker *store.SnapshotWorker
	producer   *cluster.SnapshotProducer
	auditRepo  *ledger.Repo
	auditSvc   *ledger.Service

	// Standby services, nil on a node that started as primary.
	consumer *cluster.SnapshotConsumer
	prober   *cluster.Prober
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	files, err := store.NewFileSet(envCfg.StateDir)
	if err != nil {
		return err
	}

	app := &gridcabApp{
		envCfg:      envCfg,
		bounds:      grid.Bounds{MaxX: envCfg.GridMaxX, MaxY: envCfg.GridMaxY},
		role:        &cluster.RoleVar{},
		files:       files,
		serverErrCh: make(chan error, 8),
	}
	app.st = store.New(files)

	// Discovery and liveness answer on both roles, so bind them before the
	// role is decided.
	if err := app.serve("discovery", envCfg.DiscoveryPort, discoveryMux(app.role)); err != nil {
		return err
	}
	if err := app.serve("health", envCfg.HealthPort, healthMux()); err != nil {
		return err
	}

	role := cluster.Negotiate(app.peerURL("http", envCfg.DiscoveryPort), envCfg.NegotiationTimeout)
	app.role.Set(role)
	log.Printf("[main] starting as %s", role)

	switch role {
	case cluster.RolePrimary:
		app.st.LoadFiles(files)
		if err := app.startPrimaryServices(); err != nil {
			app.shutdownServers(context.Background())
			return err
		}
	case cluster.RoleStandby:
		app.startStandbyServices()
	}

	runtimeErr := waitForShutdown(app.serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

// startPrimaryServices binds the primary's four endpoints and starts its
// background workers. Called at startup for a negotiated primary and again
// at promotion for a standby; a bind failure is fatal either way.
func (a *gridcabApp) startPrimaryServices() error {
	repo, err := ledger.OpenRepo(filepath.Join(a.envCfg.StateDir, "ledger.db"))
	if err != nil {
		return fmt.Errorf("open audit ledger: %w", err)
	}
	a.auditRepo = repo
	a.auditSvc = ledger.NewService(ledger.ServiceConfig{
		Repo:          repo,
		QueueSize:     a.envCfg.LedgerQueueSize,
		FlushBatch:    a.envCfg.LedgerFlushBatchSize,
		FlushInterval: a.envCfg.LedgerFlushInterval,
		RetainRows:    a.envCfg.LedgerRetainRows,
		PruneSchedule: a.envCfg.LedgerPruneSchedule,
	})
	a.auditSvc.Start()

	a.assignHub = fabric.NewBroadcastHub("assign", a.envCfg.AssignQueueSize)
	a.assignHub.Start()
	a.replHub = fabric.NewBroadcastHub("replication", replicationQueueSize)
	a.replHub.Start()

	a.snapWorker = store.NewSnapshotWorker(a.st, a.files, a.envCfg.SnapshotInterval)
	a.snapWorker.Start()
	a.producer = cluster.NewSnapshotProducer(a.st, a.replHub, a.envCfg.ReplicationInterval)
	a.producer.Start()

	a.ingest = dispatch.NewIngest(a.envCfg.AssignQueueSize, dispatch.PositionSink(a.st, a.bounds))
	a.ingest.Start()

	if err := a.serve("position", a.envCfg.PositionPort,
		wsMux(fabric.HandleFanIn("position", a.ingest.Enqueue))); err != nil {
		return err
	}
	if err := a.serve("assign", a.envCfg.AssignPort, wsMux(a.assignHub.HandleSubscribe)); err != nil {
		return err
	}
	if err := a.serve("request", a.envCfg.RequestPort,
		requestMux(dispatch.HandleRideRequest(a.st, a.bounds, a.assignHub, a.auditSvc))); err != nil {
		return err
	}
	return a.serve("replication", a.envCfg.ReplicationPort, wsMux(a.replHub.HandleSubscribe))
}

// startStandbyServices subscribes to the primary's replication stream and
// arms the liveness prober.
func (a *gridcabApp) startStandbyServices() {
	a.consumer = cluster.NewSnapshotConsumer(a.st, a.files, a.peerURL("ws", a.envCfg.ReplicationPort))
	a.consumer.Start()

	a.prober = cluster.NewProber(
		a.peerURL("http", a.envCfg.HealthPort),
		a.envCfg.ProbeInterval,
		a.envCfg.ProbeTimeout,
		a.promote,
	)
	a.prober.Start()
}

// promote runs on the prober goroutine when the primary fails its probe.
func (a *gridcabApp) promote() {
	log.Printf("[main] primary unreachable; taking over")

	a.consumer.Stop()
	cluster.Promote(a.st, a.files)
	if !a.role.Promote() {
		return
	}

	if err := a.startPrimaryServices(); err != nil {
		a.serverErrCh <- fmt.Errorf("promotion: %w", err)
	}
}

// serve binds one endpoint. Listening happens synchronously so a taken port
// fails startup (or promotion) immediately.
func (a *gridcabApp) serve(name string, port int, handler http.Handler) error {
	addr := net.JoinHostPort(a.envCfg.ListenAddress, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s endpoint on %s: %w", name, addr, err)
	}

	srv := &http.Server{Handler: handler}
	a.mu.Lock()
	a.servers = append(a.servers, srv)
	a.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErrCh <- fmt.Errorf("%s endpoint: %w", name, err)
		}
	}()
	log.Printf("[main] %s endpoint listening on %s", name, addr)
	return nil
}

func (a *gridcabApp) peerURL(scheme string, port int) string {
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(a.envCfg.PeerHost, strconv.Itoa(port)))
}

func (a *gridcabApp) shutdown(ctx context.Context) {
	if a.prober != nil {
		a.prober.Stop()
		a.prober.Wait()
	}
	if a.consumer != nil {
		a.consumer.Stop()
	}

	a.shutdownServers(ctx)

	// Workers after servers: the final snapshot and audit drain see the last
	// request that finished.
	if a.ingest != nil {
		a.ingest.Stop()
	}
	if a.producer != nil {
		a.producer.Stop()
	}
	if a.snapWorker != nil {
		a.snapWorker.Stop()
	}
	if a.assignHub != nil {
		a.assignHub.Stop()
	}
	if a.replHub != nil {
		a.replHub.Stop()
	}
	if a.auditSvc != nil {
		a.auditSvc.Stop()
	}
	if a.auditRepo != nil {
		if err := a.auditRepo.Close(); err != nil {
			log.Printf("[main] close audit ledger: %v", err)
		}
	}
	log.Printf("[main] shutdown complete")
}

func (a *gridcabApp) shutdownServers(ctx context.Context) {
	a.mu.Lock()
	servers := a.servers
	a.servers = nil
	a.mu.Unlock()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[main] server shutdown: %v", err)
		}
	}
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("[main] received signal %s, shutting down", sig)
		return nil
	case err := <-serverErrCh:
		return err
	}
}

func wsMux(h http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /", h)
	return mux
}

func requestMux(h http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /", h)
	return mux
}

func discoveryMux(role *cluster.RoleVar) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /", cluster.HandleDiscovery(role))
	return mux
}

func healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /", cluster.HandleLiveness())
	mux.Handle("GET /healthz", cluster.HandleHealthz())
	return mux
}
