package cluster

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridcab/gridcab/internal/fabric"
	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/store"
	"github.com/gridcab/gridcab/internal/wire"
)

func postText(t *testing.T, url, body string) string {
	t.Helper()
	resp, err := http.Post(url, "text/plain", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	return string(b)
}

func TestRoleVar_Transitions(t *testing.T) {
	var role RoleVar
	if role.Get() != RoleUnassigned {
		t.Fatalf("initial role = %v", role.Get())
	}

	role.Set(RoleStandby)
	if !role.Promote() {
		t.Fatal("standby promotion failed")
	}
	if role.Get() != RolePrimary {
		t.Fatalf("role after promotion = %v", role.Get())
	}
	// Second promotion is a no-op.
	if role.Promote() {
		t.Fatal("promoted a primary")
	}
}

func TestHandleDiscovery(t *testing.T) {
	var role RoleVar
	srv := httptest.NewServer(HandleDiscovery(&role))
	defer srv.Close()

	if got := postText(t, srv.URL, wire.ProbeIsPrimary); got != wire.ReplyUnknown {
		t.Fatalf("unassigned reply = %q", got)
	}

	role.Set(RolePrimary)
	if got := postText(t, srv.URL, wire.ProbeIsPrimary); got != wire.ReplyPrimaryYes {
		t.Fatalf("primary reply = %q", got)
	}
	// Unknown probe bodies never get an affirmative.
	if got := postText(t, srv.URL, "what are you"); got != wire.ReplyUnknown {
		t.Fatalf("bad probe reply = %q", got)
	}

	role.Set(RoleStandby)
	if got := postText(t, srv.URL, wire.ProbeIsPrimary); got != wire.ReplyUnknown {
		t.Fatalf("standby reply = %q", got)
	}
}

func TestNegotiate(t *testing.T) {
	var role RoleVar
	role.Set(RolePrimary)
	srv := httptest.NewServer(HandleDiscovery(&role))
	defer srv.Close()

	if got := Negotiate(srv.URL, time.Second); got != RoleStandby {
		t.Fatalf("against live primary: %v", got)
	}

	role.Set(RoleStandby)
	if got := Negotiate(srv.URL, time.Second); got != RolePrimary {
		t.Fatalf("against standby peer: %v", got)
	}

	// Unreachable peer: any error means no primary exists.
	srv.Close()
	if got := Negotiate(srv.URL, 200*time.Millisecond); got != RolePrimary {
		t.Fatalf("against dead peer: %v", got)
	}
}

func TestHandleLiveness(t *testing.T) {
	srv := httptest.NewServer(HandleLiveness())
	defer srv.Close()
	if got := postText(t, srv.URL, wire.Ping); got != wire.Pong {
		t.Fatalf("liveness reply = %q", got)
	}
}

func TestProber_SingleStrike(t *testing.T) {
	srv := httptest.NewServer(HandleLiveness())

	failures := make(chan struct{}, 4)
	p := NewProber(srv.URL, 20*time.Millisecond, 200*time.Millisecond, func() {
		failures <- struct{}{}
	})
	p.Start()

	// Healthy primary: no failure within a few intervals.
	select {
	case <-failures:
		t.Fatal("onFailure fired against a healthy primary")
	case <-time.After(100 * time.Millisecond):
	}

	srv.Close()
	select {
	case <-failures:
	case <-time.After(2 * time.Second):
		t.Fatal("onFailure never fired after primary death")
	}

	// Single strike: the loop stopped itself, no second callback.
	select {
	case <-failures:
		t.Fatal("onFailure fired twice")
	case <-time.After(100 * time.Millisecond):
	}
	p.Wait()
}

func TestReplication_MirrorsAndPromotes(t *testing.T) {
	primary := store.New(nil)
	primary.UpsertPosition("t1", grid.Point{X: 2, Y: 3})
	primary.UpsertPosition("t2", grid.Point{X: 8, Y: 8})
	primary.Dispatch("u1", grid.Point{X: 3, Y: 3}, time.Now())

	hub := fabric.NewBroadcastHub("replication", 16)
	hub.Start()
	defer hub.Stop()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleSubscribe))
	defer srv.Close()

	producer := NewSnapshotProducer(primary, hub, 20*time.Millisecond)
	producer.Start()
	defer producer.Stop()

	files, err := store.NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	standby := store.New(nil)
	consumer := NewSnapshotConsumer(standby, files, "ws"+strings.TrimPrefix(srv.URL, "http"))
	consumer.Start()

	deadline := time.Now().Add(3 * time.Second)
	for len(standby.Ledger()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("standby never mirrored the ledger")
		}
		time.Sleep(10 * time.Millisecond)
	}
	consumer.Stop()

	if standby.FreePool()["t2"] != (grid.Point{X: 8, Y: 8}) {
		t.Fatalf("mirrored pool = %v", standby.FreePool())
	}
	// The assigned taxi is not in the replicated free pool.
	if _, inPool := standby.FreePool()["t1"]; inPool {
		t.Fatal("assigned taxi leaked into mirrored pool")
	}
	if standby.Metrics().Assigned != 1 {
		t.Fatalf("mirrored counters = %+v", standby.Metrics())
	}

	// Promotion equals the last persisted snapshot.
	Promote(standby, files)
	if len(standby.Ledger()) != 1 || standby.FreePool()["t2"] != (grid.Point{X: 8, Y: 8}) {
		t.Fatalf("promoted state: ledger=%d pool=%v", len(standby.Ledger()), standby.FreePool())
	}

	// A promoted node with no persisted snapshot starts empty.
	fresh := store.New(nil)
	fresh.UpsertPosition("stale", grid.Point{X: 1, Y: 1})
	emptyFiles, err := store.NewFileSet(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	Promote(fresh, emptyFiles)
	if len(fresh.FreePool()) != 0 {
		t.Fatalf("promoted-empty pool = %v", fresh.FreePool())
	}
}
