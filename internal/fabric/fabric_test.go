package fabric

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(t *testing.T, httpURL string) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestBroadcastHub_DeliversToSubscribers(t *testing.T) {
	hub := NewBroadcastHub("test", 16)
	hub.Start()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleSubscribe))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(t, srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for registration before staging.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Stage([]byte("t1:assigned"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != "t1:assigned" {
		t.Fatalf("payload = %q", payload)
	}
}

func TestBroadcastHub_StageNeverBlocks(t *testing.T) {
	hub := NewBroadcastHub("test", 4)
	// Not started: nothing drains the staging queue.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Stage([]byte("frame"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stage blocked on full queue")
	}
}

func TestHandleFanIn_ForwardsFrames(t *testing.T) {
	frames := make(chan []byte, 8)
	srv := httptest.NewServer(HandleFanIn("test", func(frame []byte) {
		frames <- frame
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(t, srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("t1:(2,3)")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case frame := <-frames:
		if string(frame) != "t1:(2,3)" {
			t.Fatalf("frame = %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached sink")
	}
}

func TestConsume_ReceivesBroadcast(t *testing.T) {
	hub := NewBroadcastHub("test", 16)
	hub.Start()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleSubscribe))
	defer srv.Close()

	frames := make(chan []byte, 8)
	stopCh := make(chan struct{})
	defer close(stopCh)
	go Consume(stopCh, "test", wsURL(t, srv.URL), func(frame []byte) {
		frames <- frame
	})

	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("consumer never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Stage([]byte(`{"taxis":{},"solicitudes":[]}`))

	select {
	case frame := <-frames:
		if !strings.Contains(string(frame), "taxis") {
			t.Fatalf("frame = %q", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never received frame")
	}
}
