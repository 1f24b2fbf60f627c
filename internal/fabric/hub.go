// Package fabric carries the cluster's streaming channels over WebSocket:
// taxi position fan-in, assignment broadcast, and snapshot replication.
// Each channel is one endpoint with atomic text frames.
package fabric

import (
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 512 * 1024
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cluster-internal endpoints; peers are addressed by host, not browser origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BroadcastHub fans one stream of text frames out to every connected
// subscriber. Staging is non-blocking with drop-oldest overflow so a slow
// subscriber can never stall the producer.
type BroadcastHub struct {
	name    string
	staging chan []byte

	subs   *xsync.Map[uint64, *subscriber]
	nextID atomic.Uint64

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// subscriber owns one WebSocket connection. All writes go through the send
// channel to a single writePump goroutine; readPump only consumes control
// frames and detects the close.
type subscriber struct {
	hub  *BroadcastHub
	id   uint64
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewBroadcastHub creates a hub. name tags log lines; queueSize bounds the
// staging queue.
func NewBroadcastHub(name string, queueSize int) *BroadcastHub {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &BroadcastHub{
		name:    name,
		staging: make(chan []byte, queueSize),
		subs:    xsync.NewMap[uint64, *subscriber](),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the drain goroutine that moves staged frames to subscribers.
func (h *BroadcastHub) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case frame := <-h.staging:
				h.fanOut(frame)
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop halts the drain loop and closes every subscriber connection.
func (h *BroadcastHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
		h.subs.Range(func(_ uint64, s *subscriber) bool {
			s.close()
			return true
		})
	})
}

// Stage enqueues a frame for broadcast. Never blocks; when the staging queue
// is full the oldest staged frame is discarded first.
func (h *BroadcastHub) Stage(frame []byte) {
	select {
	case h.staging <- frame:
		return
	default:
	}
	select {
	case <-h.staging:
	default:
	}
	select {
	case h.staging <- frame:
	default:
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *BroadcastHub) SubscriberCount() int {
	return h.subs.Size()
}

// HandleSubscribe upgrades the request to WebSocket and registers the peer
// as a broadcast subscriber.
func (h *BroadcastHub) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[fabric:%s] upgrade failed: %v", h.name, err)
		return
	}

	s := &subscriber{
		hub:  h,
		id:   h.nextID.Add(1),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	h.subs.Store(s.id, s)
	log.Printf("[fabric:%s] subscriber %d connected from %s", h.name, s.id, r.RemoteAddr)

	go s.writePump()
	go s.readPump()
}

func (h *BroadcastHub) fanOut(frame []byte) {
	h.subs.Range(func(_ uint64, s *subscriber) bool {
		select {
		case s.send <- frame:
		default:
			// Subscriber buffer full; drop for this peer only.
		}
		return true
	})
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.hub.subs.Delete(s.id)
		s.conn.Close()
		log.Printf("[fabric:%s] subscriber %d disconnected", s.hub.name, s.id)
	})
}

// writePump is the only goroutine that writes to the connection.
func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// readPump consumes inbound frames (subscribers never send data) until the
// peer goes away.
func (s *subscriber) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMsgSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
