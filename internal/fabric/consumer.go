package fabric

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// redialDelay paces reconnect attempts after a broken subscription.
const redialDelay = time.Second

// Consume dials a broadcast endpoint and feeds every received frame to sink.
// The connection is redialed on failure until stopCh closes. Blocks; run in
// a goroutine.
func Consume(stopCh <-chan struct{}, name, url string, sink func(frame []byte)) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			log.Printf("[fabric:%s] dial %s: %v", name, url, err)
			if !sleepOrStop(stopCh, redialDelay) {
				return
			}
			continue
		}
		log.Printf("[fabric:%s] subscribed to %s", name, url)

		readFrames(stopCh, conn, sink)
		conn.Close()

		if !sleepOrStop(stopCh, redialDelay) {
			return
		}
	}
}

func readFrames(stopCh <-chan struct{}, conn *websocket.Conn, sink func(frame []byte)) {
	// Closing the connection from a watcher goroutine unblocks ReadMessage.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stopCh:
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadLimit(maxMsgSize)
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sink(payload)
	}
}

func sleepOrStop(stopCh <-chan struct{}, d time.Duration) bool {
	select {
	case <-stopCh:
		return false
	case <-time.After(d):
		return true
	}
}
