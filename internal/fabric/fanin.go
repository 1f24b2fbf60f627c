package fabric

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// HandleFanIn returns a handler that upgrades each request to WebSocket and
// forwards every received text frame to sink. Many producers connect to the
// same endpoint; frames from all of them interleave on the sink.
//
// The sink call is synchronous per connection, so a single producer's frames
// keep their arrival order.
func HandleFanIn(name string, sink func(frame []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[fabric:%s] upgrade failed: %v", name, err)
			return
		}
		defer conn.Close()
		log.Printf("[fabric:%s] producer connected from %s", name, r.RemoteAddr)

		conn.SetReadLimit(maxMsgSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[fabric:%s] producer %s read: %v", name, r.RemoteAddr, err)
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			sink(payload)
		}
	}
}
