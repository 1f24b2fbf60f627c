package cluster

import (
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gridcab/gridcab/internal/wire"
)

// HandleDiscovery returns the handler for the peer discovery channel. The
// probe body "is-primary?" gets "yes" from an acting primary and "unknown"
// from everything else; any other body gets "unknown".
func HandleDiscovery(role *RoleVar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 256))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		reply := wire.ReplyUnknown
		if strings.TrimSpace(string(body)) == wire.ProbeIsPrimary && role.Get() == RolePrimary {
			reply = wire.ReplyPrimaryYes
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, reply)
	}
}

// Negotiate asks the peer's discovery endpoint whether an acting primary
// already exists and returns this node's starting role. The affirmative
// literal "yes" yields standby; any other reply, a malformed reply, a
// timeout, or a connection error yields primary.
func Negotiate(peerURL string, timeout time.Duration) Role {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(peerURL, "text/plain", strings.NewReader(wire.ProbeIsPrimary))
	if err != nil {
		log.Printf("[cluster] negotiation with %s failed (%v); assuming primary", peerURL, err)
		return RolePrimary
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		log.Printf("[cluster] negotiation read failed (%v); assuming primary", err)
		return RolePrimary
	}
	if strings.TrimSpace(string(body)) == wire.ReplyPrimaryYes {
		log.Printf("[cluster] peer %s is primary; starting as standby", peerURL)
		return RoleStandby
	}
	log.Printf("[cluster] peer %s answered %q; starting as primary", peerURL, strings.TrimSpace(string(body)))
	return RolePrimary
}
