package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gridcab/gridcab/internal/fabric"
	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/ledger"
	"github.com/gridcab/gridcab/internal/model"
	"github.com/gridcab/gridcab/internal/store"
	"github.com/gridcab/gridcab/internal/wire"
)

// maxRequestBody bounds a ride request body. Requests are tiny; anything
// bigger is garbage.
const maxRequestBody = 64 * 1024

// HandleRideRequest returns the handler for POST ride requests. Every
// request gets exactly one JSON reply; an undecodable body gets an error
// reply instead of a dropped connection.
//
// assignments and audit may be nil (the standby serves no requests; tests
// often skip the audit trail).
func HandleRideRequest(st *store.Store, bounds grid.Bounds, assignments *fabric.BroadcastHub, audit *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			writeReply(w, http.StatusBadRequest, wire.ErrorReply("read request body"))
			return
		}

		req, err := wire.DecodeRideRequest(body)
		if err != nil {
			writeReply(w, http.StatusBadRequest, wire.ErrorReply(err.Error()))
			return
		}
		if !bounds.Contains(req.Pickup) {
			writeReply(w, http.StatusBadRequest, wire.ErrorReply("pickup position outside grid"))
			return
		}

		// Response time runs from decoded request to written reply.
		t0 := time.Now()
		entry := st.Dispatch(req.UserID, req.Pickup, time.Now())

		var reply wire.RideReply
		if entry.Outcome == model.OutcomeAssigned {
			reply = wire.AssignedReply(entry.TaxiID)
		} else {
			reply = wire.RejectedReply("No hay taxis disponibles.")
		}
		writeReply(w, http.StatusOK, reply)

		latency := time.Since(t0)
		st.RecordLatency(latency.Seconds())

		if entry.Outcome == model.OutcomeAssigned && assignments != nil {
			assignments.Stage([]byte(wire.AssignmentFrame(entry.TaxiID)))
		}
		if audit != nil {
			audit.Emit(entry, latency)
		}
	}
}

func writeReply(w http.ResponseWriter, status int, reply wire.RideReply) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply)
}
