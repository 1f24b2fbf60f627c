// Package model defines domain structs shared across the store, the wire
// codecs, and the persistence layer. JSON tags match the on-disk and
// replication formats, which predate this implementation.
package model

// Outcome is the terminal state of a ride request.
type Outcome string

const (
	OutcomeAssigned Outcome = "assigned"
	OutcomeRejected Outcome = "rejected"
)

// LedgerEntry is one audited request outcome. Entries are append-only and
// never mutated after creation.
type LedgerEntry struct {
	UserID    string  `json:"usuario_id"`
	TaxiID    string  `json:"taxi_id,omitempty"`
	Outcome   Outcome `json:"estado"`
	Pickup    [2]int  `json:"posicion_usuario"`
	Timestamp float64 `json:"timestamp"` // unix seconds
}

// Metrics holds the dispatch counters plus a bounded list of response-time
// samples in seconds. Counters always equal the ledger counts with the
// matching outcome.
type Metrics struct {
	ResponseTimes []float64 `json:"tiempos_respuesta"`
	Assigned      int       `json:"servicios_exitosos"`
	Rejected      int       `json:"servicios_rechazados"`
}

// Snapshot is a self-contained serialization of the dispatcher state,
// sufficient to reconstruct the store without history. It is both the
// replication payload and the state.json format.
type Snapshot struct {
	Taxis       map[string][2]int `json:"taxis"`
	Solicitudes []LedgerEntry     `json:"solicitudes"`
}
