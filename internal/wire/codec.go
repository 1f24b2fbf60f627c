// Package wire implements the dispatcher's external message formats: the
// position and assignment frame grammars, the ride request/reply JSON, the
// replication snapshot payload, and the discovery/liveness literals.
// Validation happens here, at the edge; everything past this package works
// with typed values.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/model"
)

// Literal bodies of the discovery and liveness channels.
const (
	ProbeIsPrimary  = "is-primary?"
	ReplyPrimaryYes = "yes"
	ReplyUnknown    = "unknown"
	Ping            = "ping"
	Pong            = "pong"
)

// Ride reply status values.
const (
	StatusAssigned = "assigned"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// PositionFrame encodes a taxi position report as "<id>:(<x>,<y>)".
func PositionFrame(taxiID string, p grid.Point) string {
	return fmt.Sprintf("%s:(%d,%d)", taxiID, p.X, p.Y)
}

// ParsePositionFrame decodes a position frame. The taxi ID must be non-empty
// and contain no colon; coordinates are decimal integers.
func ParsePositionFrame(frame string) (string, grid.Point, error) {
	id, rest, ok := strings.Cut(frame, ":")
	if !ok {
		return "", grid.Point{}, fmt.Errorf("position frame %q: missing separator", frame)
	}
	if id == "" {
		return "", grid.Point{}, fmt.Errorf("position frame %q: empty taxi id", frame)
	}
	if strings.Contains(rest, ":") {
		return "", grid.Point{}, fmt.Errorf("position frame %q: taxi id contains colon", frame)
	}
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return "", grid.Point{}, fmt.Errorf("position frame %q: position not parenthesized", frame)
	}
	xs, ys, ok := strings.Cut(rest[1:len(rest)-1], ",")
	if !ok {
		return "", grid.Point{}, fmt.Errorf("position frame %q: missing coordinate", frame)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return "", grid.Point{}, fmt.Errorf("position frame %q: bad x: %w", frame, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return "", grid.Point{}, fmt.Errorf("position frame %q: bad y: %w", frame, err)
	}
	return id, grid.Point{X: x, Y: y}, nil
}

// AssignmentFrame encodes an assignment event as "<taxi-id>:assigned".
func AssignmentFrame(taxiID string) string {
	return taxiID + ":assigned"
}

// ParseAssignmentFrame decodes an assignment frame, returning the taxi ID.
func ParseAssignmentFrame(frame string) (string, error) {
	id, ok := strings.CutSuffix(frame, ":assigned")
	if !ok || id == "" {
		return "", fmt.Errorf("assignment frame %q: malformed", frame)
	}
	return id, nil
}

// RideRequest is a decoded user request. The wire field "id_usuario" accepts
// either a JSON string or an integer; it is normalized to a string here.
type RideRequest struct {
	UserID string
	Pickup grid.Point
}

// DecodeRideRequest parses and validates a ride request body.
func DecodeRideRequest(body []byte) (RideRequest, error) {
	var raw struct {
		IDUsuario json.RawMessage `json:"id_usuario"`
		X         *int            `json:"x"`
		Y         *int            `json:"y"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return RideRequest{}, fmt.Errorf("ride request: %w", err)
	}
	if len(raw.IDUsuario) == 0 {
		return RideRequest{}, fmt.Errorf("ride request: missing id_usuario")
	}
	userID, err := decodeUserID(raw.IDUsuario)
	if err != nil {
		return RideRequest{}, err
	}
	if raw.X == nil || raw.Y == nil {
		return RideRequest{}, fmt.Errorf("ride request: missing coordinates")
	}
	return RideRequest{UserID: userID, Pickup: grid.Point{X: *raw.X, Y: *raw.Y}}, nil
}

func decodeUserID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("ride request: empty id_usuario")
		}
		return s, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10), nil
	}
	return "", fmt.Errorf("ride request: id_usuario must be a string or integer")
}

// RideReply is the synchronous answer to a ride request.
type RideReply struct {
	Status  string `json:"status"`
	TaxiID  string `json:"taxi_id,omitempty"`
	Mensaje string `json:"mensaje,omitempty"`
}

// AssignedReply builds the reply for a successful assignment.
func AssignedReply(taxiID string) RideReply {
	return RideReply{Status: StatusAssigned, TaxiID: taxiID}
}

// RejectedReply builds the reply for an empty free pool.
func RejectedReply(message string) RideReply {
	return RideReply{Status: StatusRejected, Mensaje: message}
}

// ErrorReply builds the reply for an undecodable request.
func ErrorReply(message string) RideReply {
	return RideReply{Status: StatusError, Mensaje: message}
}

// EncodeSnapshot serializes a replication snapshot.
func EncodeSnapshot(s model.Snapshot) ([]byte, error) {
	if s.Taxis == nil {
		s.Taxis = map[string][2]int{}
	}
	if s.Solicitudes == nil {
		s.Solicitudes = []model.LedgerEntry{}
	}
	return json.Marshal(s)
}

// DecodeSnapshot parses a replication snapshot. Absent maps decode to empty.
func DecodeSnapshot(b []byte) (model.Snapshot, error) {
	var s model.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return model.Snapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	if s.Taxis == nil {
		s.Taxis = map[string][2]int{}
	}
	return s, nil
}
