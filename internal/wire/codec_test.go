package wire

import (
	"testing"

	"github.com/gridcab/gridcab/internal/grid"
	"github.com/gridcab/gridcab/internal/model"
)

func TestPositionFrame_RoundTrip(t *testing.T) {
	frames := []string{
		"t1:(2,3)",
		"taxi-42:(0,0)",
		"a:(10,8)",
	}
	for _, f := range frames {
		id, p, err := ParsePositionFrame(f)
		if err != nil {
			t.Fatalf("ParsePositionFrame(%q): %v", f, err)
		}
		if got := PositionFrame(id, p); got != f {
			t.Errorf("round trip %q -> %q", f, got)
		}
	}
}

func TestParsePositionFrame_Malformed(t *testing.T) {
	bad := []string{
		"",
		"garbage",
		":(2,3)",           // empty id
		"a:b:(2,3)",        // colon in id
		"t1:2,3",           // no parens
		"t1:(2)",           // one coordinate
		"t1:(two,3)",       // non-integer
		"t1:(2,3.5)",       // non-integer
		"t1:(2,3) trailer", // trailing garbage
	}
	for _, f := range bad {
		if _, _, err := ParsePositionFrame(f); err == nil {
			t.Errorf("ParsePositionFrame(%q): expected error", f)
		}
	}
}

func TestParsePositionFrame_ToleratesSpaces(t *testing.T) {
	id, p, err := ParsePositionFrame("t1:( 2, 3)")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "t1" || p != (grid.Point{X: 2, Y: 3}) {
		t.Errorf("got %q %v", id, p)
	}
}

func TestAssignmentFrame_RoundTrip(t *testing.T) {
	f := AssignmentFrame("t7")
	if f != "t7:assigned" {
		t.Fatalf("AssignmentFrame = %q", f)
	}
	id, err := ParseAssignmentFrame(f)
	if err != nil || id != "t7" {
		t.Fatalf("ParseAssignmentFrame(%q) = %q, %v", f, id, err)
	}
	for _, bad := range []string{"", "t7", ":assigned", "t7:done"} {
		if _, err := ParseAssignmentFrame(bad); err == nil {
			t.Errorf("ParseAssignmentFrame(%q): expected error", bad)
		}
	}
}

func TestDecodeRideRequest(t *testing.T) {
	cases := []struct {
		name string
		body string
		want RideRequest
	}{
		{"string id", `{"id_usuario":"u1","x":3,"y":4}`, RideRequest{UserID: "u1", Pickup: grid.Point{X: 3, Y: 4}}},
		{"integer id", `{"id_usuario":17,"x":0,"y":0}`, RideRequest{UserID: "17", Pickup: grid.Point{X: 0, Y: 0}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := DecodeRideRequest([]byte(c.body))
			if err != nil {
				t.Fatalf("DecodeRideRequest: %v", err)
			}
			if got != c.want {
				t.Errorf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestDecodeRideRequest_Invalid(t *testing.T) {
	bad := []string{
		`{`,                           // truncated
		`{"x":1,"y":2}`,               // missing user
		`{"id_usuario":"u1","x":1}`,   // missing y
		`{"id_usuario":"","x":1,"y":2}`,
		`{"id_usuario":[1],"x":1,"y":2}`,
		`[]`,
	}
	for _, b := range bad {
		if _, err := DecodeRideRequest([]byte(b)); err == nil {
			t.Errorf("DecodeRideRequest(%q): expected error", b)
		}
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	snap := model.Snapshot{
		Taxis: map[string][2]int{"t1": {2, 3}, "t2": {8, 8}},
		Solicitudes: []model.LedgerEntry{
			{UserID: "u1", TaxiID: "t1", Outcome: model.OutcomeAssigned, Pickup: [2]int{3, 3}, Timestamp: 1700000000.5},
		},
	}
	b, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	got, err := DecodeSnapshot(b)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	if len(got.Taxis) != 2 || got.Taxis["t1"] != [2]int{2, 3} {
		t.Errorf("taxis mismatch: %+v", got.Taxis)
	}
	if len(got.Solicitudes) != 1 || got.Solicitudes[0] != snap.Solicitudes[0] {
		t.Errorf("solicitudes mismatch: %+v", got.Solicitudes)
	}
}

func TestDecodeSnapshot_EmptyAndMalformed(t *testing.T) {
	got, err := DecodeSnapshot([]byte(`{}`))
	if err != nil {
		t.Fatalf("DecodeSnapshot({}): %v", err)
	}
	if got.Taxis == nil {
		t.Error("empty snapshot must decode to a non-nil taxi map")
	}
	if _, err := DecodeSnapshot([]byte(`{"taxis":`)); err == nil {
		t.Error("expected error for truncated snapshot")
	}
}
