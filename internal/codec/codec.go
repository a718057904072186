// Package codec implements the compact wire representation of a solve's
// move history. Each move collapses to a fixed 4-element tuple
// [axisBit, index, n, timeDelta], where timeDelta is the increment since
// the previous move's timestamp (running baseline 0). The delta form keeps
// encoded numbers small for JSON transport.
//
// The codec is a pure, total bijection over the tuple space: Decode(Encode(m))
// reproduces every (axis, index, n, time) exactly, including negative deltas.
// It does not enforce the non-decreasing-time invariant; producers do.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/tbourn/go-loopover-backend/internal/domain"
)

// Format selects the wire representation of a move list. It is an explicit
// strategy chosen by the caller; the HTTP layer maps the Api-Version request
// header onto it.
type Format string

// Supported move wire formats.
const (
	// FormatVerbose is the legacy object form: {"axis","index","n","time"}.
	FormatVerbose Format = "verbose"
	// FormatCompact is the delta-encoded tuple form: [axisBit,index,n,dt].
	FormatCompact Format = "encoded"
)

// Encoded is one compact move tuple: [axisBit, index, n, timeDelta].
// axisBit is 1 for a column turn, 0 for a row turn.
type Encoded [4]int64

// Encode reduces moves to compact tuples. The first move's delta is taken
// against a baseline of 0, so absolute first-move timestamps survive the
// round trip. An empty or nil input encodes to an empty sequence.
func Encode(moves []domain.Move) []Encoded {
	out := make([]Encoded, len(moves))
	var lastTime int64
	for i, m := range moves {
		var axisBit int64
		if m.Axis == domain.AxisCol {
			axisBit = 1
		}
		out[i] = Encoded{axisBit, int64(m.Index), int64(m.N), m.Time - lastTime}
		lastTime = m.Time
	}
	return out
}

// Decode reverses Encode, accumulating timeDelta back into absolute times.
func Decode(in []Encoded) []domain.Move {
	out := make([]domain.Move, len(in))
	var lastTime int64
	for i, e := range in {
		axis := domain.AxisRow
		if e[0] != 0 {
			axis = domain.AxisCol
		}
		lastTime += e[3]
		out[i] = domain.Move{Axis: axis, Index: int(e[1]), N: int(e[2]), Time: lastTime}
	}
	return out
}

// MarshalMoves renders moves as JSON in the requested format.
func MarshalMoves(moves []domain.Move, f Format) (json.RawMessage, error) {
	switch f {
	case FormatCompact:
		return json.Marshal(Encode(moves))
	case FormatVerbose:
		if moves == nil {
			moves = []domain.Move{}
		}
		return json.Marshal(moves)
	default:
		return nil, fmt.Errorf("codec: unknown move format %q", f)
	}
}

// UnmarshalMoves parses a JSON move list in the given format back into the
// verbose in-memory form. A nil or empty payload yields an empty list.
func UnmarshalMoves(raw json.RawMessage, f Format) ([]domain.Move, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []domain.Move{}, nil
	}
	switch f {
	case FormatCompact:
		var enc []Encoded
		if err := json.Unmarshal(raw, &enc); err != nil {
			return nil, fmt.Errorf("codec: invalid encoded moves: %w", err)
		}
		return Decode(enc), nil
	case FormatVerbose:
		var moves []domain.Move
		if err := json.Unmarshal(raw, &moves); err != nil {
			return nil, fmt.Errorf("codec: invalid moves: %w", err)
		}
		return moves, nil
	default:
		return nil, fmt.Errorf("codec: unknown move format %q", f)
	}
}
