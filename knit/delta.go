package knit

import (
	"github.com/spindlevcs/spindle/internal/linediff"
	"github.com/spindlevcs/spindle/plumbing"
)

// Hunk is one line-delta instruction: replace basis lines [S1, S2) with
// the N lines that follow it in the delta stream (spec.md §4.2 "Delta
// application").
type Hunk struct {
	S1, S2 int
	N      int
}

// LineDelta is a complete line-delta: hunks in increasing S1 order plus
// the concatenated literal replacement lines for all hunks.
type LineDelta struct {
	Hunks []Hunk
	Lines plumbing.Lines
}

// ApplyLineDelta reconstructs the target text from a basis and a delta,
// following spec.md §4.2's running-offset rule: each hunk consumes N
// lines from the delta and substitutes them for basis[s1+offset:s2+offset],
// then offset += n - (s2-s1).
//
// Grounded on patch_delta.go's patchDelta: hunks apply strictly in order
// against a single cursor into the source, the same shape as a byte-range
// copy-or-insert delta but at line granularity instead of byte offsets.
func ApplyLineDelta(basis plumbing.Lines, d LineDelta) (plumbing.Lines, error) {
	const op = "knit.ApplyLineDelta"
	out := make(plumbing.Lines, 0, len(basis))

	offset := 0
	consumed := 0
	cursor := 0

	for _, h := range d.Hunks {
		s1 := h.S1 + offset
		s2 := h.S2 + offset
		if s1 < cursor || s1 > len(basis) || s2 > len(basis) || s1 > s2 {
			return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
				WithDetail("hunk out of order or out of range")
		}
		if consumed+h.N > len(d.Lines) {
			return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
				WithDetail("delta declares more replacement lines than supplied")
		}

		out = append(out, basis[cursor:s1]...)
		out = append(out, d.Lines[consumed:consumed+h.N]...)

		cursor = s2
		consumed += h.N
		offset += h.N - (h.S2 - h.S1)
	}
	out = append(out, basis[cursor:]...)

	if consumed != len(d.Lines) {
		return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
			WithDetail("delta has unconsumed replacement lines")
	}
	return out, nil
}

// BuildLineDelta computes a line-delta transforming basis into target,
// using the same opcode engine the weave store uses for its own
// insert/delete diffing (internal/linediff), so the two storage formats
// agree on what counts as a minimal edit.
func BuildLineDelta(basis, target plumbing.Lines) LineDelta {
	ops := linediff.LineOpcodes(toByteSlices(basis), toByteSlices(target))

	var d LineDelta
	for _, op := range ops {
		if op.Tag == "equal" {
			continue
		}
		d.Hunks = append(d.Hunks, Hunk{S1: op.I1, S2: op.I2, N: op.J2 - op.J1})
		d.Lines = append(d.Lines, target[op.J1:op.J2]...)
	}
	return d
}

func toByteSlices(lines plumbing.Lines) [][]byte {
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return out
}
