// Package linediff provides the line-oriented diff primitives the weave
// store's add algorithm needs, built on sergi/go-diff/diffmatchpatch the
// same way go-git's utils/diff package wraps it: fold whole lines down to
// single runes, run the Myers/patience-hybrid matcher over the folded
// text, then unfold back to line-level diffs.
package linediff

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Do diffs src against dst line-by-line, matching go-git's utils/diff.Do.
func Do(src, dst string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	wSrc, wDst, lines := dmp.DiffLinesToChars(src, dst)
	diffs := dmp.DiffMain(wSrc, wDst, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	if diffs == nil {
		diffs = []diffmatchpatch.Diff{}
	}
	return diffs
}

// Src reconstructs the src argument from a Diff sequence (equal + delete).
func Src(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffInsert {
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// Dst reconstructs the dst argument from a Diff sequence (equal + insert).
func Dst(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		if d.Type != diffmatchpatch.DiffDelete {
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// Op is one patience-diff-style opcode, matching the shape spec.md §4.1
// step 3 requires: (equal|replace|insert|delete, i1, i2, j1, j2), indices
// into the basis and new line slices respectively. This is the Go
// equivalent of Python's difflib.SequenceMatcher.get_opcodes(), which the
// original weave implementation drives directly.
type Op struct {
	Tag        string // "equal", "replace", "insert", "delete"
	I1, I2     int    // basis[I1:I2]
	J1, J2     int    // new[J1:J2]
}

// LineOpcodes diffs two line sequences and returns opcodes in the same
// shape and ordering difflib's get_opcodes produces: adjacent delete+insert
// runs are merged into a single "replace" opcode.
func LineOpcodes(basis, next [][]byte) []Op {
	if len(basis) == 0 && len(next) == 0 {
		return nil
	}

	// Fold each distinct line (by content) to one rune, the same trick
	// DiffLinesToChars performs on whole lines of a string; here we do
	// it directly over line slices since callers already have lines
	// split out and individual lines need not be newline-terminated.
	codes := make(map[string]rune)
	next_code := rune(0xE000) // private-use area, matching dmp's own offset choice
	encode := func(lines [][]byte) []rune {
		out := make([]rune, len(lines))
		for i, l := range lines {
			key := string(l)
			c, ok := codes[key]
			if !ok {
				c = next_code
				codes[key] = c
				next_code++
			}
			out[i] = c
		}
		return out
	}

	basisRunes := encode(basis)
	newRunes := encode(next)

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(basisRunes), string(newRunes), false)

	var ops []Op
	i, j := 0, 0
	flushPending := func(delLen, insLen int) {
		if delLen == 0 && insLen == 0 {
			return
		}
		tag := "replace"
		switch {
		case delLen == 0:
			tag = "insert"
		case insLen == 0:
			tag = "delete"
		}
		ops = append(ops, Op{Tag: tag, I1: i - delLen, I2: i, J1: j - insLen, J2: j})
	}

	pendingDel, pendingIns := 0, 0
	for _, d := range diffs {
		n := len([]rune(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flushPending(pendingDel, pendingIns)
			pendingDel, pendingIns = 0, 0
			ops = append(ops, Op{Tag: "equal", I1: i, I2: i + n, J1: j, J2: j + n})
			i += n
			j += n
		case diffmatchpatch.DiffDelete:
			i += n
			pendingDel += n
		case diffmatchpatch.DiffInsert:
			j += n
			pendingIns += n
		}
	}
	flushPending(pendingDel, pendingIns)

	return ops
}
