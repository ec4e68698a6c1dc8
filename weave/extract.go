package weave

import (
	"github.com/spindlevcs/spindle/internal/sha1cd"
	"github.com/spindlevcs/spindle/plumbing"
)

// annotatedLine is one line surviving extraction under a given ancestor
// closure, tagged with the version that introduced it and its absolute
// position in the weave body (needed by AddVersion to translate basis
// indices back into weave positions).
type annotatedLine struct {
	origin   int
	position int
	line     plumbing.Line
}

// extractAnnotated performs the single-pass extraction walk spec.md §4.1
// "Extract algorithm" describes: maintain an insertion stack and an
// open-deletion set, and emit a line iff the top-of-stack's version is in
// included and no open deletion is.
//
// Grounded on weave.py's _extract: a deletion tag is only ever inserted
// into the open-deletion set when that tag is itself in included, which
// makes "no open deletion's tag is in included" equivalent to the set
// being empty — no per-line intersection needed.
func (w *Weave) extractAnnotated(included map[int]bool) []annotatedLine {
	var istack []int
	dset := make(map[int]bool)
	result := make([]annotatedLine, 0, len(w.body))

	for pos, e := range w.body {
		switch e.kind {
		case entryInsertStart:
			istack = append(istack, e.vers)
		case entryInsertEnd:
			istack = istack[:len(istack)-1]
		case entryDeleteStart:
			if included[e.vers] {
				dset[e.vers] = true
			}
		case entryDeleteEnd:
			if included[e.vers] {
				delete(dset, e.vers)
			}
		default: // entryLine
			if len(dset) == 0 && len(istack) > 0 && included[istack[len(istack)-1]] {
				result = append(result, annotatedLine{
					origin:   istack[len(istack)-1],
					position: pos,
					line:     e.line,
				})
			}
		}
	}
	return result
}

// GetLines reconstructs rev's line sequence and verifies its SHA-1
// (spec.md §4.1 "get_lines"). On mismatch it fails with
// KindChecksumMismatch without corrupting the store.
func (w *Weave) GetLines(rev plumbing.RevID) (plumbing.Lines, error) {
	const op = "weave.GetLines"
	idx, err := w.lookup(op, rev)
	if err != nil {
		return nil, err
	}

	lines, err := w.extractVersion(op, idx)
	if err != nil {
		return nil, err
	}

	measured := sha1cd.SumLines(toByteSlices(lines))
	if measured != w.sha1[idx] {
		return nil, plumbing.NewError(plumbing.KindChecksumMismatch, op, nil).
			WithFile(w.fileID).WithRev(rev).
			WithDetail("expected " + w.sha1[idx] + ", measured " + measured)
	}
	return lines, nil
}

func (w *Weave) extractVersion(op string, idx int) (plumbing.Lines, error) {
	included := w.Ancestors(idx)
	annotated := w.extractAnnotated(included)
	lines := make(plumbing.Lines, len(annotated))
	for i, al := range annotated {
		lines[i] = al.line
	}
	return lines, nil
}

// AnnotatedLine is one line of an annotate() result: the rev-id that
// introduced it, and its text.
type AnnotatedLine struct {
	Origin plumbing.RevID
	Line   plumbing.Line
}

// Annotate extracts rev with per-line origin (spec.md §4.1 "annotate").
func (w *Weave) Annotate(rev plumbing.RevID) ([]AnnotatedLine, error) {
	const op = "weave.Annotate"
	idx, err := w.lookup(op, rev)
	if err != nil {
		return nil, err
	}
	included := w.Ancestors(idx)
	annotated := w.extractAnnotated(included)
	out := make([]AnnotatedLine, len(annotated))
	for i, al := range annotated {
		out[i] = AnnotatedLine{Origin: w.names[al.origin], Line: al.line}
	}
	return out, nil
}
