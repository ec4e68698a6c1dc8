package weave

import (
	"github.com/spindlevcs/spindle/internal/linediff"
	"github.com/spindlevcs/spindle/internal/sha1cd"
	"github.com/spindlevcs/spindle/internal/trace"
	"github.com/spindlevcs/spindle/plumbing"
)

// AddVersion appends a new version to the weave (spec.md §4.1
// "add_version"). parents must already be present (or recorded as
// ghosts — see below); rev must be unused. Returns the new version's
// internal index.
//
// Idempotence: if a version with rev's name already exists with an
// identical SHA-1 and the same parent set, the call is a no-op returning
// the existing index. If the SHA-1 matches but parents differ, it fails
// with KindAlreadyPresent (spec.md: "RevisionAlreadyPresent").
//
// Ghost parents: a parent rev-id with no corresponding version in this
// weave is recorded by name only, contributing nothing to ancestry
// (spec.md end-to-end scenario 6).
func (w *Weave) AddVersion(rev plumbing.RevID, parents []plumbing.RevID, lines plumbing.Lines) (int, error) {
	const op = "weave.AddVersion"
	sum := sha1cd.SumLines(toByteSlices(lines))

	if existing, ok := w.nameIndex[rev]; ok {
		return w.checkRepeatedAdd(op, existing, parents, sum)
	}

	refs := w.resolveParentRefs(parents)
	newIdx := len(w.names)

	w.parents = append(w.parents, refs)
	w.sha1 = append(w.sha1, sum)
	w.names = append(w.names, rev)
	w.nameIndex[rev] = newIdx

	resolved := make([]int, 0, len(refs))
	for _, r := range refs {
		if r.idx >= 0 {
			resolved = append(resolved, r.idx)
		}
	}

	// Fast path 1: no resolved parents. Append an unconditional
	// insertion of all lines (spec.md §4.1 "Fast paths").
	if len(resolved) == 0 {
		if len(lines) > 0 {
			w.body = append(w.body, entry{kind: entryInsertStart, vers: newIdx})
			w.body = append(w.body, linesToEntries(lines)...)
			w.body = append(w.body, entry{kind: entryInsertEnd})
		}
		trace.Weave.Printf("add %s: fast path (no parents), %d lines", rev, len(lines))
		return newIdx, nil
	}

	// Fast path 2: single resolved parent with identical content.
	if len(resolved) == 1 && w.sha1[resolved[0]] == sum {
		trace.Weave.Printf("add %s: fast path (identical to parent)", rev)
		return newIdx, nil
	}

	inc := w.inclusions(resolved)

	basisLineno := make([]int, 0, len(w.body))
	basisLines := make(plumbing.Lines, 0, len(w.body))
	for _, al := range w.extractAnnotated(inc) {
		basisLineno = append(basisLineno, al.position)
		basisLines = append(basisLines, al.line)
	}

	// Fast path 3: the merge result equals the basis text already
	// present (original's "auto-merge" shortcut).
	if basisLines.Equal(lines) {
		trace.Weave.Printf("add %s: fast path (matches basis)", rev)
		return newIdx, nil
	}

	// Sentinel: one-past-the-end position, so an opcode addressing
	// "through end of basis" maps to a valid weave position without a
	// special EOF case (see SPEC_FULL.md "basis sentinel").
	basisLineno = append(basisLineno, len(w.body))

	ops := linediff.LineOpcodes(toByteSlices(basisLines), toByteSlices(lines))

	offset := 0
	for _, op := range ops {
		if op.Tag == "equal" {
			continue
		}

		i1 := basisLineno[op.I1]
		i2 := basisLineno[op.I2]

		if i1 != i2 {
			w.insertAt(i1+offset, entry{kind: entryDeleteStart, vers: newIdx})
			w.insertAt(i2+offset+1, entry{kind: entryDeleteEnd, vers: newIdx})
			offset += 2
		}

		if op.J1 != op.J2 {
			at := i2 + offset
			block := make([]entry, 0, op.J2-op.J1+2)
			block = append(block, entry{kind: entryInsertStart, vers: newIdx})
			block = append(block, linesToEntries(lines[op.J1:op.J2])...)
			block = append(block, entry{kind: entryInsertEnd})
			w.insertBlockAt(at, block)
			offset += 2 + (op.J2 - op.J1)
		}
	}

	trace.Weave.Printf("add %s: %d opcodes applied", rev, len(ops))
	return newIdx, nil
}

// checkRepeatedAdd implements the idempotent re-add rule: identical
// content+parents is a no-op; identical content with different parents
// fails; different content under a reused name is also a failure (the
// store never silently overwrites a version's text).
func (w *Weave) checkRepeatedAdd(op string, existing int, parents []plumbing.RevID, sum string) (int, error) {
	if w.sha1[existing] != sum {
		return 0, plumbing.NewError(plumbing.KindAlreadyPresent, op, nil).
			WithFile(w.fileID).WithRev(w.names[existing]).
			WithDetail("revision name reused with different content")
	}
	if !plumbing.RevIDs(w.ParentNames(existing)).SameSet(parents) {
		return 0, plumbing.NewError(plumbing.KindAlreadyPresent, op, nil).
			WithFile(w.fileID).WithRev(w.names[existing]).
			WithDetail("RevisionAlreadyPresent: same content, different parents")
	}
	return existing, nil
}

// resolveParentRefs resolves each parent rev-id to an internal index, or
// records it as a ghost if absent.
func (w *Weave) resolveParentRefs(parents []plumbing.RevID) []parentRef {
	refs := make([]parentRef, len(parents))
	for i, p := range parents {
		if idx, ok := w.nameIndex[p]; ok {
			refs[i] = parentRef{idx: idx, name: p}
		} else {
			refs[i] = parentRef{idx: -1, name: p}
		}
	}
	return refs
}

func linesToEntries(lines plumbing.Lines) []entry {
	out := make([]entry, len(lines))
	for i, l := range lines {
		out[i] = entry{kind: entryLine, line: append(plumbing.Line(nil), l...), eol: hasEOL(l)}
	}
	return out
}

func hasEOL(l plumbing.Line) bool {
	return len(l) > 0 && l[len(l)-1] == '\n'
}

func toByteSlices(lines plumbing.Lines) [][]byte {
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return out
}

// insertAt splices a single entry into the body at position idx.
func (w *Weave) insertAt(idx int, e entry) {
	w.body = append(w.body, entry{})
	copy(w.body[idx+1:], w.body[idx:])
	w.body[idx] = e
}

// insertBlockAt splices a contiguous block of entries into the body
// starting at position idx.
func (w *Weave) insertBlockAt(idx int, block []entry) {
	n := len(block)
	w.body = append(w.body, make([]entry, n)...)
	copy(w.body[idx+n:], w.body[idx:len(w.body)-n])
	copy(w.body[idx:idx+n], block)
}
