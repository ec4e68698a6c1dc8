// Package weave implements the versioned-text container described in
// spec.md §3 "Weave data model" and §4.1 "Weave store": every revision of
// one file is interleaved into a single append-friendly sequence of text
// lines and control instructions, with per-line origin tracking.
package weave

import (
	"github.com/spindlevcs/spindle/plumbing"
)

// entryKind distinguishes a literal text line from the four control
// instructions spec.md §3 defines.
type entryKind uint8

const (
	entryLine entryKind = iota
	entryInsertStart
	entryInsertEnd
	entryDeleteStart
	entryDeleteEnd
)

// entry is one position in the weave body: either a text line or a
// control instruction tagged with the internal version index that
// authored it.
type entry struct {
	kind entryKind
	vers int // meaningful for all kinds except entryInsertEnd
	line plumbing.Line
	eol  bool // line ends with '\n'; irrelevant for control entries
}

// parentRef is one parent of a version: either a resolved internal index
// into this same weave, or a ghost — a rev-id with no corresponding
// version object (spec.md §3 "Revision graph", "A ghost is a rev-id
// referenced as a parent but for which no revision object exists").
type parentRef struct {
	idx  int // >= 0 if resolved, -1 if ghost
	name plumbing.RevID
}

// Weave is one file's complete versioned history (spec.md §3, entity
// "Weave"). The zero value is not valid; use New.
type Weave struct {
	fileID plumbing.FileID

	names     []plumbing.RevID
	nameIndex map[plumbing.RevID]int
	parents   [][]parentRef
	sha1      []string // hex SHA-1 of each version's reconstructed text

	body []entry
}

// New returns an empty Weave for the given file-id.
func New(fileID plumbing.FileID) *Weave {
	return &Weave{
		fileID:    fileID,
		nameIndex: make(map[plumbing.RevID]int),
	}
}

// FileID returns the weave's owning file-id.
func (w *Weave) FileID() plumbing.FileID { return w.fileID }

// NumVersions returns the count of versions recorded in the weave.
func (w *Weave) NumVersions() int { return len(w.names) }

// Versions returns the rev-ids of every version, in storage (topological)
// order. The returned slice must not be mutated.
func (w *Weave) Versions() []plumbing.RevID {
	out := make([]plumbing.RevID, len(w.names))
	copy(out, w.names)
	return out
}

// Has reports whether rev is a known (non-ghost) version in this weave.
func (w *Weave) Has(rev plumbing.RevID) bool {
	_, ok := w.nameIndex[rev]
	return ok
}

// lookup resolves a rev-id to its internal index, or returns NotFound.
func (w *Weave) lookup(op string, rev plumbing.RevID) (int, error) {
	idx, ok := w.nameIndex[rev]
	if !ok {
		return 0, plumbing.NewError(plumbing.KindNotFound, op, nil).WithFile(w.fileID).WithRev(rev)
	}
	return idx, nil
}

// ParentNames returns the parent rev-ids (ghost or resolved) of the
// version at internal index v, in original insertion order.
func (w *Weave) ParentNames(v int) []plumbing.RevID {
	refs := w.parents[v]
	out := make([]plumbing.RevID, len(refs))
	for i, r := range refs {
		out[i] = r.name
	}
	return out
}

// resolvedParents returns only the parents of v that resolved to a real
// internal index (ghosts excluded), matching the original's
// _parent_is_available / ancestor-closure semantics: ghosts contribute no
// ancestry.
func (w *Weave) resolvedParents(v int) []int {
	refs := w.parents[v]
	out := make([]int, 0, len(refs))
	for _, r := range refs {
		if r.idx >= 0 {
			out = append(out, r.idx)
		}
	}
	return out
}

// inclusions returns the set of internal indices that are one of seeds or
// an ancestor of one (ghosts do not appear, they have no internal index).
// Grounded on weave.py's `_inclusions`: walk version indices from the
// maximum down to 0, unioning in parents of anything already included —
// this relies on the invariant that every parent index is strictly less
// than its child's index (storage order is topological order).
func (w *Weave) inclusions(seeds []int) map[int]bool {
	included := make(map[int]bool, len(seeds))
	max := -1
	for _, s := range seeds {
		included[s] = true
		if s > max {
			max = s
		}
	}
	for v := max; v > 0; v-- {
		if included[v] {
			for _, p := range w.resolvedParents(v) {
				included[p] = true
			}
		}
	}
	return included
}

// Ancestors returns the set of internal indices in ancestors(v) ∪ {v}.
func (w *Weave) Ancestors(v int) map[int]bool {
	return w.inclusions([]int{v})
}

// GetAncestry returns all ancestor rev-ids of rev, including rev itself,
// per spec.md §8 "Ancestry closure". Ghosts are never included, matching
// end-to-end scenario 6.
func (w *Weave) GetAncestry(rev plumbing.RevID) ([]plumbing.RevID, error) {
	idx, err := w.lookup("weave.GetAncestry", rev)
	if err != nil {
		return nil, err
	}
	included := w.Ancestors(idx)
	out := make([]plumbing.RevID, 0, len(included))
	for v := range included {
		out = append(out, w.names[v])
	}
	return out, nil
}
