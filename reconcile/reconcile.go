// Package reconcile detects and repairs the three classes of
// derived-data defect spec.md §4.3 describes — inconsistent parents,
// garbage inventories, and incorrect first-parent in delta chains —
// without ever losing committed content.
package reconcile

import (
	"github.com/spindlevcs/spindle/plumbing"
)

// Format selects which per-format algorithm Reconcile/Check run (spec.md
// §4.3 "Per-format algorithm").
type Format int

const (
	FormatWeave Format = iota
	FormatKnit
	FormatPack
)

// Report is the result of Reconcile or Check (spec.md §4.3 "reconcile",
// "check"): counts of each defect class, plus Aborted when the
// authoritative revision graph itself is inconsistent.
type Report struct {
	InconsistentParents int
	GarbageInventories  int
	BadFirstParent      int
	Aborted             bool
	AbortReason         string
}

// OK reports whether no defects were found (or repaired).
func (r Report) OK() bool {
	return !r.Aborted && r.InconsistentParents == 0 && r.GarbageInventories == 0 && r.BadFirstParent == 0
}

// RevisionStore is the minimal view of the authoritative revision graph
// the reconciler needs: every installed revision's declared parents.
// Implementations come from the repository's revision records, never
// from derived storage.
type RevisionStore interface {
	// InstalledRevisions returns every rev-id that has a real revision
	// record (as opposed to merely being referenced as a parent).
	InstalledRevisions() []plumbing.RevID
	// DeclaredParents returns rev's authoritative parent list.
	DeclaredParents(rev plumbing.RevID) []plumbing.RevID
}

// checkGraph verifies the authoritative graph is acyclic and that every
// declared parent which is itself claimed installed actually has a
// record — spec.md §4.3 "If any step detects an inconsistency in the
// authoritative revision graph ... set aborted = true, stop, report."
func checkGraph(rs RevisionStore) (ok bool, reason string) {
	installed := make(map[plumbing.RevID]bool)
	for _, r := range rs.InstalledRevisions() {
		installed[r] = true
	}

	// Cycle check via Kahn's algorithm restricted to installed revisions.
	indegree := make(map[plumbing.RevID]int, len(installed))
	children := make(map[plumbing.RevID][]plumbing.RevID)
	for r := range installed {
		indegree[r] = 0
	}
	for r := range installed {
		for _, p := range rs.DeclaredParents(r) {
			if installed[p] {
				indegree[r]++
				children[p] = append(children[p], r)
			}
		}
	}

	var ready []plumbing.RevID
	for r, d := range indegree {
		if d == 0 {
			ready = append(ready, r)
		}
	}
	visited := 0
	for len(ready) > 0 {
		r := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++
		for _, c := range children[r] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	if visited != len(installed) {
		return false, "cycle detected in authoritative revision graph"
	}
	return true, ""
}
