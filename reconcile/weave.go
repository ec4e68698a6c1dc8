package reconcile

import (
	"bytes"

	"github.com/spindlevcs/spindle/graph"
	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/transport"
	"github.com/spindlevcs/spindle/weave"
	"github.com/spindlevcs/spindle/weave/format"
)

// Weave rebuilds an inventory weave from scratch against an authoritative
// revision graph (spec.md §4.3 "Weave format ... rebuild the inventory
// weave from scratch: construct the true graph from revision records,
// then add_version each inventory in topological order into a fresh
// weave"). A version present in the weave but whose revision is not
// installed is garbage and is dropped in thorough mode; left as-is
// otherwise. A version whose weave-recorded parents disagree with
// authoritative is counted as inconsistent_parents and rewritten with
// the authoritative parent list.
func Weave(tr transport.Transport, path string, rs RevisionStore, thorough bool) (Report, error) {
	const op = "reconcile.Weave"

	if ok, reason := checkGraph(rs); !ok {
		return Report{Aborted: true, AbortReason: reason}, nil
	}

	r, err := tr.Get(path)
	if err != nil {
		return Report{}, plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(path)
	}
	var raw bytes.Buffer
	if _, err := raw.ReadFrom(r); err != nil {
		r.Close()
		return Report{}, plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(path)
	}
	r.Close()

	old, fileID, err := format.Decode(bytes.NewReader(raw.Bytes()))
	if err != nil {
		return Report{}, err
	}

	g := graph.New()
	installed := make(map[plumbing.RevID]bool)
	for _, rev := range rs.InstalledRevisions() {
		g.AddRevision(rev, rs.DeclaredParents(rev))
		installed[rev] = true
	}

	var report Report
	keep := make(map[plumbing.RevID]bool)
	for _, rev := range old.Versions() {
		if installed[rev] {
			keep[rev] = true
			continue
		}
		report.GarbageInventories++
	}

	if !thorough {
		// Non-thorough check reports the defects without rewriting
		// anything (spec.md §4.3 "check" is read-only).
		for _, rev := range old.Versions() {
			if !keep[rev] {
				continue
			}
			if parentsInconsistent(old.ParentNames(mustIndex(old, rev)), rs.DeclaredParents(rev), false) {
				report.InconsistentParents++
			}
		}
		return report, nil
	}

	out := weave.New(fileID)
	var seeds []plumbing.RevID
	for rev := range keep {
		seeds = append(seeds, rev)
	}
	order, err := topoOrderInstalled(g, seeds)
	if err != nil {
		return Report{}, err
	}

	for _, rev := range order {
		if !keep[rev] {
			continue
		}
		want := rs.DeclaredParents(rev)
		if parentsInconsistent(old.ParentNames(mustIndex(old, rev)), want, true) {
			report.InconsistentParents++
		}
		lines, err := old.GetLines(rev)
		if err != nil {
			return Report{}, err
		}
		if _, err := out.AddVersion(rev, want, lines); err != nil {
			return Report{}, err
		}
	}

	var buf bytes.Buffer
	if err := format.Encode(&buf, out); err != nil {
		return Report{}, plumbing.NewError(plumbing.KindTransport, op, err)
	}

	if err := tr.PutFile(path+".backup", bytes.NewReader(raw.Bytes()), 0o644); err != nil {
		return Report{}, plumbing.NewError(plumbing.KindTransport, op, err).WithDetail("writing backup")
	}
	if err := tr.PutFile(path, &buf, 0o644); err != nil {
		return Report{}, plumbing.NewError(plumbing.KindTransport, op, err).WithDetail("publishing rebuilt weave")
	}

	return report, nil
}

// parentsInconsistent compares a weave version's recorded parents against
// authoritative. A differing parent set is always inconsistent; with the
// same set, a differing first (mainline) parent only counts in thorough
// mode, and a reordering of the later parents never counts
// (bzrlib reconcile.py's _parents_are_inconsistent draws the same line).
func parentsInconsistent(got, want []plumbing.RevID, thorough bool) bool {
	if !plumbing.RevIDs(got).SameSet(want) {
		return true
	}
	if thorough && len(got) > 0 && len(want) > 0 && got[0] != want[0] {
		return true
	}
	return false
}

// mustIndex returns rev's internal index in w, or -1 if w has no such
// version; since package weave exposes no by-rev ParentNames, it looks the
// version up by scanning its own Versions() — acceptable here since
// Reconcile runs far off the hot path.
func mustIndex(w *weave.Weave, rev plumbing.RevID) int {
	for i, name := range w.Versions() {
		if name == rev {
			return i
		}
	}
	return -1
}

// topoOrderInstalled orders seeds (and their ancestry within g) so that
// every parent precedes its children, matching AddVersion's requirement
// that parents already be present in the weave being rebuilt.
func topoOrderInstalled(g *graph.Graph, seeds []plumbing.RevID) ([]plumbing.RevID, error) {
	included := make(map[plumbing.RevID]bool)
	for _, s := range seeds {
		for rev := range g.Ancestors(s) {
			included[rev] = true
		}
	}
	if len(included) == 0 {
		return nil, nil
	}
	return kahnOrder(g, included)
}

func kahnOrder(g *graph.Graph, subset map[plumbing.RevID]bool) ([]plumbing.RevID, error) {
	const op = "reconcile.Weave"

	indegree := make(map[plumbing.RevID]int, len(subset))
	children := make(map[plumbing.RevID][]plumbing.RevID)
	for r := range subset {
		indegree[r] = 0
	}
	for r := range subset {
		for _, p := range g.Parents(r) {
			if subset[p] {
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

	var order []plumbing.RevID
	for len(ready) > 0 {
		r := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		order = append(order, r)
		for _, c := range children[r] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}

	if len(order) != len(subset) {
		return nil, plumbing.NewError(plumbing.KindInconsistentGraph, op, nil).
			WithDetail("cycle detected while rebuilding inventory weave")
	}
	return order, nil
}
