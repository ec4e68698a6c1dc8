package weave

import (
	"sort"

	"github.com/spindlevcs/spindle/plumbing"
)

// Reweave combines two weaves that agree on shared versions' content but
// may disagree on parent sets, producing a fresh weave with the union of
// versions and a combined parent graph (spec.md §4.1 "Reweave").
//
// Grounded on weave.py's module-level _reweave/_reweave_parent_graphs:
// union each shared version's parent sets across both inputs, topo-sort
// the combined graph, then re-add every version in that order using
// whichever input weave has its text (preferring a, since both must
// agree when both have it).
func Reweave(a, b *Weave) (*Weave, error) {
	const op = "weave.Reweave"

	combined := combinedParents(a, b)
	order, err := topoSort(combined)
	if err != nil {
		return nil, plumbing.NewError(plumbing.KindInconsistentGraph, op, err)
	}

	out := New(a.fileID)
	for _, name := range order {
		var lines plumbing.Lines
		inA := a.Has(name)
		inB := b.Has(name)

		switch {
		case inA && inB:
			la, err := a.GetLines(name)
			if err != nil {
				return nil, err
			}
			lb, err := b.GetLines(name)
			if err != nil {
				return nil, err
			}
			if !la.Equal(lb) {
				return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
					WithRev(name).WithDetail("WeaveTextDiffers: weaves disagree on content for shared version")
			}
			lines = la
		case inA:
			lines, err = a.GetLines(name)
			if err != nil {
				return nil, err
			}
		case inB:
			lines, err = b.GetLines(name)
			if err != nil {
				return nil, err
			}
		default:
			// Unreachable: name came from the union of a's and b's
			// version sets.
			continue
		}

		parents := make([]plumbing.RevID, 0, len(combined[name]))
		for p := range combined[name] {
			parents = append(parents, p)
		}
		sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

		if _, err := out.AddVersion(name, parents, lines); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// combinedParents returns, for every version name present in either
// weave, the union of its parent names across both.
func combinedParents(a, b *Weave) map[plumbing.RevID]map[plumbing.RevID]bool {
	combined := make(map[plumbing.RevID]map[plumbing.RevID]bool)
	for _, w := range []*Weave{a, b} {
		for idx, name := range w.names {
			set, ok := combined[name]
			if !ok {
				set = make(map[plumbing.RevID]bool)
				combined[name] = set
			}
			for _, p := range w.ParentNames(idx) {
				set[p] = true
			}
		}
	}
	return combined
}

// topoSort performs a Kahn-style topological sort over the combined
// parent graph. Ties are broken by name to keep reweave deterministic,
// which in turn is what makes Reweave associative (spec.md §8 "Reweave
// associativity").
func topoSort(graph map[plumbing.RevID]map[plumbing.RevID]bool) ([]plumbing.RevID, error) {
	indegree := make(map[plumbing.RevID]int, len(graph))
	children := make(map[plumbing.RevID][]plumbing.RevID)

	for name := range graph {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
	}
	for name, parents := range graph {
		for p := range parents {
			if _, ok := graph[p]; ok {
				indegree[name]++
				children[p] = append(children[p], name)
			}
			// A parent absent from the combined graph is a ghost:
			// it contributes no ordering constraint.
		}
	}

	var ready []plumbing.RevID
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	var order []plumbing.RevID
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		for _, child := range children[name] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(order) != len(graph) {
		return nil, plumbing.NewError(plumbing.KindInconsistentGraph, "weave.topoSort", nil).
			WithDetail("cycle detected in combined parent graph")
	}
	return order, nil
}
