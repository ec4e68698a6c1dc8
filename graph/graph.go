// Package graph answers ancestry and difference queries over the
// repository-wide revision graph (spec.md §3 "Revision graph", §4.4
// "Graph operations").
package graph

import (
	"github.com/emirpasic/gods/trees/binaryheap"
	"github.com/spindlevcs/spindle/plumbing"
)

// Graph is a repository-wide `rev-id → list<rev-id>` parent map
// (spec.md §3). Parent order is significant: index 0 is the left-hand
// mainline parent. A parent with no entry of its own is a ghost.
type Graph struct {
	parents map[plumbing.RevID][]plumbing.RevID
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{parents: make(map[plumbing.RevID][]plumbing.RevID)}
}

// AddRevision records rev's parent list. Parent order is preserved
// verbatim, matching spec.md's "parent lists preserve insertion order
// across all operations".
func (g *Graph) AddRevision(rev plumbing.RevID, parents []plumbing.RevID) {
	g.parents[rev] = append([]plumbing.RevID(nil), parents...)
}

// Has reports whether rev has a recorded parent list (i.e. is not a
// ghost).
func (g *Graph) Has(rev plumbing.RevID) bool {
	_, ok := g.parents[rev]
	return ok
}

// Parents returns rev's recorded parents, or nil if rev is unknown.
func (g *Graph) Parents(rev plumbing.RevID) []plumbing.RevID {
	return g.parents[rev]
}

// FirstParentWalk returns the mainline chain from tip to the root:
// tip, first_parent(tip), first_parent(first_parent(tip)), ... (spec.md
// §3 "mainline of a branch is first_parent* chain from tip"). Walking
// stops at a ghost or a revision with no parents.
func (g *Graph) FirstParentWalk(tip plumbing.RevID) []plumbing.RevID {
	var mainline []plumbing.RevID
	cur := tip
	seen := make(map[plumbing.RevID]bool)
	for g.Has(cur) && !seen[cur] {
		mainline = append(mainline, cur)
		seen[cur] = true
		parents := g.parents[cur]
		if len(parents) == 0 {
			break
		}
		cur = parents[0]
	}
	return mainline
}

// Ancestors returns the set of rev-ids that are rev or an ancestor of
// rev, including rev itself. Ghosts referenced as parents but absent
// from the graph do not appear (they have no ancestors of their own).
func (g *Graph) Ancestors(rev plumbing.RevID) map[plumbing.RevID]bool {
	included := make(map[plumbing.RevID]bool)
	var stack []plumbing.RevID
	if g.Has(rev) {
		stack = append(stack, rev)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if included[cur] {
			continue
		}
		included[cur] = true
		for _, p := range g.parents[cur] {
			if g.Has(p) && !included[p] {
				stack = append(stack, p)
			}
		}
	}
	return included
}

// GetAncestry returns every ancestor of rev, including rev itself
// (spec.md §4.4 "get_ancestry"). When topoSorted is false, the order is
// an arbitrary set iteration; when true, a Kahn-style topological sort
// (parents before children) is performed, with ties broken by rev-id for
// determinism.
func (g *Graph) GetAncestry(rev plumbing.RevID, topoSorted bool) ([]plumbing.RevID, error) {
	const op = "graph.GetAncestry"
	if !g.Has(rev) {
		return nil, plumbing.NewError(plumbing.KindNotFound, op, nil).WithRev(rev)
	}

	included := g.Ancestors(rev)
	if !topoSorted {
		out := make([]plumbing.RevID, 0, len(included))
		for r := range included {
			out = append(out, r)
		}
		return out, nil
	}

	return g.topoSort(included)
}

// topoSort performs a Kahn-style sort restricted to the given subset,
// using a binary heap keyed on rev-id so the emission order (among
// simultaneously-ready nodes) is deterministic rather than map-iteration
// order, the same concern weave.Reweave's topoSort addresses for a
// per-file parent graph.
func (g *Graph) topoSort(subset map[plumbing.RevID]bool) ([]plumbing.RevID, error) {
	const op = "graph.GetAncestry"

	indegree := make(map[plumbing.RevID]int, len(subset))
	children := make(map[plumbing.RevID][]plumbing.RevID)
	for r := range subset {
		indegree[r] = 0
	}
	for r := range subset {
		for _, p := range g.parents[r] {
			if subset[p] {
				indegree[r]++
				children[p] = append(children[p], r)
			}
		}
	}

	ready := binaryheap.NewWith(revIDComparator)
	for r, deg := range indegree {
		if deg == 0 {
			ready.Push(r)
		}
	}

	order := make([]plumbing.RevID, 0, len(subset))
	for ready.Size() > 0 {
		v, _ := ready.Pop()
		r := v.(plumbing.RevID)
		order = append(order, r)
		for _, c := range children[r] {
			indegree[c]--
			if indegree[c] == 0 {
				ready.Push(c)
			}
		}
	}

	if len(order) != len(subset) {
		return nil, plumbing.NewError(plumbing.KindInconsistentGraph, op, nil).
			WithDetail("cycle detected in revision graph subset")
	}
	return order, nil
}

func revIDComparator(a, b interface{}) int {
	ra, rb := a.(plumbing.RevID), b.(plumbing.RevID)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}
