package weave

import "github.com/spindlevcs/spindle/plumbing"

// MergeState is one line's classification in a 3-way merge plan
// (spec.md §4.1 "plan_merge").
type MergeState string

const (
	StateUnchanged   MergeState = "unchanged"
	StateNewA        MergeState = "new-a"
	StateNewB        MergeState = "new-b"
	StateKilledA     MergeState = "killed-a"
	StateKilledB     MergeState = "killed-b"
	StateKilledBoth  MergeState = "killed-both"
	StateKilledBase  MergeState = "killed-base"
	StateGhostA      MergeState = "ghost-a"
	StateGhostB      MergeState = "ghost-b"
	StateIrrelevant  MergeState = "irrelevant"
)

// PlanEntry is one line of a merge plan.
type PlanEntry struct {
	State MergeState
	Line  plumbing.Line
}

// walkRecord is one line of the unfiltered weave walk: its insertion
// version and the full snapshot of open deletion versions at that point
// (spec.md calls this "active deletions"), used only by PlanMerge.
type walkRecord struct {
	insert  int
	deletes map[int]bool
}

// PlanMerge produces a per-line 3-way merge plan between versions a and
// b, classifying each weave line by whether its insertion version and
// active deletions intersect ancestors(a), ancestors(b), and their
// common ancestors ancestors(a) ∩ ancestors(b) (spec.md §4.1).
func (w *Weave) PlanMerge(a, b plumbing.RevID) ([]PlanEntry, error) {
	const op = "weave.PlanMerge"
	ia, err := w.lookup(op, a)
	if err != nil {
		return nil, err
	}
	ib, err := w.lookup(op, b)
	if err != nil {
		return nil, err
	}

	incA := w.Ancestors(ia)
	incB := w.Ancestors(ib)
	incC := intersect(incA, incB)

	records := w.walkAllWithLines()

	plan := make([]PlanEntry, 0, len(records)+1)
	for _, r := range records {
		switch {
		case anyIn(r.rec.deletes, incC):
			plan = append(plan, PlanEntry{State: StateKilledBase, Line: r.line})
		case incC[r.rec.insert]:
			killedA := anyIn(r.rec.deletes, incA)
			killedB := anyIn(r.rec.deletes, incB)
			switch {
			case killedA && killedB:
				plan = append(plan, PlanEntry{State: StateKilledBoth, Line: r.line})
			case killedA:
				plan = append(plan, PlanEntry{State: StateKilledA, Line: r.line})
			case killedB:
				plan = append(plan, PlanEntry{State: StateKilledB, Line: r.line})
			default:
				plan = append(plan, PlanEntry{State: StateUnchanged, Line: r.line})
			}
		case incA[r.rec.insert]:
			if anyIn(r.rec.deletes, incA) {
				plan = append(plan, PlanEntry{State: StateGhostA, Line: r.line})
			} else {
				plan = append(plan, PlanEntry{State: StateNewA, Line: r.line})
			}
		case incB[r.rec.insert]:
			if anyIn(r.rec.deletes, incB) {
				plan = append(plan, PlanEntry{State: StateGhostB, Line: r.line})
			} else {
				plan = append(plan, PlanEntry{State: StateNewB, Line: r.line})
			}
		default:
			plan = append(plan, PlanEntry{State: StateIrrelevant, Line: r.line})
		}
	}

	// Terminator, matching the original's `yield 'unchanged', ''`.
	plan = append(plan, PlanEntry{State: StateUnchanged, Line: plumbing.Line("")})
	return plan, nil
}

type lineWalkRecord struct {
	rec  walkRecord
	line plumbing.Line
}

// walkAllWithLines walks the whole body once and returns, for every
// literal line, its walkRecord together with the line text.
func (w *Weave) walkAllWithLines() []lineWalkRecord {
	var istack []int
	dset := make(map[int]bool)
	out := make([]lineWalkRecord, 0, len(w.body))

	for _, e := range w.body {
		switch e.kind {
		case entryInsertStart:
			istack = append(istack, e.vers)
		case entryInsertEnd:
			istack = istack[:len(istack)-1]
		case entryDeleteStart:
			dset[e.vers] = true
		case entryDeleteEnd:
			delete(dset, e.vers)
		default:
			snapshot := make(map[int]bool, len(dset))
			for k := range dset {
				snapshot[k] = true
			}
			out = append(out, lineWalkRecord{
				rec:  walkRecord{insert: istack[len(istack)-1], deletes: snapshot},
				line: e.line,
			})
		}
	}
	return out
}

func intersect(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool)
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for k := range small {
		if big[k] {
			out[k] = true
		}
	}
	return out
}

func anyIn(set map[int]bool, in map[int]bool) bool {
	for k := range set {
		if in[k] {
			return true
		}
	}
	return false
}
