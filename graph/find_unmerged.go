package graph

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spindlevcs/spindle/plumbing"
)

// UnmergedRevision is one entry of a find_unmerged result: a mainline
// rev-id, or (when IncludeMerges is set) a merged-in non-mainline rev-id
// tagged with a dotted-decimal revision-number identifying its position
// (spec.md §4.4 "inject merged-in (non-mainline) revisions ... with a
// dotted-decimal revision-number tuple").
type UnmergedRevision struct {
	Rev        plumbing.RevID
	Number     string // e.g. "12" for mainline, "12.1.3" for a merge
	IsMainline bool
}

// FindUnmergedOptions configures FindUnmerged (spec.md §4.4
// "find_unmerged").
type FindUnmergedOptions struct {
	Restrict      []plumbing.RevID // if non-nil, only consider these revs
	IncludeMerges bool
	Backward      bool // sort descending (newest first) instead of ascending
	LocalRange    *[2]int
	RemoteRange   *[2]int
}

// FindUnmerged returns the revisions present in local's mainline but not
// in remote's ancestry, and vice versa (spec.md §4.4, steps 1-5).
func (g *Graph) FindUnmerged(local, remote plumbing.RevID, opts FindUnmergedOptions) (localExtra, remoteExtra []UnmergedRevision, err error) {
	localMainline := g.FirstParentWalk(local)
	remoteMainline := g.FirstParentWalk(remote)

	// Fast path: an empty mainline means that branch has nothing of its
	// own to report, and the other branch's entire mainline is "extra".
	if len(localMainline) == 0 {
		return nil, g.numberMainline(remoteMainline, len(remoteMainline), opts, opts.RemoteRange), nil
	}
	if len(remoteMainline) == 0 {
		return g.numberMainline(localMainline, len(localMainline), opts, opts.LocalRange), nil, nil
	}

	// Fast path: if one tip is in the other's mainline, only the suffix
	// before that point is "extra".
	if idx := indexOf(remoteMainline, local); idx >= 0 {
		return nil, g.numberMainline(remoteMainline, idx, opts, opts.RemoteRange), nil
	}
	if idx := indexOf(localMainline, remote); idx >= 0 {
		return g.numberMainline(localMainline, idx, opts, opts.LocalRange), nil, nil
	}

	localAnc := g.Ancestors(local)
	remoteAnc := g.Ancestors(remote)

	localOnly := symmetricDifferenceSide(localAnc, remoteAnc)
	remoteOnly := symmetricDifferenceSide(remoteAnc, localAnc)

	localMainlineSet := toSet(localMainline)
	remoteMainlineSet := toSet(remoteMainline)

	localExtra = g.buildResult(localMainline, localOnly, localMainlineSet, opts, opts.LocalRange)
	remoteExtra = g.buildResult(remoteMainline, remoteOnly, remoteMainlineSet, opts, opts.RemoteRange)

	return localExtra, remoteExtra, nil
}

func indexOf(mainline []plumbing.RevID, rev plumbing.RevID) int {
	for i, r := range mainline {
		if r == rev {
			return i
		}
	}
	return -1
}

func toSet(revs []plumbing.RevID) map[plumbing.RevID]bool {
	out := make(map[plumbing.RevID]bool, len(revs))
	for _, r := range revs {
		out[r] = true
	}
	return out
}

// symmetricDifferenceSide returns the elements of a not present in b.
func symmetricDifferenceSide(a, b map[plumbing.RevID]bool) map[plumbing.RevID]bool {
	out := make(map[plumbing.RevID]bool)
	for r := range a {
		if !b[r] {
			out[r] = true
		}
	}
	return out
}

// numberMainline assigns plain integer revision numbers (1-based from the
// root of the whole mainline) to the first n entries of a tip-first
// mainline, applying restrict, the given range, and ordering.
func (g *Graph) numberMainline(mainline []plumbing.RevID, n int, opts FindUnmergedOptions, rng *[2]int) []UnmergedRevision {
	restrict := toSet(opts.Restrict)
	out := make([]UnmergedRevision, 0, n)
	for i, rev := range mainline[:n] {
		if opts.Restrict != nil && !restrict[rev] {
			continue
		}
		out = append(out, UnmergedRevision{Rev: rev, Number: itoa(len(mainline) - i), IsMainline: true})
	}
	return orderAndRange(out, opts.Backward, rng)
}

// buildResult intersects extraSet with its own mainline (step 3), numbers,
// orders, and range-filters the result (step 4), then optionally injects
// merged-in revisions (step 5) — in that order, since a merge's dotted
// number is only meaningful relative to an already-ordered, already-ranged
// mainline.
func (g *Graph) buildResult(mainline []plumbing.RevID, extraSet, mainlineSet map[plumbing.RevID]bool, opts FindUnmergedOptions, rng *[2]int) []UnmergedRevision {
	restrict := toSet(opts.Restrict)

	var mainlineExtra []UnmergedRevision
	for i, rev := range mainline {
		if !extraSet[rev] {
			continue
		}
		if opts.Restrict != nil && !restrict[rev] {
			continue
		}
		mainlineExtra = append(mainlineExtra, UnmergedRevision{
			Rev: rev, Number: itoa(len(mainline) - i), IsMainline: true,
		})
	}

	mainlineExtra = orderAndRange(mainlineExtra, opts.Backward, rng)

	if opts.IncludeMerges {
		mainlineExtra = g.injectMerges(mainline, mainlineExtra, extraSet, mainlineSet)
	}

	return mainlineExtra
}

// injectMerges walks each mainline revision's non-first parents that fall
// in extraSet and are not themselves mainline, inserting them right after
// their merging mainline revision with a dotted-decimal number
// "<mainline-number>.1.<n>" (spec.md step 5).
func (g *Graph) injectMerges(mainline []plumbing.RevID, result []UnmergedRevision, extraSet, mainlineSet map[plumbing.RevID]bool) []UnmergedRevision {
	byMainlineNumber := make(map[string][]UnmergedRevision)
	order := make([]string, 0, len(result))

	for i, rev := range mainline {
		number := itoa(len(mainline) - i)
		parents := g.Parents(rev)
		if len(parents) < 2 {
			continue
		}

		var merged []UnmergedRevision
		n := 1
		for _, p := range parents[1:] {
			if !extraSet[p] || mainlineSet[p] {
				continue
			}
			merged = append(merged, UnmergedRevision{Rev: p, Number: number + ".1." + itoa(n)})
			n++
		}
		if len(merged) > 0 {
			if _, seen := byMainlineNumber[number]; !seen {
				order = append(order, number)
			}
			byMainlineNumber[number] = append(byMainlineNumber[number], merged...)
		}
	}

	out := make([]UnmergedRevision, 0, len(result))
	for _, r := range result {
		out = append(out, r)
		if extra, ok := byMainlineNumber[r.Number]; ok {
			out = append(out, extra...)
		}
	}
	return out
}

// orderAndRange sorts by mainline position using the dotted-decimal
// revision number's numeric components (so "9" sorts before "10", and a
// merge "12.1.3" sorts immediately after mainline "12"), then applies an
// inclusive range filter keyed on each entry's mainline revision number
// (the leading component of Number, e.g. "12.1.3" keys on 12) rather than
// its position in the output list, so a LocalRange/RemoteRange of (4, 4)
// means "mainline revision 4" regardless of how many merges precede it.
func orderAndRange(revs []UnmergedRevision, backward bool, rng *[2]int) []UnmergedRevision {
	sort.SliceStable(revs, func(i, j int) bool {
		less := lessRevisionNumber(revs[i].Number, revs[j].Number)
		if backward {
			return !less
		}
		return less
	})

	if rng == nil {
		return revs
	}
	lo, hi := rng[0], rng[1]
	var out []UnmergedRevision
	for _, r := range revs {
		n := splitRevisionNumber(r.Number)[0]
		if n >= lo && n <= hi {
			out = append(out, r)
		}
	}
	return out
}

func lessRevisionNumber(a, b string) bool {
	pa, pb := splitRevisionNumber(a), splitRevisionNumber(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return len(pa) < len(pb)
}

func splitRevisionNumber(s string) []int {
	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i], _ = strconv.Atoi(p)
	}
	return out
}

func itoa(n int) string { return strconv.Itoa(n) }
