package reconcile

import (
	"github.com/spindlevcs/spindle/graph"
	"github.com/spindlevcs/spindle/knit"
	"github.com/spindlevcs/spindle/plumbing"
)

// Knit reconciles one file's knit against an authoritative parent map
// (spec.md §4.3 "Knit format ... rewrite records whose stored parent
// list disagrees with authoritative; promote a version to fulltext when
// its delta chain becomes unreconstructable; drop versions absent from
// authoritative"). check_file_version_parents (already built on Knit)
// locates the defects; in thorough mode the whole file is replayed
// version-by-version, in authoritative topological order, into a fresh
// index/data pair via Knit.Rebuild.
func Knit(k *knit.Knit, authoritative map[plumbing.RevID][]plumbing.RevID, thorough bool) (Report, *knit.Knit, error) {
	badParents, unused := k.CheckFileVersionParents(authoritative)

	var report Report
	report.InconsistentParents = len(badParents)
	report.GarbageInventories = len(unused)

	if !thorough || (len(badParents) == 0 && len(unused) == 0) {
		return report, k, nil
	}

	g := graph.New()
	for rev, parents := range authoritative {
		g.AddRevision(rev, parents)
	}

	var tips []plumbing.RevID
	for rev := range authoritative {
		tips = append(tips, rev)
	}

	order, err := topoOrderInstalled(g, tips)
	if err != nil {
		return Report{}, nil, err
	}

	fresh, err := k.Rebuild(order, authoritative)
	if err != nil {
		return Report{}, nil, err
	}
	return report, fresh, nil
}
