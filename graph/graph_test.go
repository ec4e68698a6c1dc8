package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spindlevcs/spindle/plumbing"
)

// linearGraph builds root -> v1 -> v2 -> ... -> vN, each with a single
// parent, so FirstParentWalk and Ancestors have an unambiguous answer.
func linearGraph(n int) *Graph {
	g := New()
	var prev plumbing.RevID
	for i := 0; i <= n; i++ {
		rev := plumbing.RevID("v" + string(rune('0'+i)))
		var parents []plumbing.RevID
		if i > 0 {
			parents = []plumbing.RevID{prev}
		}
		g.AddRevision(rev, parents)
		prev = rev
	}
	return g
}

func TestFirstParentWalkFollowsMainlineOnly(t *testing.T) {
	g := New()
	g.AddRevision("v1", nil)
	g.AddRevision("v2", []plumbing.RevID{"v1"})
	g.AddRevision("v3", []plumbing.RevID{"v2", "side1"})
	g.AddRevision("side1", []plumbing.RevID{"v1"})

	require.Equal(t, []plumbing.RevID{"v3", "v2", "v1"}, g.FirstParentWalk("v3"))
}

func TestFirstParentWalkStopsAtGhost(t *testing.T) {
	g := New()
	g.AddRevision("v1", []plumbing.RevID{"ghost"})
	require.Equal(t, []plumbing.RevID{"v1"}, g.FirstParentWalk("v1"))
}

func TestAncestorsIncludesSelfAndExcludesGhosts(t *testing.T) {
	g := New()
	g.AddRevision("v1", []plumbing.RevID{"ghost"})
	g.AddRevision("v2", []plumbing.RevID{"v1"})

	anc := g.Ancestors("v2")
	require.True(t, anc["v2"])
	require.True(t, anc["v1"])
	require.False(t, anc["ghost"])
	require.Len(t, anc, 2)
}

func TestGetAncestryTopoSortedOrdersParentsBeforeChildren(t *testing.T) {
	g := New()
	g.AddRevision("v1", nil)
	g.AddRevision("v2", []plumbing.RevID{"v1"})
	g.AddRevision("v3", []plumbing.RevID{"v1"})
	g.AddRevision("v4", []plumbing.RevID{"v2", "v3"})

	order, err := g.GetAncestry("v4", true)
	require.NoError(t, err)
	require.Len(t, order, 4)

	pos := make(map[plumbing.RevID]int, len(order))
	for i, r := range order {
		pos[r] = i
	}
	require.Less(t, pos["v1"], pos["v2"])
	require.Less(t, pos["v1"], pos["v3"])
	require.Less(t, pos["v2"], pos["v4"])
	require.Less(t, pos["v3"], pos["v4"])
}

func TestGetAncestryUnknownRevision(t *testing.T) {
	g := New()
	_, err := g.GetAncestry("missing", false)
	require.Error(t, err)
	perr, ok := err.(*plumbing.Error)
	require.True(t, ok)
	require.Equal(t, plumbing.KindNotFound, perr.Kind)
}

func TestGetAncestryDetectsCycle(t *testing.T) {
	g := New()
	g.AddRevision("v1", []plumbing.RevID{"v2"})
	g.AddRevision("v2", []plumbing.RevID{"v1"})

	_, err := g.GetAncestry("v1", true)
	require.Error(t, err)
	perr, ok := err.(*plumbing.Error)
	require.True(t, ok)
	require.Equal(t, plumbing.KindInconsistentGraph, perr.Kind)
}

func TestFindUnmergedDisjointMainlines(t *testing.T) {
	g := New()
	g.AddRevision("base", nil)
	g.AddRevision("l1", []plumbing.RevID{"base"})
	g.AddRevision("l2", []plumbing.RevID{"l1"})
	g.AddRevision("r1", []plumbing.RevID{"base"})

	localExtra, remoteExtra, err := g.FindUnmerged("l2", "r1", FindUnmergedOptions{})
	require.NoError(t, err)

	var localRevs, remoteRevs []plumbing.RevID
	for _, u := range localExtra {
		localRevs = append(localRevs, u.Rev)
	}
	for _, u := range remoteExtra {
		remoteRevs = append(remoteRevs, u.Rev)
	}
	require.ElementsMatch(t, []plumbing.RevID{"l1", "l2"}, localRevs)
	require.ElementsMatch(t, []plumbing.RevID{"r1"}, remoteRevs)
}

func TestFindUnmergedRemoteIsAncestorOfLocal(t *testing.T) {
	g := linearGraph(3) // v0 -> v1 -> v2 -> v3

	localExtra, remoteExtra, err := g.FindUnmerged("v3", "v1", FindUnmergedOptions{})
	require.NoError(t, err)
	require.Empty(t, remoteExtra)

	var localRevs []plumbing.RevID
	for _, u := range localExtra {
		localRevs = append(localRevs, u.Rev)
	}
	require.ElementsMatch(t, []plumbing.RevID{"v2", "v3"}, localRevs)
}

func TestFindUnmergedInjectsMergedRevisionsWithDottedNumber(t *testing.T) {
	g := New()
	g.AddRevision("base", nil)
	g.AddRevision("l1", []plumbing.RevID{"base"})
	g.AddRevision("side", []plumbing.RevID{"base"})
	g.AddRevision("l2", []plumbing.RevID{"l1", "side"}) // merges side into local mainline
	g.AddRevision("r1", []plumbing.RevID{"base"})

	localExtra, _, err := g.FindUnmerged("l2", "r1", FindUnmergedOptions{IncludeMerges: true})
	require.NoError(t, err)

	var sideEntry *UnmergedRevision
	for i := range localExtra {
		if localExtra[i].Rev == "side" {
			sideEntry = &localExtra[i]
		}
	}
	require.NotNil(t, sideEntry)
	require.False(t, sideEntry.IsMainline)
	require.Contains(t, sideEntry.Number, ".1.")
}

// unmergedFixture builds two mainlines of three commits each branching off
// a shared base, so each side has distinct mainline revision numbers 2-4
// to exercise Backward/LocalRange/RemoteRange against.
func unmergedFixture() *Graph {
	g := New()
	g.AddRevision("base", nil)
	g.AddRevision("l1", []plumbing.RevID{"base"})
	g.AddRevision("l2", []plumbing.RevID{"l1"})
	g.AddRevision("l3", []plumbing.RevID{"l2"})
	g.AddRevision("r1", []plumbing.RevID{"base"})
	g.AddRevision("r2", []plumbing.RevID{"r1"})
	g.AddRevision("r3", []plumbing.RevID{"r2"})
	return g
}

func numbersOf(revs []UnmergedRevision) []string {
	out := make([]string, len(revs))
	for i, r := range revs {
		out[i] = r.Number
	}
	return out
}

func TestFindUnmergedBackwardOrdersDescending(t *testing.T) {
	g := unmergedFixture()

	localExtra, _, err := g.FindUnmerged("l3", "r3", FindUnmergedOptions{Backward: true})
	require.NoError(t, err)
	require.Equal(t, []string{"4", "3", "2"}, numbersOf(localExtra))

	var revs []plumbing.RevID
	for _, u := range localExtra {
		revs = append(revs, u.Rev)
	}
	require.Equal(t, []plumbing.RevID{"l3", "l2", "l1"}, revs)
}

func TestFindUnmergedLocalRangeFiltersByMainlineRevisionNumber(t *testing.T) {
	g := unmergedFixture()

	localExtra, _, err := g.FindUnmerged("l3", "r3", FindUnmergedOptions{
		LocalRange: &[2]int{2, 3},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"2", "3"}, numbersOf(localExtra))

	var revs []plumbing.RevID
	for _, u := range localExtra {
		revs = append(revs, u.Rev)
	}
	require.ElementsMatch(t, []plumbing.RevID{"l1", "l2"}, revs)
}

func TestFindUnmergedRemoteRangeFiltersByMainlineRevisionNumber(t *testing.T) {
	g := unmergedFixture()

	_, remoteExtra, err := g.FindUnmerged("l3", "r3", FindUnmergedOptions{
		RemoteRange: &[2]int{3, 4},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"3", "4"}, numbersOf(remoteExtra))

	var revs []plumbing.RevID
	for _, u := range remoteExtra {
		revs = append(revs, u.Rev)
	}
	require.ElementsMatch(t, []plumbing.RevID{"r2", "r3"}, revs)
}

func TestGuessRenamesMatchesByLinePairOverlap(t *testing.T) {
	missing := []MissingFile{
		{FileID: "fileA", Path: "old/a.txt", Lines: lines("one", "two", "three")},
		{FileID: "fileB", Path: "old/b.txt", Lines: lines("alpha", "beta", "gamma")},
	}
	candidates := []CandidateFile{
		{Path: "new/a.txt", Lines: lines("one", "two", "three")},
		{Path: "new/b.txt", Lines: lines("alpha", "beta", "gamma")},
	}

	plan := GuessRenames(missing, candidates, nil, nil)
	require.Len(t, plan.Files, 2)

	byFile := make(map[plumbing.FileID]string)
	for _, m := range plan.Files {
		byFile[m.FileID] = m.Path
	}
	require.Equal(t, "new/a.txt", byFile["fileA"])
	require.Equal(t, "new/b.txt", byFile["fileB"])
}

func TestGuessRenamesNeverDoubleAssignsCandidateOrFile(t *testing.T) {
	missing := []MissingFile{
		{FileID: "fileA", Path: "old/a.txt", Lines: lines("common", "pair")},
	}
	candidates := []CandidateFile{
		{Path: "new/a1.txt", Lines: lines("common", "pair")},
		{Path: "new/a2.txt", Lines: lines("common", "pair")},
	}

	plan := GuessRenames(missing, candidates, nil, nil)
	require.Len(t, plan.Files, 1)
}

func lines(strs ...string) plumbing.Lines {
	out := make(plumbing.Lines, len(strs))
	for i, s := range strs {
		out[i] = plumbing.Line(s + "\n")
	}
	return out
}
