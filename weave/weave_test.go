package weave

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spindlevcs/spindle/plumbing"
)

func lines(strs ...string) plumbing.Lines {
	out := make(plumbing.Lines, len(strs))
	for i, s := range strs {
		out[i] = plumbing.Line(s + "\n")
	}
	return out
}

func TestAddVersionRoundTrip(t *testing.T) {
	w := New(plumbing.FileID("f1"))

	_, err := w.AddVersion("v1", nil, lines("a", "b", "c"))
	require.NoError(t, err)

	_, err = w.AddVersion("v2", []plumbing.RevID{"v1"}, lines("a", "x", "c"))
	require.NoError(t, err)

	got, err := w.GetLines("v2")
	require.NoError(t, err)
	require.Equal(t, lines("a", "x", "c"), got)

	got, err = w.GetLines("v1")
	require.NoError(t, err)
	require.Equal(t, lines("a", "b", "c"), got)
}

func TestAddVersionIdempotentReAdd(t *testing.T) {
	w := New(plumbing.FileID("f1"))
	idx1, err := w.AddVersion("v1", nil, lines("a", "b"))
	require.NoError(t, err)

	idx2, err := w.AddVersion("v1", nil, lines("a", "b"))
	require.NoError(t, err)
	require.Equal(t, idx1, idx2)
	require.Equal(t, 1, w.NumVersions())
}

func TestAddVersionRejectsContentChangeUnderSameName(t *testing.T) {
	w := New(plumbing.FileID("f1"))
	_, err := w.AddVersion("v1", nil, lines("a", "b"))
	require.NoError(t, err)

	_, err = w.AddVersion("v1", nil, lines("a", "different"))
	require.Error(t, err)
	perr, ok := err.(*plumbing.Error)
	require.True(t, ok)
	require.Equal(t, plumbing.KindAlreadyPresent, perr.Kind)
}

func TestAddVersionRejectsParentChangeUnderSameContent(t *testing.T) {
	w := New(plumbing.FileID("f1"))
	_, err := w.AddVersion("v0", nil, lines("a"))
	require.NoError(t, err)
	_, err = w.AddVersion("v1", nil, lines("a", "b"))
	require.NoError(t, err)

	_, err = w.AddVersion("v1", []plumbing.RevID{"v0"}, lines("a", "b"))
	require.Error(t, err)
}

func TestGhostParentContributesNoAncestry(t *testing.T) {
	w := New(plumbing.FileID("f1"))
	_, err := w.AddVersion("v1", []plumbing.RevID{"ghost"}, lines("a"))
	require.NoError(t, err)

	require.False(t, w.Has("ghost"))

	anc, err := w.GetAncestry("v1")
	require.NoError(t, err)
	require.Equal(t, []plumbing.RevID{"v1"}, anc)
}

func TestAnnotateTracksOrigin(t *testing.T) {
	w := New(plumbing.FileID("f1"))
	_, err := w.AddVersion("v1", nil, lines("a", "b"))
	require.NoError(t, err)
	_, err = w.AddVersion("v2", []plumbing.RevID{"v1"}, lines("a", "b", "c"))
	require.NoError(t, err)

	al, err := w.Annotate("v2")
	require.NoError(t, err)
	require.Len(t, al, 3)
	require.Equal(t, plumbing.RevID("v1"), al[0].Origin)
	require.Equal(t, plumbing.RevID("v1"), al[1].Origin)
	require.Equal(t, plumbing.RevID("v2"), al[2].Origin)
}

func TestCheckDetectsChecksumMismatch(t *testing.T) {
	w := New(plumbing.FileID("f1"))
	_, err := w.AddVersion("v1", nil, lines("a", "b"))
	require.NoError(t, err)

	report, err := w.Check()
	require.NoError(t, err)
	require.True(t, report.OK())

	w.sha1[0] = "deadbeef"
	report, err = w.Check()
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Contains(t, report.ChecksumMismatches, plumbing.RevID("v1"))
}

func TestReweaveAssociativity(t *testing.T) {
	base := New(plumbing.FileID("f1"))
	_, err := base.AddVersion("v1", nil, lines("a"))
	require.NoError(t, err)

	a := New(plumbing.FileID("f1"))
	_, err = a.AddVersion("v1", nil, lines("a"))
	require.NoError(t, err)
	_, err = a.AddVersion("v2", []plumbing.RevID{"v1"}, lines("a", "b"))
	require.NoError(t, err)

	b := New(plumbing.FileID("f1"))
	_, err = b.AddVersion("v1", nil, lines("a"))
	require.NoError(t, err)
	_, err = b.AddVersion("v3", []plumbing.RevID{"v1"}, lines("a", "c"))
	require.NoError(t, err)

	c := New(plumbing.FileID("f1"))
	_, err = c.AddVersion("v1", nil, lines("a"))
	require.NoError(t, err)
	_, err = c.AddVersion("v4", []plumbing.RevID{"v1"}, lines("a", "d"))
	require.NoError(t, err)

	ab, err := Reweave(a, b)
	require.NoError(t, err)
	abThenC, err := Reweave(ab, c)
	require.NoError(t, err)

	bc, err := Reweave(b, c)
	require.NoError(t, err)
	aThenBC, err := Reweave(a, bc)
	require.NoError(t, err)

	require.ElementsMatch(t, abThenC.Versions(), aThenBC.Versions())
	for _, v := range abThenC.Versions() {
		l1, err := abThenC.GetLines(v)
		require.NoError(t, err)
		l2, err := aThenBC.GetLines(v)
		require.NoError(t, err)
		require.True(t, l1.Equal(l2), "version %s diverged", v)
	}
}
