package knit

import (
	"bytes"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/transport"
)

func newTestKnit(t *testing.T) *Knit {
	t.Helper()
	tr := transport.NewFS(memfs.New(), "memory://test")
	k, err := Open(tr, plumbing.FileID("f1"), "index", "data")
	require.NoError(t, err)
	return k
}

func lines(strs ...string) plumbing.Lines {
	out := make(plumbing.Lines, len(strs))
	for i, s := range strs {
		out[i] = plumbing.Line(s + "\n")
	}
	return out
}

// linesNoEOL is like lines but the final line carries no trailing newline,
// for exercising the no-eol round trip.
func linesNoEOL(strs ...string) plumbing.Lines {
	out := lines(strs...)
	last := out[len(out)-1]
	out[len(out)-1] = last[:len(last)-1]
	return out
}

func TestAddLinesGetLinesRoundTrip(t *testing.T) {
	k := newTestKnit(t)

	_, _, err := k.AddLines("v1", nil, lines("a", "b", "c"))
	require.NoError(t, err)

	_, _, err = k.AddLines("v2", []plumbing.RevID{"v1"}, lines("a", "x", "c"))
	require.NoError(t, err)

	got, err := k.GetLines("v2")
	require.NoError(t, err)
	require.Equal(t, lines("a", "x", "c"), got)

	got, err = k.GetLines("v1")
	require.NoError(t, err)
	require.Equal(t, lines("a", "b", "c"), got)
}

func TestAddLinesGetLinesRoundTripNoTrailingNewline(t *testing.T) {
	k := newTestKnit(t)

	_, _, err := k.AddLines("v1", nil, linesNoEOL("a", "b"))
	require.NoError(t, err)
	e, ok := k.idx.Lookup("v1")
	require.True(t, ok)
	require.True(t, e.Opts.NoEOL)

	got, err := k.GetLines("v1")
	require.NoError(t, err)
	require.Equal(t, linesNoEOL("a", "b"), got)

	// v2 is stored as a line-delta against v1, and its own final line also
	// lacks a trailing newline, exercising readDeltaBody's no-eol path.
	_, _, err = k.AddLines("v2", []plumbing.RevID{"v1"}, linesNoEOL("a", "x"))
	require.NoError(t, err)
	e, ok = k.idx.Lookup("v2")
	require.True(t, ok)
	require.True(t, e.Opts.LineDelta)
	require.True(t, e.Opts.NoEOL)

	got, err = k.GetLines("v2")
	require.NoError(t, err)
	require.Equal(t, linesNoEOL("a", "x"), got)

	// A later version that restores a trailing newline should come back
	// with one, proving the flag is per-version rather than sticky.
	_, _, err = k.AddLines("v3", []plumbing.RevID{"v2"}, lines("a", "x"))
	require.NoError(t, err)
	got, err = k.GetLines("v3")
	require.NoError(t, err)
	require.Equal(t, lines("a", "x"), got)
}

func TestAddLinesRejectsDuplicateRev(t *testing.T) {
	k := newTestKnit(t)
	_, _, err := k.AddLines("v1", nil, lines("a"))
	require.NoError(t, err)

	_, _, err = k.AddLines("v1", nil, lines("a"))
	require.Error(t, err)
	perr, ok := err.(*plumbing.Error)
	require.True(t, ok)
	require.Equal(t, plumbing.KindAlreadyPresent, perr.Kind)
}

func TestFirstVersionIsAlwaysFulltext(t *testing.T) {
	k := newTestKnit(t)
	_, _, err := k.AddLines("v1", nil, lines("a", "b"))
	require.NoError(t, err)

	e, ok := k.idx.Lookup("v1")
	require.True(t, ok)
	require.False(t, e.Opts.LineDelta)
}

func TestDeltaChainForcesFulltextAtThreshold(t *testing.T) {
	k := newTestKnit(t)
	k.maxChain = 3

	revs := []plumbing.RevID{"v0", "v1", "v2", "v3"}
	prev := plumbing.RevID("")
	for _, rev := range revs {
		var parents []plumbing.RevID
		if prev != "" {
			parents = []plumbing.RevID{prev}
		}
		_, _, err := k.AddLines(rev, parents, lines("a", string(rev)))
		require.NoError(t, err)
		prev = rev
	}

	// chain length at v3 should have hit maxChain; every entry after the
	// fulltext root is a delta.
	require.Equal(t, 3, k.chainLen["v3"])

	// The next add should be forced back to fulltext since the basis's
	// chain is already at the threshold.
	_, _, err := k.AddLines("v4", []plumbing.RevID{prev}, lines("a", "tip"))
	require.NoError(t, err)
	e, ok := k.idx.Lookup("v4")
	require.True(t, ok)
	require.False(t, e.Opts.LineDelta)
	require.Equal(t, 0, k.chainLen["v4"])

	got, err := k.GetLines("v4")
	require.NoError(t, err)
	require.Equal(t, lines("a", "tip"), got)
}

func TestGetLinesDetectsChecksumMismatch(t *testing.T) {
	k := newTestKnit(t)
	_, _, err := k.AddLines("v1", nil, lines("a", "b"))
	require.NoError(t, err)

	raw, err := k.tr.Get(k.dataPath)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(raw)
	require.NoError(t, err)
	require.NoError(t, raw.Close())
	require.NotZero(t, buf.Len())

	// Flip the last byte of the gzip stream to corrupt it, then verify
	// reads surface a failure rather than silently returning bad content.
	corrupted := buf.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF
	require.NoError(t, k.tr.PutFile(k.dataPath, bytes.NewReader(corrupted), 0o644))

	_, err = k.GetLines("v1")
	require.Error(t, err)
}

func TestCheckFileVersionParentsDetectsMismatchAndUnused(t *testing.T) {
	k := newTestKnit(t)
	_, _, err := k.AddLines("v1", nil, lines("a"))
	require.NoError(t, err)
	_, _, err = k.AddLines("v2", []plumbing.RevID{"v1"}, lines("a", "b"))
	require.NoError(t, err)

	authoritative := map[plumbing.RevID][]plumbing.RevID{
		"v1": nil,
		"v2": {"v1", "ghost"},
	}
	badParents, unused := k.CheckFileVersionParents(authoritative)
	require.Equal(t, []plumbing.RevID{"v2"}, badParents)
	require.Empty(t, unused)

	delete(authoritative, "v2")
	badParents, unused = k.CheckFileVersionParents(authoritative)
	require.Empty(t, badParents)
	require.Equal(t, []plumbing.RevID{"v2"}, unused)
}

func TestRebuildPreservesReconstructableText(t *testing.T) {
	k := newTestKnit(t)
	_, _, err := k.AddLines("v1", nil, lines("a"))
	require.NoError(t, err)
	_, _, err = k.AddLines("v2", []plumbing.RevID{"v1"}, lines("a", "b"))
	require.NoError(t, err)
	_, _, err = k.AddLines("v3", []plumbing.RevID{"v2"}, lines("a", "b", "c"))
	require.NoError(t, err)

	authoritative := map[plumbing.RevID][]plumbing.RevID{
		"v1": nil,
		"v2": {"v1"},
		"v3": {"v2"},
	}

	fresh, err := k.Rebuild([]plumbing.RevID{"v1", "v2", "v3"}, authoritative)
	require.NoError(t, err)

	for rev, want := range map[plumbing.RevID]plumbing.Lines{
		"v1": lines("a"),
		"v2": lines("a", "b"),
		"v3": lines("a", "b", "c"),
	} {
		got, err := fresh.GetLines(rev)
		require.NoError(t, err)
		require.True(t, want.Equal(got), "version %s diverged after rebuild", rev)
	}
}
