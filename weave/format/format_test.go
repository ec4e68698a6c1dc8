package format

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/weave"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	w := weave.New(plumbing.FileID("f1"))
	_, err := w.AddVersion("v1", nil, plumbing.Lines{plumbing.Line("a\n"), plumbing.Line("b\n")})
	require.NoError(t, err)
	_, err = w.AddVersion("v2", []plumbing.RevID{"v1"}, plumbing.Lines{plumbing.Line("a\n"), plumbing.Line("x\n"), plumbing.Line("b\n")})
	require.NoError(t, err)
	_, err = w.AddVersion("v3", []plumbing.RevID{"v1", "ghost"}, plumbing.Lines{plumbing.Line("a\n"), plumbing.Line("b\n"), plumbing.Line("c")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, w))

	loaded, fileID, err := Decode(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, plumbing.FileID("f1"), fileID)
	require.Equal(t, w.Versions(), loaded.Versions())

	for _, v := range w.Versions() {
		want, err := w.GetLines(v)
		require.NoError(t, err)
		got, err := loaded.GetLines(v)
		require.NoError(t, err)
		require.True(t, want.Equal(got), "version %s diverged after round trip", v)
	}

	require.True(t, loaded.Has("v1"))
	require.False(t, loaded.Has("ghost"))
}

func TestDecodeRejectsWrongHeader(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("not a weave file\n")))
	require.Error(t, err)
	perr, ok := err.(*plumbing.Error)
	require.True(t, ok)
	require.Equal(t, plumbing.KindMalformedFormat, perr.Kind)
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	_, _, err := Decode(bytes.NewReader(nil))
	require.Error(t, err)
}
