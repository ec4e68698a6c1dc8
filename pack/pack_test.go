package pack

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/spindlevcs/spindle/transport"
)

func TestBuildLookupAndData(t *testing.T) {
	c := Build([]Record{
		{Key: "v2", Data: []byte("second")},
		{Key: "v1", Data: []byte("first")},
	})

	data, ok := c.Data("v1")
	require.True(t, ok)
	require.Equal(t, []byte("first"), data)

	data, ok = c.Data("v2")
	require.True(t, ok)
	require.Equal(t, []byte("second"), data)

	_, ok = c.Data("missing")
	require.False(t, ok)
}

func TestBuildNameIsContentAddressed(t *testing.T) {
	records := []Record{{Key: "v1", Data: []byte("same content")}}
	c1 := Build(append([]Record(nil), records...))
	c2 := Build(append([]Record(nil), records...))
	require.Equal(t, c1.Name, c2.Name)

	c3 := Build([]Record{{Key: "v1", Data: []byte("different content")}})
	require.NotEqual(t, c1.Name, c3.Name)
}

func TestPublishAppendsToPackNames(t *testing.T) {
	tr := transport.NewFS(memfs.New(), "memory://test")

	c := Build([]Record{{Key: "v1", Data: []byte("hello")}})
	require.NoError(t, Publish(tr, c))

	names, err := ListNames(tr)
	require.NoError(t, err)
	require.Equal(t, []string{c.Name}, names)

	r, err := tr.Get("packs/" + c.Name + ".pack")
	require.NoError(t, err)
	require.NoError(t, r.Close())
}

func TestListNamesEmptyWhenAbsent(t *testing.T) {
	tr := transport.NewFS(memfs.New(), "memory://test")
	names, err := ListNames(tr)
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestCompactMovesObsoletePacksAndPublishesReplacement(t *testing.T) {
	tr := transport.NewFS(memfs.New(), "memory://test")

	old := Build([]Record{{Key: "v1", Data: []byte("old")}})
	require.NoError(t, Publish(tr, old))

	replacement := Build([]Record{{Key: "v1", Data: []byte("new")}})
	require.NoError(t, Compact(tr, []string{old.Name}, replacement))

	names, err := ListNames(tr)
	require.NoError(t, err)
	require.Equal(t, []string{replacement.Name}, names)

	info, err := tr.Stat("obsolete_packs/" + old.Name + ".pack")
	require.NoError(t, err)
	require.Greater(t, info.Size, int64(0))

	_, err = tr.Stat("packs/" + old.Name + ".pack")
	require.Error(t, err)
}

func TestCompactKeepsUnrelatedPacks(t *testing.T) {
	tr := transport.NewFS(memfs.New(), "memory://test")

	keep := Build([]Record{{Key: "v1", Data: []byte("keep-me")}})
	require.NoError(t, Publish(tr, keep))
	stale := Build([]Record{{Key: "v2", Data: []byte("stale")}})
	require.NoError(t, Publish(tr, stale))

	replacement := Build([]Record{{Key: "v2", Data: []byte("replaced")}})
	require.NoError(t, Compact(tr, []string{stale.Name}, replacement))

	names, err := ListNames(tr)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{keep.Name, replacement.Name}, names)
}
