// Package pack implements the append-then-index container and
// pack-names list described in spec.md §3 "Pack": many knit records
// aggregated into one immutable file, with mutation expressed as
// write-new-pack + atomic rename of the list of live packs.
package pack

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/transport"
)

// compactRenameConcurrency bounds how many obsolete-pack renames Compact
// issues against the transport at once.
const compactRenameConcurrency = 8

const (
	namesPath     = "packs/pack-names"
	obsoleteDir   = "obsolete_packs"
	packsDir      = "packs"
)

// Record is one entry written into a pack: an opaque blob plus the
// lookup key callers will later use to find it (spec.md: "indexed by a
// set of btree-style index files listing (key, value, references)
// tuples" — simplified here to single keys, since the core's own
// consumers — knit and the reconciler — always address by rev-id).
type Record struct {
	Key  string
	Data []byte
}

// Container is one immutable pack file: a name plus the records it
// holds, with a simple in-memory offset index. Once named, a Container
// is never mutated (spec.md "Packs are immutable once named").
type Container struct {
	Name    string
	offsets map[string]transport.Range
	body    []byte
}

// Build serializes records into a new, content-addressed Container. The
// name is the SHA-1 of the packed body, matching spec.md's "addressable
// by a name derived from content".
func Build(records []Record) *Container {
	var body bytes.Buffer
	offsets := make(map[string]transport.Range, len(records))

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	for _, r := range records {
		off := int64(body.Len())
		fmt.Fprintf(&body, "%d:%s\n", len(r.Data), r.Key)
		body.Write(r.Data)
		offsets[r.Key] = transport.Range{Offset: off, Length: int64(body.Len()) - off}
	}

	sum := sha1.Sum(body.Bytes())
	return &Container{
		Name:    hex.EncodeToString(sum[:]),
		offsets: offsets,
		body:    body.Bytes(),
	}
}

// Lookup returns the byte range of key's record within the container.
func (c *Container) Lookup(key string) (transport.Range, bool) {
	r, ok := c.offsets[key]
	return r, ok
}

// slice returns one record's data (header included) at the given range.
func (c *Container) slice(r transport.Range) []byte {
	return c.body[r.Offset : r.Offset+r.Length]
}

// Data returns the data payload for key, with the length-prefixed header
// stripped.
func (c *Container) Data(key string) ([]byte, bool) {
	r, ok := c.Lookup(key)
	if !ok {
		return nil, false
	}
	raw := c.slice(r)
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return nil, false
	}
	header := string(raw[:nl])
	lenStr := header[:strings.IndexByte(header, ':')]
	n, err := strconv.Atoi(lenStr)
	if err != nil {
		return nil, false
	}
	return raw[nl+1 : nl+1+n], true
}

// path returns this container's on-disk path under packsDir.
func (c *Container) path() string { return path.Join(packsDir, c.Name+".pack") }

// Publish writes the container to the transport and appends its name to
// the pack-names list via write-new + atomic rename (spec.md §5 "the
// pack-names list is the single global mutable artifact ... read-copy-
// updated via atomic rename").
func Publish(tr transport.Transport, c *Container) error {
	const op = "pack.Publish"

	if err := tr.PutFile(c.path(), bytes.NewReader(c.body), 0o644); err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(c.Name)
	}

	names, err := ListNames(tr)
	if err != nil {
		return err
	}
	names = append(names, c.Name)

	return writeNames(tr, op, names)
}

// ListNames reads the current pack-names list.
func ListNames(tr transport.Transport) ([]string, error) {
	const op = "pack.ListNames"
	r, err := tr.Get(namesPath)
	if err != nil {
		if e, ok := err.(*plumbing.Error); ok && e.Kind == plumbing.KindNotFound {
			return nil, nil
		}
		return nil, plumbing.NewError(plumbing.KindTransport, op, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, plumbing.NewError(plumbing.KindTransport, op, err)
	}

	var names []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func writeNames(tr transport.Transport, op string, names []string) error {
	tmp := namesPath + ".new"
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte('\n')
	}
	if err := tr.PutFile(tmp, &buf, 0o644); err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err)
	}
	if err := tr.Delete(namesPath); err != nil {
		if e, ok := err.(*plumbing.Error); !ok || e.Kind != plumbing.KindNotFound {
			return plumbing.NewError(plumbing.KindTransport, op, err)
		}
	}
	if err := tr.Rename(tmp, namesPath); err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err)
	}
	return nil
}

// Compact replaces the set of packs named `obsolete` in the pack-names
// list with replacement (typically the output of a repack or a
// reconciler pass), moving the superseded pack files to obsolete_packs/
// rather than deleting them outright (spec.md §4.3 "move replaced packs
// to obsolete_packs/").
func Compact(tr transport.Transport, obsolete []string, replacement *Container) error {
	const op = "pack.Compact"

	if err := tr.Mkdir(obsoleteDir, 0o755); err != nil {
		if e, ok := err.(*plumbing.Error); !ok || e.Kind != plumbing.KindAlreadyPresent {
			return plumbing.NewError(plumbing.KindTransport, op, err)
		}
	}

	if err := tr.PutFile(replacement.path(), bytes.NewReader(replacement.body), 0o644); err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(replacement.Name)
	}

	obsoleteSet := make(map[string]bool, len(obsolete))
	for _, o := range obsolete {
		obsoleteSet[o] = true
	}

	names, err := ListNames(tr)
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(names)+1)

	var g errgroup.Group
	g.SetLimit(compactRenameConcurrency)
	for _, n := range names {
		if !obsoleteSet[n] {
			kept = append(kept, n)
			continue
		}
		n := n
		g.Go(func() error {
			if err := tr.Rename(path.Join(packsDir, n+".pack"), path.Join(obsoleteDir, n+".pack")); err != nil {
				return plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(n)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	kept = append(kept, replacement.Name)

	return writeNames(tr, op, kept)
}
