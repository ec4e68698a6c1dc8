// Package knit implements the delta-chain-plus-periodic-fulltext
// versioned text store described in spec.md §3 "Knit data model" and
// §4.2 "Knit store": O(1) index lookup, bounded reconstruction cost, and
// an index/data-file pair maintained by append-only writes.
package knit

import (
	"bytes"

	"github.com/spindlevcs/spindle/internal/trace"
	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/transport"
)

// DefaultMaxDeltaChain bounds the number of line-deltas that may separate
// a version from its nearest fulltext ancestor (spec.md §3 "Delta chain
// length ... bounded by a configurable threshold (default ~25)").
const DefaultMaxDeltaChain = 25

// Knit is one file's versioned history stored as an index plus a data
// file, both addressed through a Transport (spec.md §4.2).
type Knit struct {
	fileID plumbing.FileID
	tr     transport.Transport

	indexPath string
	dataPath  string

	idx *Index

	// chainLen[rev] is the number of deltas between rev and its nearest
	// fulltext ancestor, inclusive of rev's own record if it is a delta.
	chainLen map[plumbing.RevID]int

	maxChain int
}

// Open loads an existing knit (or initializes an empty one if the index
// file does not yet exist) at indexPath/dataPath.
func Open(tr transport.Transport, fileID plumbing.FileID, indexPath, dataPath string) (*Knit, error) {
	const op = "knit.Open"

	k := &Knit{
		fileID:    fileID,
		tr:        tr,
		indexPath: indexPath,
		dataPath:  dataPath,
		chainLen:  make(map[plumbing.RevID]int),
		maxChain:  DefaultMaxDeltaChain,
	}

	r, err := tr.Get(indexPath)
	if err != nil {
		if e, ok := err.(*plumbing.Error); ok && e.Kind == plumbing.KindNotFound {
			k.idx = NewIndex()
			return k, nil
		}
		return nil, plumbing.NewError(plumbing.KindTransport, op, err).WithFile(fileID)
	}
	defer r.Close()

	idx, err := DecodeIndex(r)
	if err != nil {
		return nil, err
	}
	k.idx = idx
	k.rebuildChainLengths()
	return k, nil
}

func (k *Knit) rebuildChainLengths() {
	for _, e := range k.idx.Entries() {
		if !e.Opts.LineDelta {
			k.chainLen[e.Rev] = 0
			continue
		}
		basis := firstAvailable(e.Parents, k.idx)
		if basis == "" {
			k.chainLen[e.Rev] = 1
			continue
		}
		k.chainLen[e.Rev] = k.chainLen[basis] + 1
	}
}

// firstAvailable returns the first parent that has an index entry (spec.md
// §3 "A line-delta's basis is its first listed non-ghost parent").
func firstAvailable(parents []plumbing.RevID, idx *Index) plumbing.RevID {
	for _, p := range parents {
		if _, ok := idx.Lookup(p); ok {
			return p
		}
	}
	return ""
}

// Has reports whether rev has a record in this knit.
func (k *Knit) Has(rev plumbing.RevID) bool {
	_, ok := k.idx.Lookup(rev)
	return ok
}

// AddLines appends a new version (spec.md §4.2 "add_lines"). Policy: a
// fulltext is forced when parents is empty, when the left parent's chain
// is already at the threshold, or when the left parent's text is
// unavailable; otherwise a line-delta against the left (first available)
// parent is stored.
func (k *Knit) AddLines(rev plumbing.RevID, parents []plumbing.RevID, lines plumbing.Lines) (string, int64, error) {
	const op = "knit.AddLines"

	if k.Has(rev) {
		return "", 0, plumbing.NewError(plumbing.KindAlreadyPresent, op, nil).
			WithFile(k.fileID).WithRev(rev)
	}

	sum := sumRecordText(lines)
	noEOL := len(lines) > 0 && !hasTrailingNewline(lines[len(lines)-1])

	basis := firstAvailable(parents, k.idx)
	useDelta := basis != "" && k.chainLen[basis] < k.maxChain

	var rec record
	if useDelta {
		basisLines, err := k.getLinesFor(basis)
		if err != nil {
			// Basis text unreadable: fall back to fulltext rather than
			// fail the whole add (spec.md §4.2 failure semantics keep
			// other revisions accessible; the same posture applies here).
			useDelta = false
		} else {
			rec = record{
				rev: rev, nLine: len(lines), sha1: sum,
				opts:  Options{LineDelta: true, NoEOL: noEOL},
				delta: BuildLineDelta(basisLines, lines),
			}
		}
	}
	if !useDelta {
		rec = record{
			rev: rev, nLine: len(lines), sha1: sum,
			opts:     Options{LineDelta: false, NoEOL: noEOL},
			fulltext: lines,
		}
	}

	blob, err := encodeRecord(rec)
	if err != nil {
		return "", 0, plumbing.NewError(plumbing.KindTransport, op, err).WithFile(k.fileID).WithRev(rev)
	}

	info, statErr := k.tr.Stat(k.dataPath)
	var offset int64
	if statErr == nil {
		offset = info.Size
	}

	if err := k.tr.Append(k.dataPath, blob); err != nil {
		return "", 0, plumbing.NewError(plumbing.KindTransport, op, err).WithFile(k.fileID).WithRev(rev)
	}

	entry := IndexEntry{
		Rev: rev, Opts: rec.opts, Offset: offset, Length: int64(len(blob)), Parents: parents,
	}
	k.idx.Append(entry)
	if err := k.persistIndex(); err != nil {
		return "", 0, err
	}

	if rec.opts.LineDelta {
		k.chainLen[rev] = k.chainLen[basis] + 1
	} else {
		k.chainLen[rev] = 0
	}

	trace.Knit.Printf("knit add %s: delta=%v", rev, rec.opts.LineDelta)
	return sum, int64(len(lines)), nil
}

func hasTrailingNewline(l plumbing.Line) bool {
	return len(l) > 0 && l[len(l)-1] == '\n'
}

func (k *Knit) persistIndex() error {
	var buf bytes.Buffer
	if err := EncodeIndex(&buf, k.idx); err != nil {
		return plumbing.NewError(plumbing.KindTransport, "knit.persistIndex", err).WithFile(k.fileID)
	}
	if err := k.tr.PutFile(k.indexPath, &buf, 0o644); err != nil {
		return plumbing.NewError(plumbing.KindTransport, "knit.persistIndex", err).WithFile(k.fileID)
	}
	return nil
}

// GetLines reconstructs rev's text: locate via index, walk the delta
// chain back to the nearest fulltext, apply deltas forward, verify SHA-1
// (spec.md §4.2 "get_lines").
func (k *Knit) GetLines(rev plumbing.RevID) (plumbing.Lines, error) {
	return k.getLinesFor(rev)
}

func (k *Knit) getLinesFor(rev plumbing.RevID) (plumbing.Lines, error) {
	const op = "knit.GetLines"

	if !k.Has(rev) {
		return nil, plumbing.NewError(plumbing.KindNotFound, op, nil).WithFile(k.fileID).WithRev(rev)
	}

	chain, err := k.deltaChainTo(rev)
	if err != nil {
		return nil, err
	}

	var lines plumbing.Lines
	var leaf record
	for i := len(chain) - 1; i >= 0; i-- {
		entry := chain[i]
		rec, err := k.readRecord(entry)
		if err != nil {
			return nil, err
		}
		if rec.opts.LineDelta {
			lines, err = ApplyLineDelta(lines, rec.delta)
			if err != nil {
				return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, err).
					WithFile(k.fileID).WithRev(entry.Rev)
			}
			if rec.opts.NoEOL && len(lines) > 0 {
				lines[len(lines)-1] = stripTrailingNewline(lines[len(lines)-1])
			}
		} else {
			lines = rec.fulltext
		}
		if i == 0 {
			leaf = rec
		}
	}

	measured := sumRecordText(lines)
	if measured != leaf.sha1 {
		return nil, plumbing.NewError(plumbing.KindChecksumMismatch, op, nil).
			WithFile(k.fileID).WithRev(rev).
			WithDetail("expected " + leaf.sha1 + ", measured " + measured)
	}

	return lines, nil
}

// deltaChainTo returns the sequence of index entries from rev back to
// (and including) its nearest fulltext ancestor, in [rev, ..., fulltext]
// order.
func (k *Knit) deltaChainTo(rev plumbing.RevID) ([]IndexEntry, error) {
	const op = "knit.GetLines"
	var chain []IndexEntry
	cur := rev
	for {
		e, ok := k.idx.Lookup(cur)
		if !ok {
			return nil, plumbing.NewError(plumbing.KindNotFound, op, nil).WithFile(k.fileID).WithRev(cur)
		}
		chain = append(chain, e)
		if !e.Opts.LineDelta {
			return chain, nil
		}
		basis := firstAvailable(e.Parents, k.idx)
		if basis == "" {
			return nil, plumbing.NewError(plumbing.KindInconsistentGraph, op, nil).
				WithFile(k.fileID).WithRev(cur).
				WithDetail("line-delta record has no available basis parent")
		}
		cur = basis
	}
}

func (k *Knit) readRecord(e IndexEntry) (record, error) {
	const op = "knit.readRecord"
	chunks, err := k.tr.ReadV(k.dataPath, []transport.Range{{Offset: e.Offset, Length: e.Length}})
	if err != nil {
		return record{}, plumbing.NewError(plumbing.KindTransport, op, err).WithFile(k.fileID).WithRev(e.Rev)
	}
	if len(chunks) != 1 || int64(len(chunks[0].Data)) != e.Length {
		return record{}, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
			WithFile(k.fileID).WithRev(e.Rev).WithDetail("short read for record")
	}

	rec, err := decodeRecord(chunks[0].Data, e.Opts)
	if err != nil {
		return record{}, err
	}
	return rec, nil
}

// CheckFileVersionParents compares the knit's own recorded parents
// against authoritative, returning versions whose stored parents
// disagree and versions present in the knit but absent from authoritative
// (spec.md §4.2 "check_file_version_parents").
func (k *Knit) CheckFileVersionParents(authoritative map[plumbing.RevID][]plumbing.RevID) (badParents, unused []plumbing.RevID) {
	for _, e := range k.idx.Entries() {
		want, ok := authoritative[e.Rev]
		if !ok {
			unused = append(unused, e.Rev)
			continue
		}
		if !plumbing.RevIDs(e.Parents).Equal(want) {
			badParents = append(badParents, e.Rev)
		}
	}
	return badParents, unused
}
