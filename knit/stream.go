package knit

import (
	"sort"

	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/transport"
)

// Ordering selects the iteration order of GetRecordStream (spec.md §4.2
// "get_record_stream").
type Ordering int

const (
	// OrderUnordered yields records in the order revs were given.
	OrderUnordered Ordering = iota
	// OrderTopological yields records so every parent precedes its
	// children.
	OrderTopological
)

// Record is one unit of a record stream: either a raw, still-compressed
// delta/fulltext blob (when the caller only wants to copy it verbatim
// into another store) or reconstructed lines.
type Record struct {
	Rev     plumbing.RevID
	Parents []plumbing.RevID
	Opts    Options

	// Raw holds the compressed on-disk bytes when IncludeDeltas was
	// requested; otherwise Lines holds the fully reconstructed text.
	Raw   []byte
	Lines plumbing.Lines
}

// GetRecordStream yields records for revs in the requested order. With
// includeDeltas set, records are copied as raw compressed bytes (no
// basis lookup, no reconstruction) so a caller can splice them directly
// into another knit's data file; this is what makes cross-store copying
// cheap (spec.md §4.2).
func (k *Knit) GetRecordStream(revs []plumbing.RevID, ordering Ordering, includeDeltas bool) ([]Record, error) {
	const op = "knit.GetRecordStream"

	order := revs
	if ordering == OrderTopological {
		var err error
		order, err = k.topoOrder(revs)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Record, 0, len(order))
	for _, rev := range order {
		e, ok := k.idx.Lookup(rev)
		if !ok {
			return nil, plumbing.NewError(plumbing.KindNotFound, op, nil).WithFile(k.fileID).WithRev(rev)
		}

		rec := Record{Rev: rev, Parents: e.Parents, Opts: e.Opts}
		if includeDeltas {
			chunks, err := k.tr.ReadV(k.dataPath, []transport.Range{{Offset: e.Offset, Length: e.Length}})
			if err != nil {
				return nil, plumbing.NewError(plumbing.KindTransport, op, err).WithFile(k.fileID).WithRev(rev)
			}
			rec.Raw = chunks[0].Data
		} else {
			lines, err := k.getLinesFor(rev)
			if err != nil {
				return nil, err
			}
			rec.Lines = lines
		}
		out = append(out, rec)
	}
	return out, nil
}

// topoOrder sorts revs so every rev appears after every parent of it that
// is also in revs. Revs outside the requested set (external parents) are
// not themselves ordered — they're only used as edges.
func (k *Knit) topoOrder(revs []plumbing.RevID) ([]plumbing.RevID, error) {
	const op = "knit.GetRecordStream"
	want := make(map[plumbing.RevID]bool, len(revs))
	for _, r := range revs {
		want[r] = true
	}

	indegree := make(map[plumbing.RevID]int, len(revs))
	children := make(map[plumbing.RevID][]plumbing.RevID)
	for _, r := range revs {
		e, ok := k.idx.Lookup(r)
		if !ok {
			return nil, plumbing.NewError(plumbing.KindNotFound, op, nil).WithFile(k.fileID).WithRev(r)
		}
		for _, p := range e.Parents {
			if want[p] {
				indegree[r]++
				children[p] = append(children[p], r)
			}
		}
	}

	var ready []plumbing.RevID
	for _, r := range revs {
		if indegree[r] == 0 {
			ready = append(ready, r)
		}
	}
	sortRevs(ready)

	var order []plumbing.RevID
	for len(ready) > 0 {
		sortRevs(ready)
		r := ready[0]
		ready = ready[1:]
		order = append(order, r)
		for _, c := range children[r] {
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	return order, nil
}

func sortRevs(revs []plumbing.RevID) {
	sort.Slice(revs, func(i, j int) bool { return revs[i] < revs[j] })
}

// InsertRecordStream writes a stream of records produced by
// GetRecordStream (typically from another knit) into this one. Records
// whose parents are not yet present in this knit are buffered and
// retried once their dependencies land; any left over after the whole
// stream is drained are reported rather than silently dropped (spec.md
// §4.2 "must handle records whose parents are not yet present").
func (k *Knit) InsertRecordStream(records []Record) (inserted []plumbing.RevID, deferred []plumbing.RevID, err error) {
	pending := append([]Record(nil), records...)

	inStream := make(map[plumbing.RevID]bool, len(records))
	for _, rec := range records {
		inStream[rec.Rev] = true
	}

	for progressed := true; progressed && len(pending) > 0; {
		progressed = false
		var next []Record

		for _, rec := range pending {
			if k.Has(rec.Rev) {
				continue
			}
			if k.blockedBy(rec.Parents, inStream) {
				next = append(next, rec)
				continue
			}

			if rec.Raw != nil {
				if err := k.insertRaw(rec); err != nil {
					return inserted, nil, err
				}
			} else {
				if _, _, err := k.AddLines(rec.Rev, rec.Parents, rec.Lines); err != nil {
					return inserted, nil, err
				}
			}
			inserted = append(inserted, rec.Rev)
			progressed = true
		}
		pending = next
	}

	for _, rec := range pending {
		deferred = append(deferred, rec.Rev)
	}
	return inserted, deferred, nil
}

// blockedBy reports whether any parent is itself part of this stream but
// not yet committed to the knit — that is the only case that must wait;
// a parent absent from both the knit and the stream is a ghost (or a
// cross-file parent) and never arrives, so it must not block insertion.
func (k *Knit) blockedBy(parents []plumbing.RevID, inStream map[plumbing.RevID]bool) bool {
	for _, p := range parents {
		if inStream[p] && !k.Has(p) {
			return true
		}
	}
	return false
}

// insertRaw appends a record's compressed bytes verbatim, without
// decoding and re-encoding it, the fast path get_record_stream exists to
// enable.
func (k *Knit) insertRaw(rec Record) error {
	const op = "knit.InsertRecordStream"

	info, statErr := k.tr.Stat(k.dataPath)
	var offset int64
	if statErr == nil {
		offset = info.Size
	}

	if err := k.tr.Append(k.dataPath, rec.Raw); err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err).WithFile(k.fileID).WithRev(rec.Rev)
	}

	k.idx.Append(IndexEntry{
		Rev: rec.Rev, Opts: rec.Opts, Offset: offset, Length: int64(len(rec.Raw)), Parents: rec.Parents,
	})
	if err := k.persistIndex(); err != nil {
		return err
	}

	if rec.Opts.LineDelta {
		basis := firstAvailable(rec.Parents, k.idx)
		k.chainLen[rec.Rev] = k.chainLen[basis] + 1
	} else {
		k.chainLen[rec.Rev] = 0
	}
	return nil
}
