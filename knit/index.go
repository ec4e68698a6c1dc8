package knit

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spindlevcs/spindle/plumbing"
)

// indexHeader is the first line of every index file.
const indexHeader = "# spindle knit index 1"

// IndexEntry is one decoded line of a knit index file (spec.md §3 "Index
// file"): the record's identity, its data-file location, its encoding
// options, and its parents resolved to rev-ids.
type IndexEntry struct {
	Rev     plumbing.RevID
	Opts    Options
	Offset  int64
	Length  int64
	Parents []plumbing.RevID // order-preserved, first is the delta basis
}

// Index is the in-memory decoding of a knit's index file, with parent
// references already expanded from the compressed on-disk form to full
// rev-ids (spec.md §4.2 "Index semantics (compressed parent refs)").
type Index struct {
	entries []IndexEntry
	byRev   map[plumbing.RevID]int // first occurrence wins, per spec.md duplicate rule
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{byRev: make(map[plumbing.RevID]int)}
}

// Lookup returns the entry for rev and whether it was found.
func (idx *Index) Lookup(rev plumbing.RevID) (IndexEntry, bool) {
	i, ok := idx.byRev[rev]
	if !ok {
		return IndexEntry{}, false
	}
	return idx.entries[i], true
}

// Len returns the number of distinct revisions in the index.
func (idx *Index) Len() int { return len(idx.byRev) }

// Entries returns every entry in on-disk (append) order. The returned
// slice must not be mutated.
func (idx *Index) Entries() []IndexEntry { return idx.entries }

// Append adds a new entry in append order. If rev is already present,
// per spec.md "Ambiguous duplicate index entries → first one wins", the
// new entry is recorded (for append consistency) but does not replace
// the lookup mapping.
func (idx *Index) Append(e IndexEntry) {
	idx.entries = append(idx.entries, e)
	if _, exists := idx.byRev[e.Rev]; !exists {
		idx.byRev[e.Rev] = len(idx.entries) - 1
	}
}

// EncodeIndex writes the index in its on-disk text form. Each parent that
// is itself present earlier in this same index is written as its decimal
// position (spec.md "compressed back-reference"); any other parent
// (ghost, or not yet written in this file) is written as ".<rev-id>".
func EncodeIndex(dst io.Writer, idx *Index) error {
	bw := bufio.NewWriter(dst)
	if _, err := fmt.Fprintf(bw, "%s\n", indexHeader); err != nil {
		return err
	}

	position := make(map[plumbing.RevID]int, len(idx.entries))
	for i, e := range idx.entries {
		var refs []string
		for _, p := range e.Parents {
			if pos, ok := position[p]; ok {
				refs = append(refs, strconv.Itoa(pos))
			} else {
				refs = append(refs, "."+string(p))
			}
		}
		line := fmt.Sprintf("%s %s %d %d %s :\n",
			e.Rev, e.Opts, e.Offset, e.Length, strings.Join(refs, " "))
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
		position[e.Rev] = i
	}
	return bw.Flush()
}

// DecodeIndex reads an index file, resolving compressed parent
// back-references incrementally as spec.md requires: position-to-rev-id
// mapping is built as lines are read, in order.
//
// A truncated final line (no trailing newline, or a short read) is
// silently dropped rather than treated as an error, matching spec.md
// §4.2 "Partial writes" — the index is crash-tolerant.
func DecodeIndex(src io.Reader) (*Index, error) {
	const op = "knit.DecodeIndex"
	idx := NewIndex()

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return idx, nil
	}
	if sc.Text() != indexHeader {
		return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
			WithDetail("unrecognized index header: " + sc.Text())
	}

	byPosition := make([]plumbing.RevID, 0)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasSuffix(line, " :") {
			// Truncated final line left by a crash mid-append: drop it.
			break
		}
		fields := strings.Fields(strings.TrimSuffix(line, " :"))
		if len(fields) < 4 {
			break
		}

		rev := plumbing.RevID(fields[0])
		opts, err := ParseOptions(fields[1])
		if err != nil {
			return nil, err
		}
		offset, err1 := strconv.ParseInt(fields[2], 10, 64)
		length, err2 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
				WithDetail("bad offset/length in index line: " + line)
		}

		var parents []plumbing.RevID
		for _, f := range fields[4:] {
			if strings.HasPrefix(f, ".") {
				parents = append(parents, plumbing.RevID(f[1:]))
				continue
			}
			pos, err := strconv.Atoi(f)
			if err != nil || pos < 0 || pos >= len(byPosition) {
				return nil, plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
					WithDetail("parent back-reference out of range: " + line)
			}
			parents = append(parents, byPosition[pos])
		}

		idx.Append(IndexEntry{
			Rev: rev, Opts: opts, Offset: offset, Length: length, Parents: parents,
		})
		byPosition = append(byPosition, rev)
	}

	return idx, nil
}
