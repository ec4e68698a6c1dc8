package knit

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spindlevcs/spindle/internal/sha1cd"
	"github.com/spindlevcs/spindle/plumbing"
)

// Options are the per-record flags spec.md §3 "Index semantics" and §4.2
// list: whether the record is a fulltext or a line-delta, and whether its
// final reconstructed line lacks a trailing newline.
type Options struct {
	LineDelta bool // false means fulltext
	NoEOL     bool
}

// String renders options the way the index text format expects:
// "fulltext" or "line-delta", optionally followed by ",no-eol".
func (o Options) String() string {
	s := "fulltext"
	if o.LineDelta {
		s = "line-delta"
	}
	if o.NoEOL {
		s += ",no-eol"
	}
	return s
}

// ParseOptions parses the comma-separated options field of an index line.
func ParseOptions(s string) (Options, error) {
	var o Options
	for _, f := range strings.Split(s, ",") {
		switch f {
		case "fulltext":
			o.LineDelta = false
		case "line-delta":
			o.LineDelta = true
		case "no-eol":
			o.NoEOL = true
		default:
			return o, plumbing.NewError(plumbing.KindMalformedFormat, "knit.ParseOptions", nil).
				WithDetail("unknown option: " + f)
		}
	}
	return o, nil
}

// record is the decoded, uncompressed body of one data-file entry
// (spec.md §3 "Data file"): `version <rev-id> <n> <sha1>\n` header, body
// (fulltext lines or a line-delta), `end <rev-id>\n` trailer.
type record struct {
	rev   plumbing.RevID
	nLine int
	sha1  string
	opts  Options

	fulltext plumbing.Lines
	delta    LineDelta
}

// encodeRecord serializes and gzip-compresses one record, matching
// spec.md §4.2 "Failure semantics": each record is independently
// compressed so a corrupt one never blocks reading its neighbors.
func encodeRecord(r record) ([]byte, error) {
	var body bytes.Buffer
	fmt.Fprintf(&body, "version %s %d %s\n", r.rev, r.nLine, r.sha1)

	if r.opts.LineDelta {
		consumed := 0
		for _, h := range r.delta.Hunks {
			fmt.Fprintf(&body, "%d,%d,%d\n", h.S1, h.S2, h.N)
			for _, l := range r.delta.Lines[consumed : consumed+h.N] {
				body.Write(withTrailingNewline(l))
			}
			consumed += h.N
		}
	} else {
		for _, l := range r.fulltext {
			body.Write(withTrailingNewline(l))
		}
	}
	fmt.Fprintf(&body, "end %s\n", r.rev)

	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(body.Bytes()); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

func withTrailingNewline(l plumbing.Line) []byte {
	if len(l) == 0 || l[len(l)-1] != '\n' {
		return append(append([]byte(nil), l...), '\n')
	}
	return l
}

// decodeRecord reverses encodeRecord, given the raw compressed bytes for
// exactly one record and the options recorded for it in the index (needed
// to know whether the body is a fulltext or a delta, and, for a fulltext,
// whether to strip a synthetic trailing newline added back in no-eol
// mode; for a delta that strip applies to the reconstructed text).
func decodeRecord(raw []byte, opts Options) (record, error) {
	const op = "knit.decodeRecord"

	gr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return record{}, plumbing.NewError(plumbing.KindChecksumMismatch, op, err).
			WithDetail("corrupt gzip stream")
	}
	defer gr.Close()

	br := bufio.NewReader(gr)

	headerLine, err := br.ReadString('\n')
	if err != nil {
		return record{}, malformedRecord(op, "truncated header", err)
	}
	rev, n, sum, err := parseVersionHeader(headerLine)
	if err != nil {
		return record{}, err
	}

	r := record{rev: rev, nLine: n, sha1: sum, opts: opts}

	if opts.LineDelta {
		delta, err := readDeltaBody(br)
		if err != nil {
			return record{}, err
		}
		r.delta = delta
	} else {
		lines, err := readFulltextBody(br, n, opts.NoEOL)
		if err != nil {
			return record{}, err
		}
		r.fulltext = lines
	}

	trailer, err := br.ReadString('\n')
	if err != nil {
		return record{}, malformedRecord(op, "truncated trailer", err)
	}
	if strings.TrimSuffix(trailer, "\n") != "end "+string(rev) {
		return record{}, malformedRecord(op, "trailer rev-id mismatch: "+trailer, nil)
	}
	// Read through to EOF so gzip verifies the stream's CRC and size.
	if _, err := io.Copy(io.Discard, br); err != nil {
		return record{}, plumbing.NewError(plumbing.KindChecksumMismatch, op, err).
			WithDetail("corrupt gzip stream")
	}

	return r, nil
}

func parseVersionHeader(line string) (plumbing.RevID, int, string, error) {
	const op = "knit.decodeRecord"
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "version" {
		return "", 0, "", malformedRecord(op, "bad version header: "+line, nil)
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, "", malformedRecord(op, "bad line count: "+line, err)
	}
	return plumbing.RevID(fields[1]), n, fields[3], nil
}

func readFulltextBody(br *bufio.Reader, n int, noEOL bool) (plumbing.Lines, error) {
	lines := make(plumbing.Lines, 0, n)
	for i := 0; i < n; i++ {
		l, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF && l != "" {
				lines = append(lines, plumbing.Line(l))
				continue
			}
			return nil, malformedRecord("knit.decodeRecord", "truncated fulltext body", err)
		}
		lines = append(lines, plumbing.Line(l))
	}
	if noEOL && len(lines) > 0 {
		lines[len(lines)-1] = stripTrailingNewline(lines[len(lines)-1])
	}
	return lines, nil
}

func readDeltaBody(br *bufio.Reader) (LineDelta, error) {
	const op = "knit.decodeRecord"
	var d LineDelta
	for {
		if p, err := br.Peek(4); err == nil && string(p) == "end " {
			return d, nil
		}
		hunkLine, err := br.ReadString('\n')
		if err != nil {
			return d, malformedRecord(op, "truncated delta hunk line", err)
		}
		fields := strings.Split(strings.TrimSuffix(hunkLine, "\n"), ",")
		if len(fields) != 3 {
			return d, malformedRecord(op, "bad hunk line: "+hunkLine, nil)
		}
		s1, err1 := strconv.Atoi(fields[0])
		s2, err2 := strconv.Atoi(fields[1])
		m, err3 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return d, malformedRecord(op, "bad hunk integers: "+hunkLine, nil)
		}
		d.Hunks = append(d.Hunks, Hunk{S1: s1, S2: s2, N: m})
		for i := 0; i < m; i++ {
			l, err := br.ReadString('\n')
			if err != nil {
				return d, malformedRecord(op, "truncated hunk body", err)
			}
			d.Lines = append(d.Lines, plumbing.Line(l))
		}
	}
}

func stripTrailingNewline(l plumbing.Line) plumbing.Line {
	if len(l) == 0 || l[len(l)-1] != '\n' {
		return l
	}
	out := make(plumbing.Line, len(l)-1)
	copy(out, l)
	return out
}

func malformedRecord(op, detail string, cause error) error {
	return plumbing.NewError(plumbing.KindMalformedFormat, op, cause).WithDetail(detail)
}

// sumRecordText computes the SHA-1 of a version's reconstructed text the
// same way the weave store does, so both formats share one hashing
// convention.
func sumRecordText(lines plumbing.Lines) string {
	out := make([][]byte, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return sha1cd.SumLines(out)
}
