// Package format implements the weave file's on-disk text encoding
// (spec.md §6 "Weave file"). It is kept distinct from package weave so
// the in-memory model never depends on a particular serialization.
package format

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/weave"
)

// header is the first line of every weave file. Renamed from bzr's own
// magic string since this format is a derivative, not byte-compatible,
// encoding (spec.md §1 Non-goals).
const header = "# spindle weave file v1"

// Encode writes w to dst in the textual layout spec.md §6 describes:
// a header and a fileid line; per version an "i" parents line, a "1"
// sha1 line, an "n" name line and a blank line; then the interleaved
// body between "w" and "W" markers.
func Encode(dst io.Writer, w *weave.Weave) error { return writeFile(dst, dump(w)) }

// Decode reads a weave file previously produced by Encode and
// reconstructs an equivalent *weave.Weave.
func Decode(src io.Reader) (*weave.Weave, plumbing.FileID, error) {
	d, err := readFile(src)
	if err != nil {
		return nil, "", err
	}
	return load(d)
}

// dumped is the format-agnostic intermediate: everything Encode needs to
// write, extracted from a *weave.Weave via its exported Dump.
type dumped struct {
	fileID  plumbing.FileID
	parents [][]int // resolved indices only, per version
	ghosts  [][]plumbing.RevID
	names   []plumbing.RevID
	sha1    []string
	body    []bodyEntry
}

const (
	bodyLine        = weave.RawLine
	bodyInsertStart = weave.RawInsertStart
	bodyInsertEnd   = weave.RawInsertEnd
	bodyDeleteStart = weave.RawDeleteStart
	bodyDeleteEnd   = weave.RawDeleteEnd
)

type bodyEntry = weave.RawBodyEntry

func dump(w *weave.Weave) dumped {
	versions, body := w.Dump()
	d := dumped{fileID: w.FileID()}
	for _, v := range versions {
		d.names = append(d.names, v.Name)
		d.sha1 = append(d.sha1, v.SHA1)
		d.parents = append(d.parents, v.Parents)
		d.ghosts = append(d.ghosts, v.Ghosts)
	}
	d.body = body
	return d
}

func load(d readState) (*weave.Weave, plumbing.FileID, error) {
	versions := make([]weave.RawVersion, len(d.names))
	for v := range d.names {
		versions[v] = weave.RawVersion{
			Name:    d.names[v],
			SHA1:    d.sha1[v],
			Parents: d.parents[v],
			Ghosts:  d.ghosts[v],
		}
	}
	return weave.Load(d.fileID, versions, d.body), d.fileID, nil
}

func writeFile(dst io.Writer, d dumped) error {
	bw := bufio.NewWriter(dst)

	if _, err := fmt.Fprintf(bw, "%s\n", header); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "fileid %s\n", d.fileID); err != nil {
		return err
	}

	for v := range d.names {
		var parts []string
		for _, p := range d.parents[v] {
			parts = append(parts, strconv.Itoa(p))
		}
		for _, g := range d.ghosts[v] {
			parts = append(parts, "."+string(g))
		}
		if _, err := fmt.Fprintf(bw, "i %s\n", strings.Join(parts, " ")); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(bw, "1 %s\n", d.sha1[v]); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(bw, "n %s\n\n", d.names[v]); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(bw, "w\n"); err != nil {
		return err
	}
	for _, e := range d.body {
		switch e.Kind {
		case bodyInsertStart:
			if _, err := fmt.Fprintf(bw, "{ %d\n", e.Vers); err != nil {
				return err
			}
		case bodyInsertEnd:
			if _, err := fmt.Fprint(bw, "} \n"); err != nil {
				return err
			}
		case bodyDeleteStart:
			if _, err := fmt.Fprintf(bw, "[ %d\n", e.Vers); err != nil {
				return err
			}
		case bodyDeleteEnd:
			if _, err := fmt.Fprintf(bw, "] %d\n", e.Vers); err != nil {
				return err
			}
		case bodyLine:
			prefix := byte('.')
			if !e.EOL {
				prefix = ','
			}
			if _, err := bw.WriteByte(prefix); err != nil {
				return err
			}
			if _, err := bw.Write(trimNL(e.Line)); err != nil {
				return err
			}
			if _, err := bw.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	if _, err := fmt.Fprint(bw, "W\n"); err != nil {
		return err
	}

	return bw.Flush()
}

func trimNL(l plumbing.Line) []byte {
	if len(l) > 0 && l[len(l)-1] == '\n' {
		return l[:len(l)-1]
	}
	return l
}

type readState struct {
	fileID  plumbing.FileID
	parents [][]int
	ghosts  [][]plumbing.RevID
	names   []plumbing.RevID
	sha1    []string
	body    []bodyEntry
}

func readFile(src io.Reader) (readState, error) {
	var d readState
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return d, plumbing.NewError(plumbing.KindMalformedFormat, "format.Decode", io.ErrUnexpectedEOF).
			WithDetail("empty weave file")
	}
	if sc.Text() != header {
		return d, plumbing.NewError(plumbing.KindMalformedFormat, "format.Decode", nil).
			WithDetail("unrecognized weave file header: " + sc.Text())
	}
	if !sc.Scan() {
		return d, malformed("truncated after header")
	}
	fileIDLine := sc.Text()
	if !strings.HasPrefix(fileIDLine, "fileid ") {
		return d, malformed("expected fileid line, got: " + fileIDLine)
	}
	d.fileID = plumbing.FileID(strings.TrimPrefix(fileIDLine, "fileid "))

	for sc.Scan() {
		line := sc.Text()
		if line == "w" {
			break
		}
		if !strings.HasPrefix(line, "i ") && line != "i" {
			return d, malformed("expected parent line 'i ...', got: " + line)
		}
		var parents []int
		var ghosts []plumbing.RevID
		fields := strings.Fields(strings.TrimPrefix(line, "i"))
		for _, f := range fields {
			if strings.HasPrefix(f, ".") {
				ghosts = append(ghosts, plumbing.RevID(f[1:]))
				continue
			}
			idx, err := strconv.Atoi(f)
			if err != nil {
				return d, malformed("bad parent index: " + f)
			}
			parents = append(parents, idx)
		}

		if !sc.Scan() {
			return d, malformed("truncated before sha1 line")
		}
		sha1Line := sc.Text()
		if !strings.HasPrefix(sha1Line, "1 ") {
			return d, malformed("expected sha1 line '1 ...', got: " + sha1Line)
		}
		sum := strings.TrimPrefix(sha1Line, "1 ")

		if !sc.Scan() {
			return d, malformed("truncated before name line")
		}
		nameLine := sc.Text()
		if !strings.HasPrefix(nameLine, "n ") {
			return d, malformed("expected name line 'n ...', got: " + nameLine)
		}
		name := plumbing.RevID(strings.TrimPrefix(nameLine, "n "))

		if !sc.Scan() || sc.Text() != "" {
			return d, malformed("expected blank line after version header")
		}

		d.parents = append(d.parents, parents)
		d.ghosts = append(d.ghosts, ghosts)
		d.sha1 = append(d.sha1, sum)
		d.names = append(d.names, name)
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "W" {
			return d, sc.Err()
		}
		if len(line) == 0 {
			return d, malformed("empty body line")
		}
		switch {
		case strings.HasPrefix(line, "{ "):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "{ "))
			if err != nil {
				return d, malformed("bad insertion-start index: " + line)
			}
			d.body = append(d.body, bodyEntry{Kind: bodyInsertStart, Vers: v})
		case strings.HasPrefix(line, "} "):
			d.body = append(d.body, bodyEntry{Kind: bodyInsertEnd})
		case strings.HasPrefix(line, "[ "):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "[ "))
			if err != nil {
				return d, malformed("bad deletion-start index: " + line)
			}
			d.body = append(d.body, bodyEntry{Kind: bodyDeleteStart, Vers: v})
		case strings.HasPrefix(line, "] "):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "] "))
			if err != nil {
				return d, malformed("bad deletion-end index: " + line)
			}
			d.body = append(d.body, bodyEntry{Kind: bodyDeleteEnd, Vers: v})
		case line[0] == '.' || line[0] == ',':
			eol := line[0] == '.'
			text := line[1:]
			if eol {
				text += "\n"
			}
			d.body = append(d.body, bodyEntry{Kind: bodyLine, Line: plumbing.Line(text), EOL: eol})
		default:
			return d, malformed("unrecognized body line: " + line)
		}
	}
	return d, malformed("missing end-of-weave marker")
}

func malformed(detail string) error {
	return plumbing.NewError(plumbing.KindMalformedFormat, "format.Decode", nil).WithDetail(detail)
}
