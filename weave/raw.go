package weave

import "github.com/spindlevcs/spindle/plumbing"

// RawBodyKind mirrors entryKind for callers outside this package (the
// on-disk format encoder) that need to walk the body without reaching
// into unexported fields.
type RawBodyKind uint8

const (
	RawLine RawBodyKind = iota
	RawInsertStart
	RawInsertEnd
	RawDeleteStart
	RawDeleteEnd
)

// RawBodyEntry is one exported view of a body entry.
type RawBodyEntry struct {
	Kind RawBodyKind
	Vers int
	Line plumbing.Line
	EOL  bool
}

// RawVersion is one version's header fields, exported for serialization.
type RawVersion struct {
	Name    plumbing.RevID
	SHA1    string
	Parents []int             // resolved internal indices, ascending input order
	Ghosts  []plumbing.RevID  // unresolved parent names
}

// Dump exposes the weave's full internal state for serialization by
// package format. It is the only sanctioned way outside this package to
// see a Weave's body/parent representation.
func (w *Weave) Dump() (versions []RawVersion, body []RawBodyEntry) {
	versions = make([]RawVersion, len(w.names))
	for v, name := range w.names {
		rv := RawVersion{Name: name, SHA1: w.sha1[v]}
		for _, r := range w.parents[v] {
			if r.idx >= 0 {
				rv.Parents = append(rv.Parents, r.idx)
			} else {
				rv.Ghosts = append(rv.Ghosts, r.name)
			}
		}
		versions[v] = rv
	}

	body = make([]RawBodyEntry, len(w.body))
	for i, e := range w.body {
		body[i] = RawBodyEntry{Kind: RawBodyKind(e.kind), Vers: e.vers, Line: e.line, EOL: e.eol}
	}
	return versions, body
}

// Load reconstructs a Weave from a prior Dump, without replaying
// AddVersion (and therefore without recomputing any diffs) — used by
// package format when decoding a weave file from disk.
func Load(fileID plumbing.FileID, versions []RawVersion, body []RawBodyEntry) *Weave {
	w := New(fileID)
	for v, rv := range versions {
		w.names = append(w.names, rv.Name)
		w.sha1 = append(w.sha1, rv.SHA1)
		w.nameIndex[rv.Name] = v

		refs := make([]parentRef, 0, len(rv.Parents)+len(rv.Ghosts))
		for _, p := range rv.Parents {
			refs = append(refs, parentRef{idx: p, name: versions[p].Name})
		}
		for _, g := range rv.Ghosts {
			refs = append(refs, parentRef{idx: -1, name: g})
		}
		w.parents = append(w.parents, refs)
	}

	w.body = make([]entry, len(body))
	for i, e := range body {
		w.body[i] = entry{kind: entryKind(e.Kind), vers: e.Vers, line: e.Line, eol: e.EOL}
	}
	return w
}
