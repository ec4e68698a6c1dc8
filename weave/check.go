package weave

import (
	"github.com/spindlevcs/spindle/internal/sha1cd"
	"github.com/spindlevcs/spindle/plumbing"
)

// CheckReport is the result of Check(): every invariant violation found,
// without stopping at the first one, so a caller (typically the
// reconciler) can report a complete picture.
type CheckReport struct {
	ChecksumMismatches []plumbing.RevID
	BadParentOrder     []plumbing.RevID
	Malformed          []string // free-form structural defect descriptions
}

// OK reports whether no defects were found.
func (r *CheckReport) OK() bool {
	return len(r.ChecksumMismatches) == 0 && len(r.BadParentOrder) == 0 && len(r.Malformed) == 0
}

// Check verifies every version's SHA-1, the insertion/deletion nesting
// invariants, and that every parent index precedes its child (spec.md
// §4.1 "check"). It never returns a fatal error for a per-version
// checksum mismatch — those are collected in the report, matching
// spec.md §7's "Ghost errors are recoverable in reconcile" posture
// extended to this read-only diagnostic.
func (w *Weave) Check() (*CheckReport, error) {
	report := &CheckReport{}

	if err := w.checkStructure(report); err != nil {
		return report, err
	}

	for v := range w.names {
		for _, p := range w.resolvedParents(v) {
			if p >= v {
				report.BadParentOrder = append(report.BadParentOrder, w.names[v])
				break
			}
		}
	}

	for v, rev := range w.names {
		lines, err := w.extractVersion("weave.Check", v)
		if err != nil {
			report.Malformed = append(report.Malformed, err.Error())
			continue
		}
		measured := sha1cd.SumLines(toByteSlices(lines))
		if measured != w.sha1[v] {
			report.ChecksumMismatches = append(report.ChecksumMismatches, rev)
		}
	}

	return report, nil
}

// checkStructure replays the full (unfiltered) insertion/deletion state
// machine spec.md §4.1 describes: push/pop on InsertStart/End, add/remove
// on DeleteStart/End, with the terminal condition that both are empty at
// end-of-weave. Any violation is reported, not panicked — matching
// spec.md §7 "Parser errors are fatal" only for genuinely unreadable
// bytes, not structural soft-defects a reconcile might still explain.
func (w *Weave) checkStructure(report *CheckReport) error {
	var istack []int
	dset := make(map[int]bool)

	for _, e := range w.body {
		switch e.kind {
		case entryInsertStart:
			istack = append(istack, e.vers)
		case entryInsertEnd:
			if len(istack) == 0 {
				report.Malformed = append(report.Malformed, "insertion end with no matching start")
				continue
			}
			istack = istack[:len(istack)-1]
		case entryDeleteStart:
			if dset[e.vers] {
				report.Malformed = append(report.Malformed, "duplicate open deletion for same version")
				continue
			}
			dset[e.vers] = true
		case entryDeleteEnd:
			if !dset[e.vers] {
				report.Malformed = append(report.Malformed, "deletion end with no matching start")
				continue
			}
			delete(dset, e.vers)
		}
	}

	if len(istack) != 0 {
		report.Malformed = append(report.Malformed, "unclosed insertion blocks at end of weave")
	}
	if len(dset) != 0 {
		report.Malformed = append(report.Malformed, "unclosed deletion blocks at end of weave")
	}
	return nil
}
