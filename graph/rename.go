package graph

import (
	"sort"

	"github.com/spindlevcs/spindle/internal/sha1cd"
	"github.com/spindlevcs/spindle/plumbing"
)

// hashModulus caps the signature table's memory footprint (spec.md
// §4.4.1 "Numeric policy. The hash modulus is fixed to cap memory."),
// resolved from original_source/ as exactly 10 * 2^20 (see SPEC_FULL.md).
const hashModulus = 10 * 1 << 20

// MissingFile is a file-id whose versioned path no longer exists on
// disk, paired with its last-known basis content.
type MissingFile struct {
	FileID plumbing.FileID
	Path   string
	Lines  plumbing.Lines
}

// CandidateFile is an unversioned path found on disk that might be one of
// the MissingFiles under a new name.
type CandidateFile struct {
	Path  string
	Lines plumbing.Lines
}

// RenameMatch pairs a candidate path with the missing file it most
// likely is.
type RenameMatch struct {
	Path   string
	FileID plumbing.FileID
	Score  float64
}

// RenamePlan is the output of GuessRenames: file matches plus any
// directory matches implied by them (spec.md §4.4.1 step 4).
type RenamePlan struct {
	Files       []RenameMatch
	Directories []RenameMatch
}

// signature maps a line-pair hash to the set of file-ids whose basis
// content produced it.
type signature map[uint32]map[plumbing.FileID]bool

// buildSignature computes, for every consecutive line pair in each
// missing file's content, `h = hash(line_n, line_n+1) mod M`, tagging
// each hash with the owning file-id (spec.md §4.4.1 step 1).
func buildSignature(missing []MissingFile) signature {
	sig := make(signature)
	for _, m := range missing {
		for i := 0; i+1 < len(m.Lines); i++ {
			h := pairHash(m.Lines[i], m.Lines[i+1])
			tags, ok := sig[h]
			if !ok {
				tags = make(map[plumbing.FileID]bool)
				sig[h] = tags
			}
			tags[m.FileID] = true
		}
	}
	return sig
}

// pairHash hashes two consecutive lines together, reusing the weave
// store's SHA-1 wrapper as the underlying hash primitive and folding the
// digest down into the fixed modulus.
func pairHash(a, b plumbing.Line) uint32 {
	h := sha1cd.New()
	h.Write(a)
	h.Write(b)
	sum := h.Sum(nil)
	var v uint32
	for _, digestByte := range sum[:4] {
		v = v<<8 | uint32(digestByte)
	}
	return v % hashModulus
}

// GuessRenames matches unversioned candidate files to missing versioned
// files by line-pair hash overlap, then recurses on the implied parent
// directories (spec.md §4.4.1).
func GuessRenames(missing []MissingFile, candidates []CandidateFile, missingDirs []MissingFile, candidateDirChildren map[string][]plumbing.FileID) RenamePlan {
	sig := buildSignature(missing)
	tagCount := make(map[uint32]int, len(sig))
	for h, tags := range sig {
		tagCount[h] = len(tags)
	}

	type scoredMatch struct {
		score  float64
		path   string
		fileID plumbing.FileID
	}
	var scored []scoredMatch

	for _, c := range candidates {
		scores := make(map[plumbing.FileID]float64)
		for i := 0; i+1 < len(c.Lines); i++ {
			h := pairHash(c.Lines[i], c.Lines[i+1])
			tags, ok := sig[h]
			if !ok {
				continue
			}
			weight := 1.0 / float64(tagCount[h])
			for fid := range tags {
				scores[fid] += weight
			}
		}
		for fid, score := range scores {
			scored = append(scored, scoredMatch{score: score, path: c.Path, fileID: fid})
		}
	}

	// Tie-break: score desc, then path asc, then file-id asc (spec.md
	// §4.4.1 "Numeric policy").
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].path != scored[j].path {
			return scored[i].path < scored[j].path
		}
		return scored[i].fileID < scored[j].fileID
	})

	usedPath := make(map[string]bool)
	usedFile := make(map[plumbing.FileID]bool)
	var plan RenamePlan
	for _, s := range scored {
		if usedPath[s.path] || usedFile[s.fileID] {
			continue
		}
		usedPath[s.path] = true
		usedFile[s.fileID] = true
		plan.Files = append(plan.Files, RenameMatch{Path: s.path, FileID: s.fileID, Score: s.score})
	}

	plan.Directories = guessDirectoryRenames(plan.Files, missingDirs, candidateDirChildren)
	return plan
}

// guessDirectoryRenames implements step 4: if the matched file paths
// imply the existence of missing parent directories, match those
// directories to missing parent directories by counting file-id overlap
// between children sets.
func guessDirectoryRenames(fileMatches []RenameMatch, missingDirs []MissingFile, candidateDirChildren map[string][]plumbing.FileID) []RenameMatch {
	if len(missingDirs) == 0 || len(candidateDirChildren) == 0 {
		return nil
	}

	type scoredDir struct {
		score float64
		path  string
		dirID plumbing.FileID
	}
	var scored []scoredDir

	for path, children := range candidateDirChildren {
		for _, d := range missingDirs {
			overlap := 0
			for _, c := range children {
				if usedInMatches(fileMatches, c) {
					overlap++
				}
			}
			if overlap == 0 {
				continue
			}
			scored = append(scored, scoredDir{score: float64(overlap), path: path, dirID: d.FileID})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		if scored[i].path != scored[j].path {
			return scored[i].path < scored[j].path
		}
		return scored[i].dirID < scored[j].dirID
	})

	usedPath := make(map[string]bool)
	usedDir := make(map[plumbing.FileID]bool)
	var out []RenameMatch
	for _, s := range scored {
		if usedPath[s.path] || usedDir[s.dirID] {
			continue
		}
		usedPath[s.path] = true
		usedDir[s.dirID] = true
		out = append(out, RenameMatch{Path: s.path, FileID: s.dirID, Score: s.score})
	}
	return out
}

func usedInMatches(matches []RenameMatch, fid plumbing.FileID) bool {
	for _, m := range matches {
		if m.FileID == fid {
			return true
		}
	}
	return false
}
