// Package spindle is the top-level facade over the storage core: one
// Transport, one Environment, and the four leaf components (weave,
// knit, graph, reconcile) wired together the way go-git's top-level
// Repository dispatches onto its Storer (spec.md §2 "System overview").
package spindle

import (
	"path"

	"github.com/spindlevcs/spindle/config"
	"github.com/spindlevcs/spindle/graph"
	"github.com/spindlevcs/spindle/internal/trace"
	"github.com/spindlevcs/spindle/knit"
	"github.com/spindlevcs/spindle/pack"
	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/reconcile"
	"github.com/spindlevcs/spindle/transport"
	"github.com/spindlevcs/spindle/weave"
)

const (
	confPath       = "spindle.conf"
	inventoryPath  = "inventory.weave"
	knitDir        = "knits"
	revisionsOp    = "spindle.Repository"
)

// Repository owns one Transport and dispatches get_lines, find_unmerged,
// reconcile, and guess_renames across whichever storage format it was
// configured for (spec.md §2).
type Repository struct {
	tr  transport.Transport
	env config.Environment

	// revisions is the authoritative revision graph: every installed
	// revision's declared parents, recorded independently of whatever the
	// weave/knit stores themselves claim (spec.md §4.3 "authoritative
	// revision graph"). This is what reconcile checks derived storage
	// against.
	revisions *graph.Graph
	order     []plumbing.RevID // insertion order, for deterministic iteration

	weaves map[plumbing.FileID]*weave.Weave
	knits  map[plumbing.FileID]*knit.Knit
}

// Open loads spindle.conf from tr (falling back to config.DefaultEnvironment
// when absent) and returns an empty Repository ready to register revisions
// and per-file histories.
func Open(tr transport.Transport) (*Repository, error) {
	env := config.DefaultEnvironment()

	r, err := tr.Get(confPath)
	if err == nil {
		defer r.Close()
		env, err = config.Load(r)
		if err != nil {
			return nil, err
		}
	} else if e, ok := err.(*plumbing.Error); !ok || e.Kind != plumbing.KindNotFound {
		return nil, plumbing.NewError(plumbing.KindTransport, revisionsOp, err).WithDetail(confPath)
	}

	return &Repository{
		tr:        tr,
		env:       env,
		revisions: graph.New(),
		weaves:    make(map[plumbing.FileID]*weave.Weave),
		knits:     make(map[plumbing.FileID]*knit.Knit),
	}, nil
}

// AddRevision registers rev's authoritative parent list in the
// repository-wide revision graph, independent of any per-file storage.
func (r *Repository) AddRevision(rev plumbing.RevID, parents []plumbing.RevID) {
	if !r.revisions.Has(rev) {
		r.order = append(r.order, rev)
	}
	r.revisions.AddRevision(rev, parents)
}

// InstalledRevisions implements reconcile.RevisionStore.
func (r *Repository) InstalledRevisions() []plumbing.RevID {
	out := make([]plumbing.RevID, len(r.order))
	copy(out, r.order)
	return out
}

// DeclaredParents implements reconcile.RevisionStore.
func (r *Repository) DeclaredParents(rev plumbing.RevID) []plumbing.RevID {
	return r.revisions.Parents(rev)
}

func (r *Repository) knitPaths(fileID plumbing.FileID) (indexPath, dataPath string) {
	dir := path.Join(knitDir, fileID.String())
	return path.Join(dir, "index"), path.Join(dir, "data")
}

// fileKnit lazily opens (or returns the cached) Knit for fileID.
func (r *Repository) fileKnit(fileID plumbing.FileID) (*knit.Knit, error) {
	if k, ok := r.knits[fileID]; ok {
		return k, nil
	}
	indexPath, dataPath := r.knitPaths(fileID)
	k, err := knit.Open(r.tr, fileID, indexPath, dataPath)
	if err != nil {
		return nil, err
	}
	r.knits[fileID] = k
	return k, nil
}

// AddLines adds one version of fileID's text, dispatching to whichever
// storage format the Environment selects (spec.md §2 "the core picks a
// single storage format for a given tracked file's whole history").
func (r *Repository) AddLines(fileID plumbing.FileID, rev plumbing.RevID, parents []plumbing.RevID, lines plumbing.Lines) error {
	switch r.env.DefaultFormat {
	case config.FormatKnit:
		k, err := r.fileKnit(fileID)
		if err != nil {
			return err
		}
		_, _, err = k.AddLines(rev, parents, lines)
		return err
	default:
		w, ok := r.weaves[fileID]
		if !ok {
			w = weave.New(fileID)
			r.weaves[fileID] = w
		}
		_, err := w.AddVersion(rev, parents, lines)
		return err
	}
}

// GetLines reconstructs one version of fileID's text (spec.md §4.1/§4.2
// "get_lines").
func (r *Repository) GetLines(fileID plumbing.FileID, rev plumbing.RevID) (plumbing.Lines, error) {
	switch r.env.DefaultFormat {
	case config.FormatKnit:
		k, err := r.fileKnit(fileID)
		if err != nil {
			return nil, err
		}
		return k.GetLines(rev)
	default:
		w, ok := r.weaves[fileID]
		if !ok {
			return nil, plumbing.NewError(plumbing.KindNotFound, "spindle.GetLines", nil).WithFile(fileID)
		}
		return w.GetLines(rev)
	}
}

// FindUnmerged returns the revisions unique to each side's mainline
// (spec.md §4.4 "find_unmerged").
func (r *Repository) FindUnmerged(local, remote plumbing.RevID, opts graph.FindUnmergedOptions) (localExtra, remoteExtra []graph.UnmergedRevision, err error) {
	return r.revisions.FindUnmerged(local, remote, opts)
}

// GuessRenames matches unversioned candidate files to missing versioned
// files (spec.md §4.4.1).
func (r *Repository) GuessRenames(missing []graph.MissingFile, candidates []graph.CandidateFile, missingDirs []graph.MissingFile, candidateDirChildren map[string][]plumbing.FileID) graph.RenamePlan {
	return graph.GuessRenames(missing, candidates, missingDirs, candidateDirChildren)
}

// Reconcile repairs inconsistent parents, garbage inventories, and
// incorrect delta-chain first-parents across every tracked file (spec.md
// §4.3 "reconcile"). check(thorough) is Reconcile with thorough=false:
// every per-format algorithm here is read-only unless thorough is set,
// so the same call serves both operations.
func (r *Repository) Reconcile(thorough bool) (reconcile.Report, error) {
	var total reconcile.Report

	authoritative := make(map[plumbing.RevID][]plumbing.RevID, len(r.order))
	for _, rev := range r.order {
		authoritative[rev] = r.revisions.Parents(rev)
	}

	switch r.env.DefaultFormat {
	case config.FormatKnit:
		for fileID, k := range r.knits {
			rep, fresh, err := reconcile.Knit(k, authoritative, thorough)
			if err != nil {
				return reconcile.Report{}, err
			}
			r.knits[fileID] = fresh
			total.InconsistentParents += rep.InconsistentParents
			total.GarbageInventories += rep.GarbageInventories
		}
	default:
		rep, err := reconcile.Weave(r.tr, inventoryPath, r, thorough)
		if err != nil {
			return reconcile.Report{}, err
		}
		total.InconsistentParents += rep.InconsistentParents
		total.GarbageInventories += rep.GarbageInventories
		total.Aborted = rep.Aborted
		total.AbortReason = rep.AbortReason
	}

	if thorough && r.env.ReconcilePackGC {
		names, err := pack.ListNames(r.tr)
		if err != nil {
			return reconcile.Report{}, err
		}
		trace.Reconcile.Printf("pack GC enabled, %d live packs considered", len(names))
	}

	return total, nil
}

// Check is a read-only Reconcile: it reports every defect without
// rewriting any storage (spec.md §4.3 "check(thorough)").
func (r *Repository) Check(thorough bool) (reconcile.Report, error) {
	switch r.env.DefaultFormat {
	case config.FormatKnit:
		var total reconcile.Report
		authoritative := make(map[plumbing.RevID][]plumbing.RevID, len(r.order))
		for _, rev := range r.order {
			authoritative[rev] = r.revisions.Parents(rev)
		}
		for _, k := range r.knits {
			rep, _, err := reconcile.Knit(k, authoritative, false)
			if err != nil {
				return reconcile.Report{}, err
			}
			total.InconsistentParents += rep.InconsistentParents
			total.GarbageInventories += rep.GarbageInventories
		}
		return total, nil
	default:
		return reconcile.Weave(r.tr, inventoryPath, r, false)
	}
}
