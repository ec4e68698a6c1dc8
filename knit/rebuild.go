package knit

import (
	"bytes"

	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/transport"
)

// Rebuild replays every version named in order (which must list parents
// before children) into a fresh index/data pair at the same paths,
// using authoritative as the parent list for each version instead of
// whatever the existing records say — the knit-format half of spec.md
// §4.3's reconciler. Versions in order that have no record in k are
// skipped, since a reconcile pass only ever repairs versions this file
// actually stores. The old index and data files are preserved as
// ".backup" before the rebuilt ones are published, matching the
// atomic-backup-then-swap discipline the weave reconciler uses.
func (k *Knit) Rebuild(order []plumbing.RevID, authoritative map[plumbing.RevID][]plumbing.RevID) (*Knit, error) {
	const op = "knit.Rebuild"

	tmpIndex := k.indexPath + ".rebuild"
	tmpData := k.dataPath + ".rebuild"

	fresh, err := Open(k.tr, k.fileID, tmpIndex, tmpData)
	if err != nil {
		return nil, err
	}

	for _, rev := range order {
		if !k.Has(rev) || fresh.Has(rev) {
			continue
		}
		lines, err := k.GetLines(rev)
		if err != nil {
			return nil, err
		}
		if _, _, err := fresh.AddLines(rev, authoritative[rev], lines); err != nil {
			return nil, err
		}
	}

	if err := copyFile(k.tr, op, k.indexPath, k.indexPath+".backup"); err != nil {
		return nil, err
	}
	if err := copyFile(k.tr, op, k.dataPath, k.dataPath+".backup"); err != nil {
		return nil, err
	}
	if err := copyFile(k.tr, op, tmpIndex, k.indexPath); err != nil {
		return nil, err
	}
	if err := copyFile(k.tr, op, tmpData, k.dataPath); err != nil {
		return nil, err
	}
	_ = k.tr.Delete(tmpIndex)
	_ = k.tr.Delete(tmpData)

	return Open(k.tr, k.fileID, k.indexPath, k.dataPath)
}

func copyFile(tr transport.Transport, op, from, to string) error {
	r, err := tr.Get(from)
	if err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(from)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(from)
	}
	if err := tr.PutFile(to, &buf, 0o644); err != nil {
		return plumbing.NewError(plumbing.KindTransport, op, err).WithDetail(to)
	}
	return nil
}
