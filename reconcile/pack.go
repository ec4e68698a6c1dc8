package reconcile

import (
	"github.com/spindlevcs/spindle/pack"
	"github.com/spindlevcs/spindle/transport"
)

// Pack repacks the records named in obsolete into a single corrected
// container and publishes it, moving the superseded pack files to
// obsolete_packs/ (spec.md §4.3 "Pack format ... no-op unless thorough;
// otherwise build a replacement pack from corrected records and publish
// it atomically, retiring the packs it supersedes"). Non-thorough runs
// are a no-op: pack corruption below the container boundary isn't
// detectable without fully unpacking every record, which only thorough
// mode pays for.
func Pack(tr transport.Transport, obsolete []string, corrected []pack.Record, thorough bool) (Report, error) {
	if !thorough || len(corrected) == 0 {
		return Report{}, nil
	}

	replacement := pack.Build(corrected)
	if err := pack.Compact(tr, obsolete, replacement); err != nil {
		return Report{}, err
	}
	return Report{BadFirstParent: len(obsolete)}, nil
}
