// Package config reads the repository-level tunables spec.md §9's
// "Global mutable state" design note asks to be threaded explicitly
// rather than kept in package-level vars: delta-chain threshold,
// rename-detection hash modulus, the pack-GC opt-in flag, and the
// default storage format for newly created weave/knit files.
package config

import (
	"io"
	"strconv"

	"github.com/go-git/gcfg/v2"

	"github.com/spindlevcs/spindle/knit"
	"github.com/spindlevcs/spindle/plumbing"
)

// StorageFormat names which backing format new file histories use.
type StorageFormat int

const (
	FormatWeave StorageFormat = iota
	FormatKnit
)

// Environment bundles every repository-wide tunable, grounded on
// go-git's storage/filesystem.Options plain-struct-of-options shape:
// an explicit value threaded by the caller, not a package-level var.
type Environment struct {
	MaxDeltaChain     int
	RenameHashModulus uint32
	ReconcilePackGC   bool
	DefaultFormat     StorageFormat
}

// DefaultEnvironment returns the tunables a repository uses when no
// spindle.conf is present or a setting is unspecified.
func DefaultEnvironment() Environment {
	return Environment{
		MaxDeltaChain:     knit.DefaultMaxDeltaChain,
		RenameHashModulus: 10 * 1 << 20,
		ReconcilePackGC:   false,
		DefaultFormat:     FormatKnit,
	}
}

// Load decodes an ini-style spindle.conf, overlaying any settings it
// finds onto DefaultEnvironment(). Recognized sections/keys:
//
//	[core]
//	    maxDeltaChain = 25
//	    renameHashModulus = 10485760
//	    defaultFormat = knit | weave
//	[reconcile]
//	    packGC = true | false
//
// Unrecognized sections or keys are ignored rather than rejected, since
// a config file is allowed to carry settings for tooling layered on top
// of this core.
func Load(r io.Reader) (Environment, error) {
	const op = "config.Load"
	env := DefaultEnvironment()

	cb := func(section, subsection, key, value string, _ bool) error {
		switch {
		case section == "core" && key == "maxdeltachain":
			n, err := strconv.Atoi(value)
			if err != nil {
				return plumbing.NewError(plumbing.KindMalformedFormat, op, err).WithDetail("maxDeltaChain: " + value)
			}
			env.MaxDeltaChain = n
		case section == "core" && key == "renamehashmodulus":
			n, err := strconv.Atoi(value)
			if err != nil {
				return plumbing.NewError(plumbing.KindMalformedFormat, op, err).WithDetail("renameHashModulus: " + value)
			}
			env.RenameHashModulus = uint32(n)
		case section == "core" && key == "defaultformat":
			switch value {
			case "weave":
				env.DefaultFormat = FormatWeave
			case "knit":
				env.DefaultFormat = FormatKnit
			default:
				return plumbing.NewError(plumbing.KindMalformedFormat, op, nil).
					WithDetail("unrecognized defaultFormat: " + value)
			}
		case section == "reconcile" && key == "packgc":
			env.ReconcilePackGC = value == "true"
		}
		return nil
	}

	if err := gcfg.ReadWithCallback(r, cb); err != nil {
		return Environment{}, plumbing.NewError(plumbing.KindMalformedFormat, op, err).
			WithDetail("spindle.conf")
	}
	return env, nil
}
