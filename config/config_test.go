package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spindlevcs/spindle/knit"
)

func TestDefaultEnvironment(t *testing.T) {
	env := DefaultEnvironment()
	require.Equal(t, knit.DefaultMaxDeltaChain, env.MaxDeltaChain)
	require.Equal(t, uint32(10*1<<20), env.RenameHashModulus)
	require.False(t, env.ReconcilePackGC)
	require.Equal(t, FormatKnit, env.DefaultFormat)
}

func TestLoadOverlaysRecognizedKeys(t *testing.T) {
	src := `
[core]
	maxDeltaChain = 40
	renameHashModulus = 1024
	defaultFormat = weave
[reconcile]
	packGC = true
`
	env, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, 40, env.MaxDeltaChain)
	require.Equal(t, uint32(1024), env.RenameHashModulus)
	require.Equal(t, FormatWeave, env.DefaultFormat)
	require.True(t, env.ReconcilePackGC)
}

func TestLoadIgnoresUnrecognizedSectionsAndKeys(t *testing.T) {
	src := `
[core]
	maxDeltaChain = 12
[tooling]
	somethingElse = yes
`
	env, err := Load(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, 12, env.MaxDeltaChain)
	// Untouched settings still carry their defaults.
	require.Equal(t, uint32(10*1<<20), env.RenameHashModulus)
}

func TestLoadRejectsMalformedIntegerValue(t *testing.T) {
	src := `
[core]
	maxDeltaChain = notanumber
`
	_, err := Load(strings.NewReader(src))
	require.Error(t, err)
}

func TestLoadRejectsUnrecognizedDefaultFormat(t *testing.T) {
	src := `
[core]
	defaultFormat = carbonite
`
	_, err := Load(strings.NewReader(src))
	require.Error(t, err)
}

func TestLoadEmptyInputYieldsDefaults(t *testing.T) {
	env, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, DefaultEnvironment(), env)
}
