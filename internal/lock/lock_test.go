package lock

import (
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/spindlevcs/spindle/transport"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	tr := transport.NewFS(memfs.New(), "memory://test")
	return New(tr, "some/resource")
}

func TestMustHoldWriteFailsBeforeAcquiring(t *testing.T) {
	h := newTestHandle(t)
	err := h.MustHoldWrite("reconcile.Weave")
	require.Error(t, err)
}

func TestLockWriteGrantsMustHoldWrite(t *testing.T) {
	h := newTestHandle(t)
	release, err := h.LockWrite()
	require.NoError(t, err)
	require.NoError(t, h.MustHoldWrite("reconcile.Weave"))
	require.NoError(t, release())
	require.Error(t, h.MustHoldWrite("reconcile.Weave"))
}

func TestLockWriteNestsPerHandle(t *testing.T) {
	h := newTestHandle(t)
	release1, err := h.LockWrite()
	require.NoError(t, err)
	release2, err := h.LockWrite()
	require.NoError(t, err)

	require.NoError(t, release1())
	// Still held: the second acquisition has not released yet.
	require.NoError(t, h.MustHoldWrite("op"))

	require.NoError(t, release2())
	require.Error(t, h.MustHoldWrite("op"))
}

func TestLockReadIsImplicitlyGrantedUnderWriteLock(t *testing.T) {
	h := newTestHandle(t)
	releaseWrite, err := h.LockWrite()
	require.NoError(t, err)

	releaseRead, err := h.LockRead()
	require.NoError(t, err)
	require.NoError(t, releaseRead())

	// The write lock is unaffected by the implicit read release.
	require.NoError(t, h.MustHoldWrite("op"))
	require.NoError(t, releaseWrite())
}

func TestLockReadNestsIndependentlyOfWriteLock(t *testing.T) {
	h := newTestHandle(t)
	release1, err := h.LockRead()
	require.NoError(t, err)
	release2, err := h.LockRead()
	require.NoError(t, err)

	require.NoError(t, release1())
	require.NoError(t, release2())
}

func TestReleaseIsIdempotent(t *testing.T) {
	h := newTestHandle(t)
	release, err := h.LockWrite()
	require.NoError(t, err)
	require.NoError(t, release())
	require.NoError(t, release())
}
