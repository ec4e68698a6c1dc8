// Package lock implements the per-handle refcounted locking discipline of
// spec.md §5: read locks permit multiple concurrent holders, write locks
// are exclusive, acquisitions nest per handle, and a write lock implicitly
// grants read access to its own holder. It is a thin layer over
// transport.Transport's LockRead/LockWrite, grounded on go-git's
// dotgit_setref.go f.Lock()/defer-Close guard pattern generalized to be
// refcounted instead of single-shot.
package lock

import (
	"sync"

	"github.com/spindlevcs/spindle/internal/trace"
	"github.com/spindlevcs/spindle/plumbing"
	"github.com/spindlevcs/spindle/transport"
)

// Handle is one repository handle's view of the lock on a single named
// resource (a weave file, a knit index, the repository-wide write lock).
// It is not safe for concurrent use by multiple goroutines sharing the
// same logical handle — spec.md §5 states the core is single-threaded per
// handle.
type Handle struct {
	t    transport.Transport
	path string

	mu         sync.Mutex
	writeCount int
	writeGuard transport.LockHandle
	readCount  int
	readGuard  transport.LockHandle
}

// New returns a lock Handle for path, not yet acquired.
func New(t transport.Transport, path string) *Handle {
	return &Handle{t: t, path: path}
}

// LockWrite acquires (or re-enters, if already held by this handle) the
// exclusive write lock. The returned release func must be called exactly
// once, typically via defer, to drop this acquisition.
func (h *Handle) LockWrite() (release func() error, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.writeCount == 0 {
		guard, err := h.t.LockWrite(h.path)
		if err != nil {
			return nil, err
		}
		h.writeGuard = guard
		trace.Lock.Printf("write-lock acquired: %s", h.path)
	}
	h.writeCount++

	released := false
	return func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if released {
			return nil
		}
		released = true
		h.writeCount--
		if h.writeCount > 0 {
			return nil
		}
		guard := h.writeGuard
		h.writeGuard = nil
		trace.Lock.Printf("write-lock released: %s", h.path)
		return guard.Unlock()
	}, nil
}

// LockRead acquires (or re-enters) a shared read lock. Per spec.md §5, a
// write lock already held by this handle implicitly grants read access,
// so while a write lock is outstanding LockRead returns a no-op release
// without touching the read refcount or acquiring a transport lock.
func (h *Handle) LockRead() (release func() error, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.writeCount > 0 {
		// Implicitly granted; nothing to release independently.
		return func() error { return nil }, nil
	}

	if h.readCount == 0 {
		guard, err := h.t.LockRead(h.path)
		if err != nil {
			return nil, err
		}
		h.readGuard = guard
		trace.Lock.Printf("read-lock acquired: %s", h.path)
	}
	h.readCount++

	released := false
	return func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if released {
			return nil
		}
		released = true
		h.readCount--
		if h.readCount > 0 {
			return nil
		}
		guard := h.readGuard
		h.readGuard = nil
		trace.Lock.Printf("read-lock released: %s", h.path)
		if guard == nil {
			return nil
		}
		return guard.Unlock()
	}, nil
}

// MustHoldWrite returns a KindNotLocked *plumbing.Error if the handle does
// not currently hold the write lock. Used by operations spec.md §5
// requires a write lock for (append, reconcile).
func (h *Handle) MustHoldWrite(op string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeCount == 0 {
		return plumbing.NewError(plumbing.KindNotLocked, op, nil).WithDetail(h.path)
	}
	return nil
}
