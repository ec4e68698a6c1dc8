// Package transport defines the I/O boundary the storage core depends on
// (spec.md §6). The core never touches a filesystem, socket, or byte
// buffer directly; every read, write, and lock goes through a Transport.
package transport

import (
	"io"

	"github.com/spindlevcs/spindle/plumbing"
)

// Kind distinguishes a regular file from a directory in Stat results.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

// Info is the result of a Stat call.
type Info struct {
	Size int64
	Kind Kind
}

// Range is one (offset, length) request for a batched random read.
type Range struct {
	Offset int64
	Length int64
}

// Chunk is one batched-read result, the bytes found at Offset.
type Chunk struct {
	Offset int64
	Data   []byte
}

// ReadStream is an open readable handle. Callers must Close it.
type ReadStream interface {
	io.Reader
	io.Closer
}

// LockHandle is a scoped lock acquisition; Unlock releases it exactly
// once. A LockHandle must guarantee release on every exit path, including
// panics recovered higher up the stack — callers are expected to use
// `defer handle.Unlock()` immediately after a successful acquisition.
type LockHandle interface {
	Unlock() error
}

// Transport abstracts all I/O performed by the storage core (spec.md §6).
// Implementations exist for real disk (FS, backed by go-billy) and for
// tests (go-billy's memfs, via the same FS wrapper).
type Transport interface {
	// Get opens path for reading. Fails with plumbing.KindNotFound or
	// plumbing.KindTransport.
	Get(path string) (ReadStream, error)

	// PutFile atomically replaces the content at path with the bytes
	// read from r.
	PutFile(path string, r io.Reader, mode uint32) error

	// Append atomically appends data to the file at path, creating it
	// if absent.
	Append(path string, data []byte) error

	// Rename is atomic; it fails if the target already exists.
	Rename(from, to string) error

	// Mkdir fails if path already exists.
	Mkdir(path string, mode uint32) error

	// Delete fails with plumbing.KindNotFound if path is absent.
	Delete(path string) error

	// Stat returns size and kind for path.
	Stat(path string) (Info, error)

	// ListDir lists the entry names directly under path.
	ListDir(path string) ([]string, error)

	// ReadV performs a batched random read: ranges are resolved against
	// one open file descriptor and returned in request order.
	ReadV(path string, ranges []Range) ([]Chunk, error)

	// LockRead acquires a scoped shared-read lock on path. Multiple
	// readers may coexist.
	LockRead(path string) (LockHandle, error)

	// LockWrite acquires a scoped exclusive lock on path. Fails with
	// plumbing.KindLocked if another write lock is already held.
	LockWrite(path string) (LockHandle, error)

	// ExternalURL returns an opaque identifier for diagnostics (e.g. a
	// root path or URL), never parsed by the core.
	ExternalURL() string
}

// NotFoundError is a convenience constructor for the common Get/Delete
// failure.
func NotFoundError(op, path string) error {
	return plumbing.NewError(plumbing.KindNotFound, op, nil).WithDetail(path)
}
