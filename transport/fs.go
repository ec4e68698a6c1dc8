package transport

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"

	"github.com/spindlevcs/spindle/plumbing"
)

// FS is a Transport backed by a go-billy filesystem, the same boundary
// go-git's storage/filesystem.Storage is built over. Construct one over
// billy/osfs.New(root) for real disk, or billy/memfs.New() for tests.
type FS struct {
	fs  billy.Filesystem
	url string
}

// NewFS wraps fs as a Transport. url is returned verbatim by ExternalURL.
func NewFS(fs billy.Filesystem, url string) *FS {
	return &FS{fs: fs, url: url}
}

func (t *FS) ExternalURL() string { return t.url }

func (t *FS) Get(path string) (ReadStream, error) {
	f, err := t.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotFoundError("transport.Get", path)
		}
		return nil, plumbing.NewError(plumbing.KindTransport, "transport.Get", err).WithDetail(path)
	}
	return f, nil
}

// PutFile replaces path atomically: write into a temp file in the same
// directory, then rename over the target. This is the
// "serialize → write temp → rename" pattern spec.md §4.1 and §5 require
// for every write, grounded on dotgit's PackWriter.save / TempFile+Rename
// idiom.
func (t *FS) PutFile(path string, r io.Reader, mode uint32) (err error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		_ = t.fs.MkdirAll(dir, 0o755)
	}

	tmp, err := t.fs.TempFile(dir, ".tmp-put-")
	if err != nil {
		return plumbing.NewError(plumbing.KindTransport, "transport.PutFile", err).WithDetail(path)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			_ = t.fs.Remove(tmpName)
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return plumbing.NewError(plumbing.KindTransport, "transport.PutFile", err).WithDetail(path)
	}
	if err = tmp.Close(); err != nil {
		return plumbing.NewError(plumbing.KindTransport, "transport.PutFile", err).WithDetail(path)
	}

	if mode != 0 {
		_ = t.fs.Chmod(path, os.FileMode(mode))
	}

	if err = t.fs.Rename(tmpName, path); err != nil {
		return plumbing.NewError(plumbing.KindTransport, "transport.PutFile", err).WithDetail(path)
	}
	return nil
}

func (t *FS) Append(path string, data []byte) error {
	f, err := t.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return plumbing.NewError(plumbing.KindTransport, "transport.Append", err).WithDetail(path)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return plumbing.NewError(plumbing.KindTransport, "transport.Append", err).WithDetail(path)
	}
	return nil
}

func (t *FS) Rename(from, to string) error {
	if _, err := t.fs.Stat(to); err == nil {
		return plumbing.NewError(plumbing.KindAlreadyPresent, "transport.Rename", nil).WithDetail(to)
	}
	if err := t.fs.Rename(from, to); err != nil {
		return plumbing.NewError(plumbing.KindTransport, "transport.Rename", err).WithDetail(from + " -> " + to)
	}
	return nil
}

func (t *FS) Mkdir(path string, mode uint32) error {
	if _, err := t.fs.Stat(path); err == nil {
		return plumbing.NewError(plumbing.KindAlreadyPresent, "transport.Mkdir", nil).WithDetail(path)
	}
	if err := t.fs.MkdirAll(path, os.FileMode(mode)); err != nil {
		return plumbing.NewError(plumbing.KindTransport, "transport.Mkdir", err).WithDetail(path)
	}
	return nil
}

func (t *FS) Delete(path string) error {
	if err := t.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return NotFoundError("transport.Delete", path)
		}
		return plumbing.NewError(plumbing.KindTransport, "transport.Delete", err).WithDetail(path)
	}
	return nil
}

func (t *FS) Stat(path string) (Info, error) {
	fi, err := t.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, NotFoundError("transport.Stat", path)
		}
		return Info{}, plumbing.NewError(plumbing.KindTransport, "transport.Stat", err).WithDetail(path)
	}
	k := KindFile
	if fi.IsDir() {
		k = KindDir
	}
	return Info{Size: fi.Size(), Kind: k}, nil
}

func (t *FS) ListDir(path string) ([]string, error) {
	entries, err := t.fs.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotFoundError("transport.ListDir", path)
		}
		return nil, plumbing.NewError(plumbing.KindTransport, "transport.ListDir", err).WithDetail(path)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names, nil
}

// ReadV batches a set of offset/length reads against one open descriptor,
// grounded on storage/filesystem/readerat's io.ReaderAt-over-one-fd style
// (validateHeader reads a header via ReadAt rather than Seek+Read).
func (t *FS) ReadV(path string, ranges []Range) ([]Chunk, error) {
	f, err := t.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NotFoundError("transport.ReadV", path)
		}
		return nil, plumbing.NewError(plumbing.KindTransport, "transport.ReadV", err).WithDetail(path)
	}
	defer f.Close()

	ra, ok := f.(io.ReaderAt)
	if !ok {
		return nil, plumbing.NewError(plumbing.KindTransport, "transport.ReadV", nil).
			WithDetail(path + ": file does not support random access")
	}

	out := make([]Chunk, len(ranges))
	for i, rg := range ranges {
		buf := make([]byte, rg.Length)
		if _, err := io.ReadFull(io.NewSectionReader(ra, rg.Offset, rg.Length), buf); err != nil {
			return nil, plumbing.NewError(plumbing.KindTransport, "transport.ReadV", err).
				WithDetail(path).WithOffset(rg.Offset)
		}
		out[i] = Chunk{Offset: rg.Offset, Data: buf}
	}
	return out, nil
}

// fsLock wraps a billy.File held open for Lock/Unlock, grounded on
// storage/filesystem's setRefRwfs f.Lock() pattern: the lock is released
// by Unlock, and Close is deferred by the caller to guarantee release.
type fsLock struct {
	f billy.File
}

func (l *fsLock) Unlock() error {
	_ = l.f.Unlock()
	return l.f.Close()
}

func (t *FS) LockRead(path string) (LockHandle, error) {
	f, err := t.fs.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, plumbing.NewError(plumbing.KindTransport, "transport.LockRead", err).WithDetail(path)
	}
	if err := f.Lock(); err != nil {
		_ = f.Close()
		return nil, plumbing.NewError(plumbing.KindLocked, "transport.LockRead", err).WithDetail(path)
	}
	return &fsLock{f: f}, nil
}

func (t *FS) LockWrite(path string) (LockHandle, error) {
	f, err := t.fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, plumbing.NewError(plumbing.KindTransport, "transport.LockWrite", err).WithDetail(path)
	}
	if err := f.Lock(); err != nil {
		_ = f.Close()
		return nil, plumbing.NewError(plumbing.KindLocked, "transport.LockWrite", err).WithDetail(path)
	}
	return &fsLock{f: f}, nil
}
