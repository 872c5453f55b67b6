package vfs

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestMemFSCreateReadWrite(t *testing.T) {
	c := qt.New(t)
	fs := NewMemFS(1000, 1000)

	_, f, err := fs.Create(fs.Root(), "hello.txt", 0, 0o644, 1000)
	c.Assert(err, qt.IsNil)

	n, err := fs.Write(f, []byte("hello world"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 11)

	buf := make([]byte, 32)
	n, err = fs.Read(f, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf[:n]), qt.Equals, "hello world")
}

func TestMemFSMkdirLookupAndParent(t *testing.T) {
	c := qt.New(t)
	fs := NewMemFS(1000, 1000)

	dir, err := fs.Mkdir(fs.Root(), "sub", 0o755, 1000)
	c.Assert(err, qt.IsNil)

	got, err := fs.LookupOne(fs.Root(), "sub")
	c.Assert(err, qt.IsNil)
	c.Assert(got.String(), qt.Equals, dir.String())

	c.Assert(fs.Parent(dir).String(), qt.Equals, fs.Root().String())
	c.Assert(fs.Parent(fs.Root()).String(), qt.Equals, fs.Root().String())
}

func TestMemFSRename(t *testing.T) {
	c := qt.New(t)
	fs := NewMemFS(1000, 1000)

	a, err := fs.Mkdir(fs.Root(), "a", 0o755, 1000)
	c.Assert(err, qt.IsNil)
	b, err := fs.Mkdir(fs.Root(), "b", 0o755, 1000)
	c.Assert(err, qt.IsNil)

	_, _, err = fs.Create(a, "f", 0, 0o644, 1000)
	c.Assert(err, qt.IsNil)

	moved, err := fs.Rename(mustLookup(c, fs, a, "f"), b, "g")
	c.Assert(err, qt.IsNil)

	_, err = fs.LookupOne(a, "f")
	c.Assert(err, qt.Not(qt.IsNil))
	got, err := fs.LookupOne(b, "g")
	c.Assert(err, qt.IsNil)
	c.Assert(got.String(), qt.Equals, moved.String())
}

func mustLookup(c *qt.C, fs *MemFS, parent Path, name string) Path {
	p, err := fs.LookupOne(parent, name)
	c.Assert(err, qt.IsNil)
	return p
}

func TestMemFSIterateDirSyntheticDotDotDot(t *testing.T) {
	c := qt.New(t)
	fs := NewMemFS(1000, 1000)

	_, err := fs.Mkdir(fs.Root(), "child", 0o755, 1000)
	c.Assert(err, qt.IsNil)

	f, err := fs.Open(fs.Root(), 0)
	c.Assert(err, qt.IsNil)

	var names []string
	err = fs.IterateDir(f, 0, func(e DirEntry) bool {
		names = append(names, e.Name)
		return false
	})
	c.Assert(err, qt.IsNil)
	c.Assert(names, qt.DeepEquals, []string{".", "..", "child"})
}

func TestMemFSIterateDirResume(t *testing.T) {
	c := qt.New(t)
	fs := NewMemFS(1000, 1000)
	_, err := fs.Mkdir(fs.Root(), "child", 0o755, 1000)
	c.Assert(err, qt.IsNil)

	f, err := fs.Open(fs.Root(), 0)
	c.Assert(err, qt.IsNil)

	var first []DirEntry
	err = fs.IterateDir(f, 0, func(e DirEntry) bool {
		first = append(first, e)
		return true // stop after the first entry
	})
	c.Assert(err, qt.IsNil)
	c.Assert(len(first), qt.Equals, 1)

	var rest []string
	err = fs.IterateDir(f, first[0].Offset, func(e DirEntry) bool {
		rest = append(rest, e.Name)
		return false
	})
	c.Assert(err, qt.IsNil)
	c.Assert(rest, qt.DeepEquals, []string{"..", "child"})
}

func TestMemFSResolveRenameTarget(t *testing.T) {
	c := qt.New(t)
	fs := NewMemFS(1000, 1000)

	_, _, err := fs.Create(fs.Root(), "f", 0, 0o644, 1000)
	c.Assert(err, qt.IsNil)
	f := mustLookup(c, fs, fs.Root(), "f")

	// "../g" from the file resolves to a not-yet-existing sibling.
	parent, name, err := fs.ResolveRenameTarget(f, "../g")
	c.Assert(err, qt.IsNil)
	c.Assert(parent.String(), qt.Equals, fs.Root().String())
	c.Assert(name, qt.Equals, "g")

	// Intermediate components must exist.
	_, _, err = fs.ResolveRenameTarget(fs.Root(), "missing/g")
	c.Assert(err, qt.Not(qt.IsNil))

	// An empty target is invalid.
	_, _, err = fs.ResolveRenameTarget(fs.Root(), "")
	c.Assert(err, qt.Not(qt.IsNil))
}

func TestMemFSSymlinkReadlink(t *testing.T) {
	c := qt.New(t)
	fs := NewMemFS(1000, 1000)

	link, err := fs.Symlink(fs.Root(), "l", "target", 1000)
	c.Assert(err, qt.IsNil)
	target, err := fs.Readlink(link)
	c.Assert(err, qt.IsNil)
	c.Assert(target, qt.Equals, "target")
}
