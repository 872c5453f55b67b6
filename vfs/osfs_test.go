package vfs

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
)

func newTestOSFS(c *qt.C) *OSFS {
	dir := c.TempDir()
	fs, err := NewOSFS(dir)
	c.Assert(err, qt.IsNil)
	return fs
}

func TestOSFSCreateReadWrite(t *testing.T) {
	c := qt.New(t)
	fs := newTestOSFS(c)

	_, f, err := fs.Create(fs.Root(), "hello.txt", uint32(os.O_RDWR), 0o644, 0)
	c.Assert(err, qt.IsNil)
	defer fs.Close(f)

	n, err := fs.Write(f, []byte("hi there"), 0)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, 8)

	buf := make([]byte, 32)
	n, err = fs.Read(f, buf, 0)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf[:n]), qt.Equals, "hi there")
}

func TestOSFSMkdirAndLookup(t *testing.T) {
	c := qt.New(t)
	fs := newTestOSFS(c)

	dir, err := fs.Mkdir(fs.Root(), "sub", 0o755, 0)
	c.Assert(err, qt.IsNil)

	got, err := fs.LookupOne(fs.Root(), "sub")
	c.Assert(err, qt.IsNil)
	c.Assert(got.String(), qt.Equals, dir.String())

	attr, err := fs.GetAttr(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(attr.IsDir(), qt.IsTrue)
}

func TestOSFSRootEscapeRejected(t *testing.T) {
	c := qt.New(t)
	fs := newTestOSFS(c)

	_, err := fs.LookupOne(fs.Root(), "..")
	c.Assert(err, qt.IsNil) // ".." from root clamps to root, never escapes
	root, _ := fs.LookupOne(fs.Root(), "..")
	c.Assert(root.String(), qt.Equals, fs.Root().String())
}

func TestOSFSIterateDirSynthesizesDotDot(t *testing.T) {
	c := qt.New(t)
	fs := newTestOSFS(c)
	_, err := fs.Mkdir(fs.Root(), "child", 0o755, 0)
	c.Assert(err, qt.IsNil)

	f, err := fs.Open(fs.Root(), uint32(os.O_RDONLY))
	c.Assert(err, qt.IsNil)
	defer fs.Close(f)

	var names []string
	err = fs.IterateDir(f, 0, func(e DirEntry) bool {
		names = append(names, e.Name)
		return false
	})
	c.Assert(err, qt.IsNil)
	c.Assert(names, qt.DeepEquals, []string{".", "..", "child"})
}

func TestOSFSSymlink(t *testing.T) {
	c := qt.New(t)
	fs := newTestOSFS(c)

	link, err := fs.Symlink(fs.Root(), "l", "target-name", 0)
	c.Assert(err, qt.IsNil)
	target, err := fs.Readlink(link)
	c.Assert(err, qt.IsNil)
	c.Assert(target, qt.Equals, "target-name")
}

func TestOSFSResolveRenameTargetClampsAtRoot(t *testing.T) {
	c := qt.New(t)
	fs := newTestOSFS(c)

	_, f, err := fs.Create(fs.Root(), "a", uint32(os.O_RDWR), 0o644, 0)
	c.Assert(err, qt.IsNil)
	fs.Close(f)
	a, err := fs.LookupOne(fs.Root(), "a")
	c.Assert(err, qt.IsNil)

	parent, name, err := fs.ResolveRenameTarget(a, "../b")
	c.Assert(err, qt.IsNil)
	c.Assert(parent.String(), qt.Equals, fs.Root().String())
	c.Assert(name, qt.Equals, "b")

	// Even a run of ".." components cannot climb above the export root.
	parent, name, err = fs.ResolveRenameTarget(a, "../../../b")
	c.Assert(err, qt.IsNil)
	c.Assert(parent.String(), qt.Equals, fs.Root().String())
	c.Assert(name, qt.Equals, "b")
}

func TestOSFSRename(t *testing.T) {
	c := qt.New(t)
	fs := newTestOSFS(c)

	_, f, err := fs.Create(fs.Root(), "a", uint32(os.O_RDWR), 0o644, 0)
	c.Assert(err, qt.IsNil)
	fs.Close(f)

	a, err := fs.LookupOne(fs.Root(), "a")
	c.Assert(err, qt.IsNil)

	_, err = fs.Rename(a, fs.Root(), "b")
	c.Assert(err, qt.IsNil)

	_, err = os.Stat(filepath.Join(fs.rootDir, "b"))
	c.Assert(err, qt.IsNil)
}
