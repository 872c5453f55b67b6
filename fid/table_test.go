package fid

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/rezroo/vhost-9pfs/vfs"
)

func TestTableInsertLookupRemove(t *testing.T) {
	c := qt.New(t)
	fs := vfs.NewMemFS(1000, 1000)
	tbl := New()

	e, err := tbl.Insert(1, 1000, fs.Root())
	c.Assert(err, qt.IsNil)
	c.Assert(e.Fid, qt.Equals, uint32(1))

	got, err := tbl.Lookup(1)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, e)

	tbl.Remove(1)
	_, err = tbl.Lookup(1)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
}

func TestTableInsertDuplicateFails(t *testing.T) {
	c := qt.New(t)
	fs := vfs.NewMemFS(1000, 1000)
	tbl := New()

	_, err := tbl.Insert(1, 1000, fs.Root())
	c.Assert(err, qt.IsNil)
	_, err = tbl.Insert(1, 1000, fs.Root())
	c.Assert(err, qt.ErrorIs, ErrAlreadyExists)
}

func TestTableLen(t *testing.T) {
	c := qt.New(t)
	fs := vfs.NewMemFS(1000, 1000)
	tbl := New()
	c.Assert(tbl.Len(), qt.Equals, 0)
	tbl.Insert(1, 1000, fs.Root())
	tbl.Insert(2, 1000, fs.Root())
	c.Assert(tbl.Len(), qt.Equals, 2)
	tbl.Remove(1)
	c.Assert(tbl.Len(), qt.Equals, 1)
}
