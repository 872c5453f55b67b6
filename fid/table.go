// Package fid implements the per-session fid table: an association between
// client-allocated integer handles and server-side filesystem objects.
// Fid numbers carry no ordering semantics, so a plain map suffices.
package fid

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/rezroo/vhost-9pfs/vfs"
)

// ErrNotFound is returned by Lookup when no entry exists for a requested
// fid.
var ErrNotFound = errors.New("fid: not found")

// ErrAlreadyExists is returned by Insert when the fid is already in the
// table.
var ErrAlreadyExists = errors.New("fid: already exists")

// Entry is exclusively owned by a Table: it associates one client fid with
// a path and, once opened, a handle.
type Entry struct {
	Fid uint32
	Uid uint32

	// Path is always valid while the entry exists. Walk, Create, and
	// Mkdir may re-point it.
	Path vfs.Path

	// File is non-nil only if Path was opened via Open/Create, and is
	// cleared and released exactly once by Clunk.
	File vfs.File
}

// Table maps fid numbers to entries: insert/lookup/remove, all safe for
// concurrent use. Under the serialized-per-session dispatch model the
// locking is not load-bearing, but it keeps the table safe if a future
// variant dispatches concurrently.
type Table struct {
	mu      sync.RWMutex
	entries map[uint32]*Entry
}

// New returns an empty fid table.
func New() *Table {
	return &Table{entries: make(map[uint32]*Entry)}
}

// Lookup returns the entry for fid, or ErrNotFound.
func (t *Table) Lookup(id uint32) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Insert creates a new entry for fid pointing at path, failing with
// ErrAlreadyExists if the fid is already in use.
func (t *Table) Insert(id uint32, uid uint32, path vfs.Path) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return nil, ErrAlreadyExists
	}
	e := &Entry{Fid: id, Uid: uid, Path: path}
	t.entries[id] = e
	return e, nil
}

// Remove deletes fid from the table. The caller is responsible for
// releasing the entry's File beforehand; a missing fid is not an error,
// which makes Clunk idempotent.
func (t *Table) Remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Len reports the number of live fids, used by tests and diagnostics.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
