// Package vfs defines the abstract filesystem facade consumed by the
// operation handlers and provides two implementations: a host-backed one
// rooted at a real directory (osfs.go) and an in-memory one used by tests
// (memfs.go).
//
// The facade is the server's only route to the host: path resolution,
// open/read/write, directory iteration, and the namespace-mutating calls
// all go through this interface, and every method returns a POSIX errno
// (or an error unwrappable to one) on failure.
package vfs

import (
	"time"

	"github.com/rezroo/vhost-9pfs/p9"
)

// Path is a fully qualified reference to a directory entry beneath a
// session's root. Cloning a Path is cheap and does not transfer ownership
// of anything underneath it.
type Path interface {
	// String returns a debug representation; it is not part of the wire
	// protocol and carries no containment guarantee on its own.
	String() string
}

// File is a handle produced by Open or Create. It is owned exclusively by
// the fid entry that opened it and is closed exactly once, by Clunk or
// session teardown.
type File interface {
	Path() Path
}

// Attr is a stat result, the basis for both qid derivation and Rgetattr's
// reply body.
type Attr struct {
	Mode    uint32 // full st_mode, including S_IFDIR/S_IFREG/... type bits
	Uid     uint32
	Gid     uint32
	Nlink   uint64
	Rdev    uint64
	Size    uint64
	Blksize uint64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
	Ino     uint64 // unique path component of the derived qid
}

// IsDir reports whether Mode's type bits mark a directory.
func (a Attr) IsDir() bool { return a.Mode&sIFMT == sIFDIR }

// IsSymlink reports whether Mode's type bits mark a symbolic link.
func (a Attr) IsSymlink() bool { return a.Mode&sIFMT == sIFLNK }

const (
	sIFMT  = 0170000
	sIFDIR = 0040000
	sIFLNK = 0120000
)

// Qid derives the 13-byte client-visible identity of a from a stat result:
// qid.path comes from the inode number, qid.version from the mtime, and
// qid.type from the stat mode's directory/symlink bits.
func (a Attr) Qid() p9.Qid {
	t := uint8(p9.QTFILE)
	if a.IsDir() {
		t = p9.QTDIR
	} else if a.IsSymlink() {
		t = p9.QTSYMLINK
	}
	return p9.Qid{
		Type:    t,
		Version: uint32(a.Mtime.Unix()),
		Path:    a.Ino,
	}
}

// Statfs is a statfs(2) result, the basis for Rstatfs.
type Statfs struct {
	Type    uint32
	Bsize   uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	FsidLo  uint32
	FsidHi  uint32
	Namelen uint32
}

// DirEntry is one entry yielded by IterateDir's callback. Offset is the
// cursor value a caller passes back as resumeAt to continue iteration
// after this entry.
type DirEntry struct {
	Name   string
	Offset uint64
	Ino    uint64
	DType  uint8
}

// FS is the abstract filesystem facade. Every method maps onto one
// POSIX-style VFS primitive.
type FS interface {
	// Root returns the path of the exported subtree's root.
	Root() Path

	// LookupOne resolves name as a single path component under parent.
	// A negative lookup (name does not exist) is reported as an error
	// satisfying errors.Is(err, os.ErrNotExist). "." resolves to parent
	// itself and ".." to parent's parent, clamped at Root.
	LookupOne(parent Path, name string) (Path, error)

	// GetAttr stats p.
	GetAttr(p Path) (Attr, error)

	// Statfs stats the filesystem containing p.
	Statfs(p Path) (Statfs, error)

	// Truncate changes p's size.
	Truncate(p Path, size uint64) error

	// Open opens p for I/O with the given (already-sanitized) flags and
	// returns a File handle.
	Open(p Path, flags uint32) (File, error)

	// Close releases a File. Clunk calls this exactly once per opened
	// fid.
	Close(f File) error

	// Read reads up to len(buf) bytes from f at offset.
	Read(f File, buf []byte, offset int64) (int, error)

	// Write writes buf to f at offset.
	Write(f File, buf []byte, offset int64) (int, error)

	// IterateDir reads directory entries from an open directory handle
	// starting at the cursor resumeAt, invoking cb for each entry in
	// turn. cb returns true to stop iteration early.
	IterateDir(f File, resumeAt uint64, cb func(DirEntry) (stop bool)) error

	// Create creates a regular file named name under parent and opens it
	// with flags, returning both the new path and the open handle.
	Create(parent Path, name string, flags uint32, mode uint32, gid uint32) (Path, File, error)

	// Mkdir creates a directory named name under parent.
	Mkdir(parent Path, name string, mode uint32, gid uint32) (Path, error)

	// Symlink creates a symbolic link named name under parent pointing
	// at target.
	Symlink(parent Path, name, target string, gid uint32) (Path, error)

	// Link creates a hard link named name under parent pointing at the
	// file identified by target.
	Link(parent Path, target Path, name string) error

	// Unlink removes the non-directory entry name under parent.
	Unlink(parent Path, name string) error

	// Rmdir removes the empty directory entry name under parent.
	Rmdir(parent Path, name string) error

	// Mknod creates a device/FIFO/socket node named name under parent.
	Mknod(parent Path, name string, mode uint32, major, minor uint32, gid uint32) (Path, error)

	// Rename moves old to newName under newParent, returning the path of
	// the entry at its new location.
	Rename(old Path, newParent Path, newName string) (Path, error)

	// Parent returns the path of p's containing directory, clamped at
	// root: Parent(Root()) == Root().
	Parent(p Path) Path

	// ResolveRenameTarget walks a possibly multi-component,
	// "/"-separated relPath starting at base and splits off its final
	// component, returning the target's parent path and that final name.
	// Every component but the last must exist; the last need not, since
	// a rename target is allowed to be a not-yet-existing entry.
	// Intermediate ".." components are clamped at root, so they never
	// escape it; a final component of ".." is rejected.
	ResolveRenameTarget(base Path, relPath string) (Path, string, error)

	// Readlink returns the target of the symlink at p.
	Readlink(p Path) (string, error)

	// Fsync flushes f's data (and, unless datasync, its metadata) to
	// stable storage.
	Fsync(f File, datasync bool) error
}
