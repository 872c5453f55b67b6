package vfs

import (
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OSFS is the production FS facade: it exports the subtree rooted at a
// real host directory. Every path is resolved relative to rootDir and
// containment is enforced at every component join, never by trusting
// client-supplied absolute paths.
type OSFS struct {
	rootDir string
}

// NewOSFS roots an FS facade at dir, which must already exist.
func NewOSFS(dir string) (*OSFS, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "vfs: stat root")
	}
	if !fi.IsDir() {
		return nil, errors.Errorf("vfs: root %q is not a directory", dir)
	}
	return &OSFS{rootDir: dir}, nil
}

// osPath is a path relative to an OSFS's root, stored without a leading
// slash ("" denotes the root itself).
type osPath struct {
	fs  *OSFS
	rel string
}

func (p *osPath) String() string { return "/" + p.rel }

func (p *osPath) abs() string {
	if p.rel == "" {
		return p.fs.rootDir
	}
	return path.Join(p.fs.rootDir, p.rel)
}

func (fs *OSFS) Root() Path { return &osPath{fs: fs, rel: ""} }

func (fs *OSFS) path(rel string) *osPath { return &osPath{fs: fs, rel: rel} }

// joinOne resolves a single path component against rel, rejecting anything
// that could escape root: no slashes, no NUL, and ".." clamped rather than
// passed through to the host filesystem.
func (fs *OSFS) joinOne(rel, name string) (string, error) {
	switch {
	case name == "" || name == ".":
		return rel, nil
	case name == "..":
		return fs.parentRel(rel), nil
	case strings.ContainsRune(name, '/'), strings.ContainsRune(name, 0):
		return "", unix.EINVAL
	default:
		return path.Join(rel, name), nil
	}
}

func (fs *OSFS) parentRel(rel string) string {
	if rel == "" {
		return ""
	}
	dir := path.Dir(rel)
	if dir == "." {
		return ""
	}
	return dir
}

func (fs *OSFS) LookupOne(parent Path, name string) (Path, error) {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return nil, err
	}
	child := fs.path(rel)
	if _, err := os.Lstat(child.abs()); err != nil {
		return nil, err
	}
	return child, nil
}

func (fs *OSFS) Parent(p Path) Path {
	op := p.(*osPath)
	return fs.path(fs.parentRel(op.rel))
}

func (fs *OSFS) ResolveRenameTarget(base Path, relPath string) (Path, string, error) {
	comps := splitComponents(relPath)
	if len(comps) == 0 {
		return nil, "", unix.EINVAL
	}
	rel := base.(*osPath).rel
	for _, comp := range comps[:len(comps)-1] {
		r, err := fs.joinOne(rel, comp)
		if err != nil {
			return nil, "", err
		}
		if _, err := os.Lstat(fs.path(r).abs()); err != nil {
			return nil, "", err
		}
		rel = r
	}
	name := comps[len(comps)-1]
	if name == ".." || strings.ContainsRune(name, 0) {
		return nil, "", unix.EINVAL
	}
	return fs.path(rel), name, nil
}

func splitComponents(relPath string) []string {
	var comps []string
	for _, c := range strings.Split(relPath, "/") {
		if c != "" && c != "." {
			comps = append(comps, c)
		}
	}
	return comps
}

func (fs *OSFS) GetAttr(p Path) (Attr, error) {
	op := p.(*osPath)
	var st unix.Stat_t
	if err := unix.Lstat(op.abs(), &st); err != nil {
		return Attr{}, err
	}
	return attrFromStat(&st), nil
}

func attrFromStat(st *unix.Stat_t) Attr {
	return Attr{
		Mode:    st.Mode,
		Uid:     st.Uid,
		Gid:     st.Gid,
		Nlink:   uint64(st.Nlink),
		Rdev:    uint64(st.Rdev),
		Size:    uint64(st.Size),
		Blksize: uint64(st.Blksize),
		Blocks:  uint64(st.Blocks),
		Atime:   time.Unix(st.Atim.Sec, st.Atim.Nsec),
		Mtime:   time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
		Ctime:   time.Unix(st.Ctim.Sec, st.Ctim.Nsec),
		Ino:     st.Ino,
	}
}

func (fs *OSFS) Statfs(p Path) (Statfs, error) {
	op := p.(*osPath)
	var st unix.Statfs_t
	if err := unix.Statfs(op.abs(), &st); err != nil {
		return Statfs{}, err
	}
	fsidLo := uint32(st.Fsid.Val[0])
	fsidHi := uint32(st.Fsid.Val[1])
	return Statfs{
		Type:    uint32(st.Type),
		Bsize:   uint32(st.Bsize),
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		FsidLo:  fsidLo,
		FsidHi:  fsidHi,
		Namelen: uint32(st.Namelen),
	}, nil
}

func (fs *OSFS) Truncate(p Path, size uint64) error {
	return os.Truncate(p.(*osPath).abs(), int64(size))
}

// osFile is the open-handle type returned by Open/Create, wrapping an
// *os.File plus lazily-computed, cached directory-listing state for
// IterateDir's offset-as-index resumption scheme.
type osFile struct {
	path *osPath
	f    *os.File

	mu         sync.Mutex
	dirLoaded  bool
	dirEntries []DirEntry
}

func (f *osFile) Path() Path { return f.path }

func (fs *OSFS) Open(p Path, flags uint32) (File, error) {
	op := p.(*osPath)
	f, err := os.OpenFile(op.abs(), int(flags&^unix.O_CREAT), 0)
	if err != nil {
		return nil, err
	}
	return &osFile{path: op, f: f}, nil
}

func (fs *OSFS) Close(file File) error {
	return file.(*osFile).f.Close()
}

func (fs *OSFS) Read(file File, buf []byte, offset int64) (int, error) {
	n, err := file.(*osFile).f.ReadAt(buf, offset)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (fs *OSFS) Write(file File, buf []byte, offset int64) (int, error) {
	return file.(*osFile).f.WriteAt(buf, offset)
}

// loadDirEntries populates of.dirEntries once per Open, synthesizing "."
// and ".." the way a real getdents(2) call would, then assigning each
// entry a sequential 1-based offset so that resuming iteration at an
// entry's Offset yields the entries after it.
func (of *osFile) loadDirEntries() error {
	if of.dirLoaded {
		return nil
	}
	names, err := of.f.Readdirnames(-1)
	if err != nil {
		return err
	}
	sort.Strings(names)

	selfAttr, err := statAbs(of.path.abs())
	if err != nil {
		return err
	}
	parentAttr, err := statAbs(of.path.fs.path(of.path.fs.parentRel(of.path.rel)).abs())
	if err != nil {
		return err
	}

	entries := make([]DirEntry, 0, len(names)+2)
	entries = append(entries, DirEntry{Name: ".", Ino: selfAttr.Ino, DType: dtypeFromMode(selfAttr.Mode)})
	entries = append(entries, DirEntry{Name: "..", Ino: parentAttr.Ino, DType: dtypeFromMode(parentAttr.Mode)})
	for _, name := range names {
		attr, err := statAbs(path.Join(of.path.abs(), name))
		if err != nil {
			continue // entry vanished under us; skip rather than fail the whole listing
		}
		entries = append(entries, DirEntry{Name: name, Ino: attr.Ino, DType: dtypeFromMode(attr.Mode)})
	}
	for i := range entries {
		entries[i].Offset = uint64(i + 1)
	}
	of.dirEntries = entries
	of.dirLoaded = true
	return nil
}

func statAbs(abs string) (Attr, error) {
	var st unix.Stat_t
	if err := unix.Lstat(abs, &st); err != nil {
		return Attr{}, err
	}
	return attrFromStat(&st), nil
}

func dtypeFromMode(mode uint32) uint8 {
	switch mode & sIFMT {
	case sIFDIR:
		return unix.DT_DIR
	case sIFLNK:
		return unix.DT_LNK
	case syscall.S_IFCHR:
		return unix.DT_CHR
	case syscall.S_IFBLK:
		return unix.DT_BLK
	case syscall.S_IFIFO:
		return unix.DT_FIFO
	case syscall.S_IFSOCK:
		return unix.DT_SOCK
	default:
		return unix.DT_REG
	}
}

func (fs *OSFS) IterateDir(file File, resumeAt uint64, cb func(DirEntry) bool) error {
	of := file.(*osFile)
	of.mu.Lock()
	defer of.mu.Unlock()
	if err := of.loadDirEntries(); err != nil {
		return err
	}
	start := int(resumeAt)
	if start > len(of.dirEntries) {
		start = len(of.dirEntries)
	}
	for _, e := range of.dirEntries[start:] {
		if cb(e) {
			return nil
		}
	}
	return nil
}

func (fs *OSFS) Create(parent Path, name string, flags uint32, mode uint32, gid uint32) (Path, File, error) {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return nil, nil, err
	}
	child := fs.path(rel)
	// O_EXCL so an existing entry fails with EEXIST instead of being
	// silently opened.
	f, err := os.OpenFile(child.abs(), int(flags|unix.O_CREAT|unix.O_EXCL), os.FileMode(mode&0o7777))
	if err != nil {
		return nil, nil, err
	}
	_ = unix.Chown(child.abs(), -1, int(gid))
	return child, &osFile{path: child, f: f}, nil
}

func (fs *OSFS) Mkdir(parent Path, name string, mode uint32, gid uint32) (Path, error) {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return nil, err
	}
	child := fs.path(rel)
	if err := os.Mkdir(child.abs(), os.FileMode(mode&0o7777)); err != nil {
		return nil, err
	}
	_ = unix.Chown(child.abs(), -1, int(gid))
	return child, nil
}

func (fs *OSFS) Symlink(parent Path, name, target string, gid uint32) (Path, error) {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return nil, err
	}
	child := fs.path(rel)
	if err := os.Symlink(target, child.abs()); err != nil {
		return nil, err
	}
	_ = unix.Lchown(child.abs(), -1, int(gid))
	return child, nil
}

func (fs *OSFS) Link(parent Path, target Path, name string) error {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return err
	}
	return os.Link(target.(*osPath).abs(), fs.path(rel).abs())
}

func (fs *OSFS) Unlink(parent Path, name string) error {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return err
	}
	return os.Remove(fs.path(rel).abs())
}

func (fs *OSFS) Rmdir(parent Path, name string) error {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return err
	}
	return unix.Rmdir(fs.path(rel).abs())
}

func (fs *OSFS) Mknod(parent Path, name string, mode uint32, major, minor uint32, gid uint32) (Path, error) {
	p := parent.(*osPath)
	rel, err := fs.joinOne(p.rel, name)
	if err != nil {
		return nil, err
	}
	child := fs.path(rel)
	dev := unix.Mkdev(major, minor)
	if err := unix.Mknod(child.abs(), mode, int(dev)); err != nil {
		return nil, err
	}
	_ = unix.Chown(child.abs(), -1, int(gid))
	return child, nil
}

func (fs *OSFS) Rename(old Path, newParent Path, newName string) (Path, error) {
	np := newParent.(*osPath)
	rel, err := fs.joinOne(np.rel, newName)
	if err != nil {
		return nil, err
	}
	target := fs.path(rel)
	if err := unix.Rename(old.(*osPath).abs(), target.abs()); err != nil {
		return nil, err
	}
	return target, nil
}

func (fs *OSFS) Readlink(p Path) (string, error) {
	return os.Readlink(p.(*osPath).abs())
}

func (fs *OSFS) Fsync(file File, datasync bool) error {
	of := file.(*osFile)
	if datasync {
		return unix.Fdatasync(int(of.f.Fd()))
	}
	return of.f.Sync()
}

var _ FS = (*OSFS)(nil)
