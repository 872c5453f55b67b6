package vfs

import (
	"sort"
	"sync"
	"syscall"
	"time"
)

// MemFS is an in-memory FS test double: a tree of nodes keyed by name,
// supporting the full facade including the namespace-mutating operations.
// It exists purely for tests that want a fast, deterministic FS without
// touching the host filesystem. Failures are reported as syscall.Errno
// values so they map to the same wire errnos OSFS produces.
type MemFS struct {
	mu      sync.Mutex
	nextIno uint64
	root    *memNode
}

type memNode struct {
	name                string
	mode                uint32 // includes type bits (sIFDIR/sIFLNK/sIFREG/...)
	uid, gid            uint32
	ino                 uint64
	atime, mtime, ctime time.Time

	data   []byte // regular file content
	target string // symlink target

	parent   *memNode
	children map[string]*memNode // nil unless mode&sIFMT==sIFDIR
}

// NewMemFS returns an empty in-memory filesystem with a single root
// directory owned by uid/gid.
func NewMemFS(uid, gid uint32) *MemFS {
	now := time.Unix(0, 0)
	fs := &MemFS{nextIno: 1}
	root := &memNode{
		name:     "",
		mode:     sIFDIR | 0o755,
		uid:      uid,
		gid:      gid,
		ino:      fs.allocIno(),
		atime:    now,
		mtime:    now,
		ctime:    now,
		children: make(map[string]*memNode),
	}
	root.parent = root
	fs.root = root
	return fs
}

func (fs *MemFS) allocIno() uint64 {
	ino := fs.nextIno
	fs.nextIno++
	return ino
}

// memPath implements Path by holding a direct node pointer: cheap to
// clone, same contract as osPath.
type memPath struct {
	n *memNode
}

func (p *memPath) String() string {
	if p.n.parent == p.n {
		return "/"
	}
	return "/" + p.n.name
}

// memFile is the open-handle type for MemFS, caching a directory listing
// snapshot the same way osFile does, so IterateDir's resumeAt indexing
// behaves identically across both implementations.
type memFile struct {
	path *memPath

	mu         sync.Mutex
	dirLoaded  bool
	dirEntries []DirEntry
}

func (f *memFile) Path() Path { return f.path }

func (fs *MemFS) Root() Path { return &memPath{n: fs.root} }

func (fs *MemFS) node(p Path) *memNode { return p.(*memPath).n }

func (fs *MemFS) LookupOne(parent Path, name string) (Path, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir := fs.node(parent)
	switch name {
	case "", ".":
		return &memPath{n: dir}, nil
	case "..":
		return &memPath{n: dir.parent}, nil
	}
	if dir.children == nil {
		return nil, syscall.ENOTDIR
	}
	child, ok := dir.children[name]
	if !ok {
		return nil, syscall.ENOENT
	}
	return &memPath{n: child}, nil
}

func (fs *MemFS) Parent(p Path) Path {
	n := fs.node(p)
	return &memPath{n: n.parent}
}

func (fs *MemFS) ResolveRenameTarget(base Path, relPath string) (Path, string, error) {
	comps := splitComponents(relPath)
	if len(comps) == 0 {
		return nil, "", syscall.EINVAL
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cur := fs.node(base)
	for _, comp := range comps[:len(comps)-1] {
		if comp == ".." {
			cur = cur.parent
			continue
		}
		if cur.children == nil {
			return nil, "", syscall.ENOTDIR
		}
		child, ok := cur.children[comp]
		if !ok {
			return nil, "", syscall.ENOENT
		}
		cur = child
	}
	name := comps[len(comps)-1]
	if name == ".." {
		return nil, "", syscall.EINVAL
	}
	return &memPath{n: cur}, name, nil
}

func (fs *MemFS) attrLocked(n *memNode) Attr {
	size := uint64(len(n.data))
	if n.mode&sIFMT == sIFDIR {
		size = uint64(len(n.children))
	}
	return Attr{
		Mode:    n.mode,
		Uid:     n.uid,
		Gid:     n.gid,
		Nlink:   1,
		Size:    size,
		Blksize: 4096,
		Blocks:  (size + 511) / 512,
		Atime:   n.atime,
		Mtime:   n.mtime,
		Ctime:   n.ctime,
		Ino:     n.ino,
	}
}

func (fs *MemFS) GetAttr(p Path) (Attr, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.attrLocked(fs.node(p)), nil
}

func (fs *MemFS) Statfs(p Path) (Statfs, error) {
	return Statfs{
		Type:    0x01021994, // tmpfs magic, matching the in-memory nature of this FS
		Bsize:   4096,
		Blocks:  1 << 20,
		Bfree:   1 << 19,
		Bavail:  1 << 19,
		Files:   1 << 16,
		Ffree:   1 << 15,
		Namelen: 255,
	}, nil
}

func (fs *MemFS) Truncate(p Path, size uint64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.node(p)
	if n.mode&sIFMT == sIFDIR {
		return syscall.EISDIR
	}
	if uint64(len(n.data)) == size {
		return nil
	}
	buf := make([]byte, size)
	copy(buf, n.data)
	n.data = buf
	n.mtime = n.ctime
	return nil
}

func (fs *MemFS) Open(p Path, flags uint32) (File, error) {
	return &memFile{path: p.(*memPath)}, nil
}

func (fs *MemFS) Close(f File) error { return nil }

func (fs *MemFS) Read(f File, buf []byte, offset int64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := f.(*memFile).path.n
	if offset >= int64(len(n.data)) {
		return 0, nil
	}
	return copy(buf, n.data[offset:]), nil
}

func (fs *MemFS) Write(f File, buf []byte, offset int64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := f.(*memFile).path.n
	end := offset + int64(len(buf))
	if end > int64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	written := copy(n.data[offset:end], buf)
	return written, nil
}

func (fs *MemFS) loadDirEntries(mf *memFile) {
	if mf.dirLoaded {
		return
	}
	dir := mf.path.n
	names := make([]string, 0, len(dir.children))
	for name := range dir.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]DirEntry, 0, len(names)+2)
	entries = append(entries, DirEntry{Name: ".", Ino: dir.ino, DType: dtypeFromNodeMode(dir.mode)})
	entries = append(entries, DirEntry{Name: "..", Ino: dir.parent.ino, DType: dtypeFromNodeMode(dir.parent.mode)})
	for _, name := range names {
		c := dir.children[name]
		entries = append(entries, DirEntry{Name: name, Ino: c.ino, DType: dtypeFromNodeMode(c.mode)})
	}
	for i := range entries {
		entries[i].Offset = uint64(i + 1)
	}
	mf.dirEntries = entries
	mf.dirLoaded = true
}

func dtypeFromNodeMode(mode uint32) uint8 {
	const (
		dtDir = 4
		dtLnk = 10
		dtReg = 8
	)
	switch mode & sIFMT {
	case sIFDIR:
		return dtDir
	case sIFLNK:
		return dtLnk
	default:
		return dtReg
	}
}

func (fs *MemFS) IterateDir(f File, resumeAt uint64, cb func(DirEntry) bool) error {
	fs.mu.Lock()
	mf := f.(*memFile)
	mf.mu.Lock()
	fs.loadDirEntries(mf)
	entries := mf.dirEntries
	mf.mu.Unlock()
	fs.mu.Unlock()

	start := int(resumeAt)
	if start > len(entries) {
		start = len(entries)
	}
	for _, e := range entries[start:] {
		if cb(e) {
			return nil
		}
	}
	return nil
}

func (fs *MemFS) createChild(parent Path, name string, mode, uid, gid uint32) (*memNode, error) {
	dir := fs.node(parent)
	if dir.children == nil {
		return nil, syscall.ENOTDIR
	}
	if _, exists := dir.children[name]; exists {
		return nil, syscall.EEXIST
	}
	now := time.Unix(0, 0)
	n := &memNode{
		name:   name,
		mode:   mode,
		uid:    uid,
		gid:    gid,
		ino:    fs.allocIno(),
		atime:  now,
		mtime:  now,
		ctime:  now,
		parent: dir,
	}
	if mode&sIFMT == sIFDIR {
		n.children = make(map[string]*memNode)
	}
	dir.children[name] = n
	return n, nil
}

func (fs *MemFS) Create(parent Path, name string, flags uint32, mode uint32, gid uint32) (Path, File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.createChild(parent, name, sIFREG|(mode&0o7777), fs.node(parent).uid, gid)
	if err != nil {
		return nil, nil, err
	}
	p := &memPath{n: n}
	return p, &memFile{path: p}, nil
}

func (fs *MemFS) Mkdir(parent Path, name string, mode uint32, gid uint32) (Path, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.createChild(parent, name, sIFDIR|(mode&0o7777), fs.node(parent).uid, gid)
	if err != nil {
		return nil, err
	}
	return &memPath{n: n}, nil
}

func (fs *MemFS) Symlink(parent Path, name, target string, gid uint32) (Path, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.createChild(parent, name, sIFLNK|0o777, fs.node(parent).uid, gid)
	if err != nil {
		return nil, err
	}
	n.target = target
	return &memPath{n: n}, nil
}

func (fs *MemFS) Link(parent Path, target Path, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir := fs.node(parent)
	if dir.children == nil {
		return syscall.ENOTDIR
	}
	if _, exists := dir.children[name]; exists {
		return syscall.EEXIST
	}
	// MemFS has no distinct inode object shared between links; aliasing the
	// same *memNode under a second name is the pragmatic equivalent for a
	// test double (osfs.go performs a real hard link via os.Link).
	dir.children[name] = fs.node(target)
	return nil
}

func (fs *MemFS) Unlink(parent Path, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir := fs.node(parent)
	c, ok := dir.children[name]
	if !ok {
		return syscall.ENOENT
	}
	if c.mode&sIFMT == sIFDIR {
		return syscall.EISDIR
	}
	delete(dir.children, name)
	return nil
}

func (fs *MemFS) Rmdir(parent Path, name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir := fs.node(parent)
	c, ok := dir.children[name]
	if !ok {
		return syscall.ENOENT
	}
	if c.mode&sIFMT != sIFDIR {
		return syscall.ENOTDIR
	}
	if len(c.children) > 0 {
		return syscall.ENOTEMPTY
	}
	delete(dir.children, name)
	return nil
}

func (fs *MemFS) Mknod(parent Path, name string, mode uint32, major, minor uint32, gid uint32) (Path, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, err := fs.createChild(parent, name, mode, fs.node(parent).uid, gid)
	if err != nil {
		return nil, err
	}
	return &memPath{n: n}, nil
}

func (fs *MemFS) Rename(old Path, newParent Path, newName string) (Path, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.node(old)
	newDir := fs.node(newParent)
	if newDir.children == nil {
		return nil, syscall.ENOTDIR
	}
	delete(n.parent.children, n.name)
	n.name = newName
	n.parent = newDir
	newDir.children[newName] = n
	return &memPath{n: n}, nil
}

func (fs *MemFS) Readlink(p Path) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := fs.node(p)
	if n.mode&sIFMT != sIFLNK {
		return "", syscall.EINVAL
	}
	return n.target, nil
}

func (fs *MemFS) Fsync(f File, datasync bool) error { return nil }

const sIFREG = 0o100000

var _ FS = (*MemFS)(nil)
