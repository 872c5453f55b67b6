package server

import (
	"go.uber.org/zap"

	"github.com/rezroo/vhost-9pfs/fid"
	"github.com/rezroo/vhost-9pfs/p9"
	"github.com/rezroo/vhost-9pfs/vfs"
)

// DefaultMsize is the message size assumed until a Tversion negotiates one.
const DefaultMsize = 64 * 1024

// Session is the per-connection server state: one fid table, one attach
// root, the last-attached uid, and the negotiated msize. All request
// handling for a session runs on a single goroutine, so none of this state
// needs interior locking beyond what the fid table already carries.
type Session struct {
	FS  vfs.FS
	Log *zap.Logger
	Uid uint32

	msize uint32
	fids  *fid.Table
}

// NewSession creates a session serving fs, ready for a request loop.
func NewSession(fs vfs.FS, log *zap.Logger, uid uint32) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		FS:    fs,
		Log:   log,
		Uid:   uid,
		msize: DefaultMsize,
		fids:  fid.New(),
	}
}

// qidOf stats p and derives its wire qid, the two pieces nearly every
// handler needs together.
func (s *Session) qidOf(p vfs.Path) (p9.Qid, vfs.Attr, error) {
	attr, err := s.FS.GetAttr(p)
	if err != nil {
		return p9.Qid{}, vfs.Attr{}, err
	}
	return attr.Qid(), attr, nil
}
