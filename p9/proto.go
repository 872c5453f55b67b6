package p9

// Message types for the 9P2000.L dialect. Numbering follows the Linux
// kernel's net/9p/9p.h.
const (
	Tlerror  uint8 = 6 // never sent by a client
	Rlerror  uint8 = 7

	Tstatfs uint8 = 8
	Rstatfs uint8 = 9

	Tlopen uint8 = 12
	Rlopen uint8 = 13

	Tlcreate uint8 = 14
	Rlcreate uint8 = 15

	Tsymlink uint8 = 16
	Rsymlink uint8 = 17

	Tmknod uint8 = 18
	Rmknod uint8 = 19

	Trename uint8 = 20
	Rrename uint8 = 21

	Treadlink uint8 = 22
	Rreadlink uint8 = 23

	Tgetattr uint8 = 24
	Rgetattr uint8 = 25

	Tsetattr uint8 = 26
	Rsetattr uint8 = 27

	Txattrwalk   uint8 = 30
	Rxattrwalk   uint8 = 31
	Txattrcreate uint8 = 32
	Rxattrcreate uint8 = 33

	Treaddir uint8 = 40
	Rreaddir uint8 = 41

	Tfsync uint8 = 50
	Rfsync uint8 = 51

	Tlock uint8 = 52
	Rlock uint8 = 53

	Tgetlock uint8 = 54
	Rgetlock uint8 = 55

	Tlink uint8 = 70
	Rlink uint8 = 71

	Tmkdir uint8 = 72
	Rmkdir uint8 = 73

	Trenameat uint8 = 74
	Rrenameat uint8 = 75

	Tunlinkat uint8 = 76
	Runlinkat uint8 = 77

	Tversion uint8 = 100
	Rversion uint8 = 101

	Tauth uint8 = 102
	Rauth uint8 = 103

	Tattach uint8 = 104
	Rattach uint8 = 105

	Terror uint8 = 106 // never sent

	Tflush uint8 = 108
	Rflush uint8 = 109

	Twalk uint8 = 110
	Rwalk uint8 = 111

	Topen uint8 = 112 // pre-.L; not honored
	Ropen uint8 = 113

	Tcreate uint8 = 114 // pre-.L; not honored
	Rcreate uint8 = 115

	Tread  uint8 = 116
	Rread  uint8 = 117
	Twrite uint8 = 118
	Rwrite uint8 = 119

	Tclunk uint8 = 120
	Rclunk uint8 = 121

	Tremove uint8 = 122
	Rremove uint8 = 123

	Tstat  uint8 = 124 // pre-.L; not honored
	Rstat  uint8 = 125
	Twstat uint8 = 126 // pre-.L; not honored
	Rwstat uint8 = 127
)

// VersionL is the only wire version this server understands.
const VersionL = "9P2000.L"

// VersionUnknown is echoed in Rversion when the client requests an
// unsupported dialect.
const VersionUnknown = "unknown"

// Special fid/tag sentinels.
const (
	NoFid uint32 = 0xFFFFFFFF
	NoTag uint16 = 0xFFFF
)

// CommonHeaderSize is the size of the 9P common header: size[4] id[1] tag[2].
const CommonHeaderSize = 4 + 1 + 2

// IoHeaderSize is the size of the I/O header shared by Tread and Twrite:
// the common header plus fid[4] offset[8] count[4].
const IoHeaderSize = CommonHeaderSize + 4 + 8 + 4

// Open/create flags, as passed over the wire in Tlopen and Tlcreate.
// These mirror Linux's O_* bits; only the subset the server sanitizes is
// named here.
const (
	ONOCTTY  uint32 = 0o400
	OASYNC   uint32 = 0o20000
	OCREAT   uint32 = 0o100
	ODIRECT  uint32 = 0o40000
	ONOFOLLOW uint32 = 0o400000
	OEXCL    uint32 = 0o200
	OTRUNC   uint32 = 0o1000
)

// SanitizeOpenFlags clears flags the server never honors from a client and
// forces O_NOFOLLOW so an open can't chase a symlink planted between
// lookup and open.
func SanitizeOpenFlags(flags uint32) uint32 {
	flags &^= ONOCTTY | OASYNC | OCREAT | ODIRECT
	flags |= ONOFOLLOW
	return flags
}

// Setattr valid-mask bits (Tsetattr.Valid). Only AttrSize is honored by
// this server; the rest are accepted and silently ignored.
const (
	AttrMode     uint32 = 0x00000001
	AttrUID      uint32 = 0x00000002
	AttrGID      uint32 = 0x00000004
	AttrSize     uint32 = 0x00000008
	AttrATime    uint32 = 0x00000010
	AttrMTime    uint32 = 0x00000020
	AttrCTime    uint32 = 0x00000040
	AttrATimeSet uint32 = 0x00000080
	AttrMTimeSet uint32 = 0x00000100
)

// StatsBasic is the valid-mask value this server always returns from
// Rgetattr: the basic stat group, regardless of what the client asked for.
const StatsBasic uint64 = 0x000007ff

// Lock types and status codes for Tlock/Rlock/Tgetlock/Rgetlock.
const (
	LockTypeRDLCK uint8 = 0
	LockTypeWRLCK uint8 = 1
	LockTypeUNLCK uint8 = 2

	LockSuccess uint8 = 0
	LockBlocked uint8 = 1
	LockError   uint8 = 2
	LockGrace   uint8 = 3
)
