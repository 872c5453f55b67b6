package p9

// Qid type bits, set in Qid.Type. 9P2000.L reuses the Plan 9 QT* type
// space unchanged.
const (
	QTDIR    uint8 = 0x80
	QTAPPEND uint8 = 0x40
	QTEXCL   uint8 = 0x20
	QTMOUNT  uint8 = 0x10
	QTAUTH   uint8 = 0x08
	QTTMP    uint8 = 0x04
	QTSYMLINK uint8 = 0x02
	QTLINK   uint8 = 0x01
	QTFILE   uint8 = 0x00
)

// Qid is the 13-byte value identifying a filesystem object to the client:
// a type byte, a version counter, and a unique path.
type Qid struct {
	Type    uint8
	Version uint32
	Path    uint64
}

// QidSize is the encoded wire size of a Qid, always 13 bytes.
const QidSize = 1 + 4 + 8
