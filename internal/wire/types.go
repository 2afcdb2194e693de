// Package wire implements the packet framer: the 8-byte header
// (type:u32, size:u32, both big-endian network order) plus per-command
// body codecs for the master-chunkserver protocol.
//
// Codecs are hand-written field-by-field packers, one small function per
// wire shape, rather than reflection or a generated codec; everything on
// the wire is network/big-endian order.
package wire

// Message type constants: MATOCS_* for master-to-chunkserver commands,
// CSTOMA_* for chunkserver-to-master replies and telemetry, ANTOAN_* for
// the shared keepalive.
const (
	ANTOAN_NOP = 0

	MATOCS_CREATE               = 4
	MATOCS_DELETE               = 6
	MATOCS_SET_VERSION          = 8
	MATOCS_DUPLICATE            = 10
	MATOCS_TRUNCATE             = 12
	MATOCS_DUPTRUNC             = 14
	MATOCS_CHUNKOP              = 16
	MATOCS_REPLICATE            = 18
	MATOCS_STRUCTURE_LOG        = 20
	MATOCS_STRUCTURE_LOG_ROTATE = 22
	MATOCS_CHUNK_CHECKSUM       = 24
	MATOCS_CHUNK_CHECKSUM_TAB   = 26

	CSTOMA_REGISTER           = 5
	CSTOMA_SPACE              = 7
	CSTOMA_CHUNK_DAMAGED      = 9
	CSTOMA_CHUNK_LOST         = 11
	CSTOMA_ERROR_OCCURRED     = 13
	CSTOMA_CREATE             = MATOCS_CREATE + 1
	CSTOMA_DELETE             = MATOCS_DELETE + 1
	CSTOMA_SET_VERSION        = MATOCS_SET_VERSION + 1
	CSTOMA_DUPLICATE          = MATOCS_DUPLICATE + 1
	CSTOMA_TRUNCATE           = MATOCS_TRUNCATE + 1
	CSTOMA_DUPTRUNC           = MATOCS_DUPTRUNC + 1
	CSTOMA_CHUNKOP            = MATOCS_CHUNKOP + 1
	CSTOMA_REPLICATE          = MATOCS_REPLICATE + 1
	CSTOMA_CHUNK_CHECKSUM     = MATOCS_CHUNK_CHECKSUM + 1
	CSTOMA_CHUNK_CHECKSUM_TAB = MATOCS_CHUNK_CHECKSUM_TAB + 1
)

// RegisterVersion identifies which of the three registration wire
// formats a CSTOMA_REGISTER payload uses.
type RegisterVersion int

const (
	RegisterV2 RegisterVersion = 2
	RegisterV3 RegisterVersion = 3
	RegisterV4 RegisterVersion = 4
)

// ChunkIDVer is the 12-byte (chunkid:u64, version:u32) pair repeated in the
// registration payload's chunk list.
type ChunkIDVer struct {
	ChunkID uint64
	Version uint32
}
