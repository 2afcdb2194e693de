// Package collab defines the external collaborator interfaces the data
// plane is built against. Kept separate from the packages that consume
// them to avoid circular imports between internal/jobpool, internal/
// masterconn, internal/rpsm and their production implementations.
//
// Nothing in this package is implemented by this module: the on-disk
// chunk store, the block replicator, the chunk-server's own client-facing
// listener, the master RPC stubs, and the opcount database are all
// external processes or subsystems. Only the collabtest fakes ship a
// production-shaped implementation, for tests and the demo command.
package collab

// ChunkIDVer identifies one on-chunk-server chunk copy.
type ChunkIDVer struct {
	ChunkID uint64
	Version uint32
}

// ChunkServer identifies a chunk-server peer by address.
type ChunkServer struct {
	IP   uint32
	Port uint16
}

// ReplicationSource is one entry in a multi-source REPLICATE command.
type ReplicationSource struct {
	ChunkID uint64
	Version uint32
	IP      uint32
	Port    uint16
}

// HDD is the on-disk chunk store: I/O, checksums, and the chunk
// directory.
type HDD interface {
	ChunkOp(chunkID uint64, version, newVersion, copyID uint64, copyVersion uint32, leng uint64) (status uint8)
	Open(chunkID uint64, version uint32) (status uint8)
	Close(chunkID uint64) (status uint8)
	Read(chunkID uint64, version uint32, offset, size uint32) (data []byte, status uint8)
	Write(chunkID uint64, version uint32, offset uint32, data []byte) (status uint8)
	Checksum(chunkID uint64, version uint32) (crc uint32, status uint8)
	ChecksumTab(chunkID uint64, version uint32) (tab [4096]byte, status uint8)

	// SpaceChanged reports whether usage has moved since the last push.
	SpaceChanged() bool
	Space() (used, total uint64, chunkCount uint32, tdUsed, tdTotal uint64, tdChunkCount uint32)
	ErrorCounter() uint32
	DamagedChunks(buf []uint64) []uint64
	LostChunks(buf []uint64) []uint64
	// Chunks appends this chunk-server's full chunk inventory into buf and
	// returns it, for the registration payload's chunks[] list.
	Chunks(buf []ChunkIDVer) []ChunkIDVer
}

// Replicator fetches chunk blocks from peer chunk-servers.
type Replicator interface {
	ReplicateSimple(chunkID uint64, version uint32, ip uint32, port uint16) (status uint8)
	Replicate(chunkID uint64, version uint32, sources []ReplicationSource) (status uint8)
}

// FS is the metadata-master RPC stub the read path uses to resolve a
// chunk index to its chunk-server copies.
type FS interface {
	ReadChunk(inode uint32, indx uint32) (status uint8, fleng uint64, chunkID uint64, version uint32, servers []ChunkServer)
}

// CSDB is the chunk-server opcount database used for least-loaded peer
// selection.
type CSDB interface {
	ReadInc(ip uint32, port uint16)
	ReadDec(ip uint32, port uint16)
	OpCount(ip uint32, port uint16) uint32
}

// CSServ names the chunk-server's own client-facing TCP listener; no
// method set is implemented against it anywhere in this module.
type CSServ interface {
	Addr() string
}
