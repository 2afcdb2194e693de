// Package constants holds the wire-protocol and timing constants shared by
// the chunk-server data plane's job pool, master connection, and read
// session manager.
package constants

import "time"

// Chunk addressing.
const (
	// ChunkSizeBits is the shift for a 64 MiB chunk.
	ChunkSizeBits = 26
	// ChunkSize is the size of one chunk (64 MiB).
	ChunkSize = 1 << ChunkSizeBits
	// ChunkOffsetMask masks a byte offset down to its in-chunk offset.
	ChunkOffsetMask = ChunkSize - 1
)

// Wire framing.
const (
	// HeaderSize is the fixed 8-byte frame header: type(u32) + size(u32).
	HeaderSize = 8
	// MaxPacketSize is the largest body a single frame may carry.
	MaxPacketSize = 10_000
	// MaxReplicateSources bounds the REPLICATE command's source list.
	MaxReplicateSources = 100
	// ReplicateSourceSize is the encoded size of one replication source
	// (chunkid:u64, version:u32, ip:u32, port:u16).
	ReplicateSourceSize = 18
)

// Job pool.
const (
	// JobHashBuckets is the number of buckets in the job-id hash table.
	JobHashBuckets = 1024
	// MasterConnWorkers is the worker count for the job pool the master
	// connection owns.
	MasterConnWorkers = 10
	// MasterConnJobQueueDepth is the BJP bounded work-queue capacity used
	// by the master connection.
	MasterConnJobQueueDepth = 10_000
	// BackpressurePoll is how often readLoop rechecks CanAdd while the
	// work queue is full; no further commands are read from the master
	// until the pool has room.
	BackpressurePoll = 20 * time.Millisecond
)

// Master connection timing.
const (
	// MinTimeout and MaxTimeout clamp the configured master timeout.
	MinTimeout = 2 * time.Second
	MaxTimeout = 65535 * time.Second

	// DefaultMasterHost/Port/Timeout/ReconnectDelay/BackLogs back the
	// MASTER_HOST, MASTER_PORT, MASTER_TIMEOUT, MASTER_RECONNECTION_DELAY
	// and BACK_LOGS configuration keys.
	DefaultMasterHost      = "mfsmaster"
	DefaultMasterPort      = 9420
	DefaultMasterTimeout   = 60 * time.Second
	DefaultReconnectDelay  = 5 * time.Second
	DefaultBackLogsNumber  = 50
	FastReconnectThreshold = 60 * time.Second
)

// Read session manager.
const (
	// ReadHashBuckets is the number of buckets in the inode hash table.
	ReadHashBuckets = 1024
	// Retries bounds the refresh-connection retry loop.
	Retries = 30
	// ReadDelay is the reaper's idle-connection eviction threshold.
	ReadDelay = 1 * time.Second
	// RefreshTimeout is the reaper's sticky-connection revalidation
	// threshold.
	RefreshTimeout = 5 * time.Second
	// NoCopiesSleep is the backoff after a "no valid copies" refresh
	// failure (status -3).
	NoCopiesSleep = 60 * time.Second
)

// Structure log rotation.
const (
	StructureLogName   = "changelog_csback"
	StructureLogSuffix = ".mfs"
)

// Software version advertised in the v4 CSTOMA_REGISTER prefix
// (u16 major, u8 mid, u8 min).
const (
	VersMaj = 1
	VersMid = 0
	VersMin = 0
)
