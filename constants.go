// Package chunkdataplane wires the Background Job Pool, Master-Connection
// Protocol Engine, and Read Path Session Manager into a single process.
package chunkdataplane

import "github.com/yynetease/moosefs/chunkdataplane/internal/constants"

// Re-exported wire and timing constants, kept at the root so callers
// configuring a Daemon don't need to reach into internal/constants.
const (
	ChunkSize           = constants.ChunkSize
	HeaderSize          = constants.HeaderSize
	MaxPacketSize       = constants.MaxPacketSize
	MaxReplicateSources = constants.MaxReplicateSources
	JobHashBuckets      = constants.JobHashBuckets
	MasterConnWorkers   = constants.MasterConnWorkers
	ReadHashBuckets     = constants.ReadHashBuckets
	Retries             = constants.Retries
)
