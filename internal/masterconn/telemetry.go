package masterconn

import (
	"github.com/yynetease/moosefs/chunkdataplane/internal/wire"
)

// CheckHDDReports pushes any pending telemetry: usage changes, newly
// damaged or lost chunks, and accumulated I/O errors. Call this from the
// same periodic tick that drives the heartbeat.
func (c *Conn) CheckHDDReports() {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()
	if mode != ModeHeader && mode != ModeData {
		return
	}

	if c.hdd.SpaceChanged() {
		used, total, chunkCount, tdUsed, tdTotal, tdChunkCount := c.hdd.Space()
		c.send(wire.EncodeSpace(wire.SpaceReport{
			Used: used, Total: total, ChunkCount: chunkCount,
			TDUsed: tdUsed, TDTotal: tdTotal, TDChunkCount: tdChunkCount,
		}))
	}

	// One CSTOMA_ERROR_OCCURRED per accumulated error tick.
	for n := c.hdd.ErrorCounter(); n > 0; n-- {
		c.send(wire.EncodeErrorOccurred())
	}

	if damaged := c.hdd.DamagedChunks(nil); len(damaged) > 0 {
		c.send(wire.EncodeChunkDamaged(damaged))
	}

	if lost := c.hdd.LostChunks(nil); len(lost) > 0 {
		c.send(wire.EncodeChunkLost(lost))
	}
}
