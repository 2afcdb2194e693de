package masterconn

import (
	"time"

	"github.com/yynetease/moosefs/chunkdataplane/internal/wire"
)

// sendRegister chooses and sends one of the three registration wire
// formats:
//
//   - v2: reconnected within 60s of the last registration AND Timeout==60
//     (the classic wire shape, no timeout field).
//   - v3: reconnected within 60s but Timeout!=60 (adds a timeout field).
//   - v4: first registration, or reconnected after 60s+ (adds the
//     software-version prefix on top of the v3 shape).
func (c *Conn) sendRegister() {
	now := time.Now()
	oldRegister := !c.lastRegister.IsZero() && now.Sub(c.lastRegister) < 60*time.Second

	used, total, chunkCount, tdUsed, tdTotal, tdChunkCount := c.hdd.Space()
	chunks := c.hdd.Chunks(nil)

	var version wire.RegisterVersion
	switch {
	case oldRegister && c.cfg.Timeout == 60*time.Second:
		version = wire.RegisterV2
	case oldRegister:
		version = wire.RegisterV3
	default:
		version = wire.RegisterV4
	}

	payload := wire.RegisterPayload{
		Version:    version,
		Timeout:    uint16(c.cfg.Timeout / time.Second),
		IP:         c.cfg.CSIP,
		Port:       c.cfg.CSPort,
		UsedSpace:  used,
		TotalSpace: total,
		ChunkCount: chunkCount,
		TDUsed:     tdUsed,
		TDTotal:    tdTotal,
		TDChunks:   tdChunkCount,
		Chunks:     make([]wire.ChunkIDVer, len(chunks)),
	}
	for i, cv := range chunks {
		payload.Chunks[i] = wire.ChunkIDVer{ChunkID: cv.ChunkID, Version: cv.Version}
	}

	c.send(wire.EncodeRegister(payload))
	c.observer.ObserveRegister(int(version))
	c.lastRegister = now
}
