package masterconn

import (
	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
	"github.com/yynetease/moosefs/chunkdataplane/internal/jobpool"
	"github.com/yynetease/moosefs/chunkdataplane/internal/logging"
	"github.com/yynetease/moosefs/chunkdataplane/internal/wire"
)

// dispatch routes one decoded MATOCS_* frame to its handler. An unknown
// type or a malformed body kills the connection rather than trying to
// resynchronize the stream.
func (c *Conn) dispatch(msgType uint32, body []byte) {
	switch msgType {
	case wire.ANTOAN_NOP:
		// keepalive only; lastRead was already bumped by readLoop.
	case wire.MATOCS_CREATE:
		c.handleCreate(body)
	case wire.MATOCS_DELETE:
		c.handleDelete(body)
	case wire.MATOCS_SET_VERSION:
		c.handleSetVersion(body)
	case wire.MATOCS_DUPLICATE:
		c.handleDuplicate(body)
	case wire.MATOCS_TRUNCATE:
		c.handleTruncate(body)
	case wire.MATOCS_DUPTRUNC:
		c.handleDupTrunc(body)
	case wire.MATOCS_CHUNKOP:
		c.handleChunkOp(body)
	case wire.MATOCS_REPLICATE:
		c.handleReplicate(body)
	case wire.MATOCS_STRUCTURE_LOG:
		c.handleStructureLog(body)
	case wire.MATOCS_STRUCTURE_LOG_ROTATE:
		c.handleStructureLogRotate(body)
	case wire.MATOCS_CHUNK_CHECKSUM:
		c.handleChunkChecksum(body)
	case wire.MATOCS_CHUNK_CHECKSUM_TAB:
		c.handleChunkChecksumTab(body)
	default:
		logging.Default().Warn("masterconn: got unknown message", "type", msgType)
		c.kill()
	}
}

func (c *Conn) handleCreate(body []byte) {
	req, err := wire.DecodeCreateRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	c.jobs.ChunkOp(func(status uint8, _ any) {
		c.send(wire.EncodeCreateResponse(req.ChunkID, status))
	}, nil, jobpool.ChunkOpArgs{ChunkID: req.ChunkID, Version: req.Version, NewVersion: req.Version})
}

func (c *Conn) handleDelete(body []byte) {
	req, err := wire.DecodeDeleteRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	c.jobs.ChunkOp(func(status uint8, _ any) {
		c.send(wire.EncodeDeleteResponse(req.ChunkID, status))
	}, nil, jobpool.ChunkOpArgs{ChunkID: req.ChunkID, Version: req.Version})
}

func (c *Conn) handleSetVersion(body []byte) {
	req, err := wire.DecodeSetVersionRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	c.jobs.ChunkOp(func(status uint8, _ any) {
		c.send(wire.EncodeSetVersionResponse(req.ChunkID, status))
	}, nil, jobpool.ChunkOpArgs{ChunkID: req.ChunkID, Version: req.Version, NewVersion: req.NewVersion})
}

func (c *Conn) handleDuplicate(body []byte) {
	req, err := wire.DecodeDuplicateRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	c.jobs.ChunkOp(func(status uint8, _ any) {
		c.send(wire.EncodeDuplicateResponse(req.CopyChunkID, status))
	}, nil, jobpool.ChunkOpArgs{
		ChunkID: req.ChunkID, Version: req.Version, NewVersion: req.Version,
		CopyChunkID: req.CopyChunkID, CopyVersion: req.CopyVersion,
	})
}

func (c *Conn) handleTruncate(body []byte) {
	req, err := wire.DecodeTruncateRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	c.jobs.ChunkOp(func(status uint8, _ any) {
		c.send(wire.EncodeTruncateResponse(req.ChunkID, status))
	}, nil, jobpool.ChunkOpArgs{
		ChunkID: req.ChunkID, Version: req.Version, NewVersion: req.NewVersion, Length: req.Length,
	})
}

func (c *Conn) handleDupTrunc(body []byte) {
	req, err := wire.DecodeDupTruncRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	c.jobs.ChunkOp(func(status uint8, _ any) {
		c.send(wire.EncodeDupTruncResponse(req.CopyChunkID, status))
	}, nil, jobpool.ChunkOpArgs{
		ChunkID: req.ChunkID, Version: req.Version, NewVersion: req.Version,
		CopyChunkID: req.CopyChunkID, CopyVersion: req.CopyVersion, Length: req.Length,
	})
}

func (c *Conn) handleChunkOp(body []byte) {
	req, err := wire.DecodeChunkOpRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	c.jobs.ChunkOp(func(status uint8, _ any) {
		c.send(wire.EncodeChunkOpResponse(req, status))
	}, nil, jobpool.ChunkOpArgs{
		ChunkID: req.ChunkID, Version: req.Version, NewVersion: req.NewVersion,
		CopyChunkID: req.CopyChunkID, CopyVersion: req.CopyVersion, Length: req.Length,
	})
}

func (c *Conn) handleReplicate(body []byte) {
	req, err := wire.DecodeReplicateRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	args := jobpool.ReplicateArgs{ChunkID: req.ChunkID, Version: req.Version}
	if req.Simple {
		args.Simple = true
		args.Sources = []collab.ReplicationSource{{IP: req.IP, Port: req.Port}}
	} else {
		args.Sources = make([]collab.ReplicationSource, len(req.Sources))
		for i, s := range req.Sources {
			args.Sources[i] = collab.ReplicationSource{ChunkID: s.ChunkID, Version: s.Version, IP: s.IP, Port: s.Port}
		}
	}
	c.jobs.Replicate(func(status uint8, _ any) {
		c.send(wire.EncodeReplicateResponse(req.ChunkID, req.Version, status))
	}, nil, args)
}

func (c *Conn) handleStructureLog(body []byte) {
	req, err := wire.DecodeStructureLogRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	if err := c.structLog.Append(req.Version, req.Line); err != nil {
		logging.Default().WithError(err).Warn("masterconn: structure log append failed")
	}
}

func (c *Conn) handleStructureLogRotate(body []byte) {
	if len(body) != 0 {
		logging.Default().Warn("masterconn: MATOCS_STRUCTURE_LOG_ROTATE wrong size", "size", len(body))
		c.kill()
		return
	}
	if err := c.structLog.Rotate(); err != nil {
		logging.Default().WithError(err).Warn("masterconn: structure log rotate failed")
	}
}

// handleChunkChecksum serves MATOCS_CHUNK_CHECKSUM synchronously: the
// reply is chunkid(8)+version(4)+checksum(4) on success, or
// chunkid(8)+version(4)+status(1) on error.
func (c *Conn) handleChunkChecksum(body []byte) {
	req, err := wire.DecodeCreateRequest(body) // same 12-byte (chunkid,version) shape
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	crc, status := c.hdd.Checksum(req.ChunkID, req.Version)
	if status != 0 {
		p := wire.NewDetachedPacket(wire.CSTOMA_CHUNK_CHECKSUM, 8+4+1)
		b := p.Body()
		putU64(b[0:8], req.ChunkID)
		putU32(b[8:12], req.Version)
		b[12] = status
		c.send(p)
		return
	}
	p := wire.NewDetachedPacket(wire.CSTOMA_CHUNK_CHECKSUM, 8+4+4)
	b := p.Body()
	putU64(b[0:8], req.ChunkID)
	putU32(b[8:12], req.Version)
	putU32(b[12:16], crc)
	c.send(p)
}

// handleChunkChecksumTab serves MATOCS_CHUNK_CHECKSUM_TAB synchronously:
// chunkid(8)+version(4)+tab(4096) on success, chunkid(8)+version(4)+status(1)
// on error.
func (c *Conn) handleChunkChecksumTab(body []byte) {
	req, err := wire.DecodeCreateRequest(body)
	if err != nil {
		logging.Default().Warn(err.Error())
		c.kill()
		return
	}
	tab, status := c.hdd.ChecksumTab(req.ChunkID, req.Version)
	if status != 0 {
		p := wire.NewDetachedPacket(wire.CSTOMA_CHUNK_CHECKSUM_TAB, 8+4+1)
		b := p.Body()
		putU64(b[0:8], req.ChunkID)
		putU32(b[8:12], req.Version)
		b[12] = status
		c.send(p)
		return
	}
	p := wire.NewDetachedPacket(wire.CSTOMA_CHUNK_CHECKSUM_TAB, 8+4+len(tab))
	b := p.Body()
	putU64(b[0:8], req.ChunkID)
	putU32(b[8:12], req.Version)
	copy(b[12:12+len(tab)], tab[:])
	c.send(p)
}
