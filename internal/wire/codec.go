package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/yynetease/moosefs/chunkdataplane/internal/constants"
)

// Per-command request bodies, decoded from a MATOCS_* frame. Every body
// is a fixed sequence of big-endian fields; each decoder validates the
// exact length its schema implies.

type CreateRequest struct {
	ChunkID uint64
	Version uint32
}

const createRequestSize = 8 + 4

func DecodeCreateRequest(body []byte) (CreateRequest, error) {
	if len(body) != createRequestSize {
		return CreateRequest{}, fmt.Errorf("wire: MATOCS_CREATE wrong size (%d/%d)", len(body), createRequestSize)
	}
	return CreateRequest{
		ChunkID: binary.BigEndian.Uint64(body[0:8]),
		Version: binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

type DeleteRequest struct {
	ChunkID uint64
	Version uint32
}

const deleteRequestSize = 8 + 4

func DecodeDeleteRequest(body []byte) (DeleteRequest, error) {
	if len(body) != deleteRequestSize {
		return DeleteRequest{}, fmt.Errorf("wire: MATOCS_DELETE wrong size (%d/%d)", len(body), deleteRequestSize)
	}
	return DeleteRequest{
		ChunkID: binary.BigEndian.Uint64(body[0:8]),
		Version: binary.BigEndian.Uint32(body[8:12]),
	}, nil
}

type SetVersionRequest struct {
	ChunkID    uint64
	NewVersion uint32
	Version    uint32
}

const setVersionRequestSize = 8 + 4 + 4

func DecodeSetVersionRequest(body []byte) (SetVersionRequest, error) {
	if len(body) != setVersionRequestSize {
		return SetVersionRequest{}, fmt.Errorf("wire: MATOCS_SET_VERSION wrong size (%d/%d)", len(body), setVersionRequestSize)
	}
	return SetVersionRequest{
		ChunkID:    binary.BigEndian.Uint64(body[0:8]),
		NewVersion: binary.BigEndian.Uint32(body[8:12]),
		Version:    binary.BigEndian.Uint32(body[12:16]),
	}, nil
}

type DuplicateRequest struct {
	CopyChunkID uint64
	CopyVersion uint32
	ChunkID     uint64
	Version     uint32
}

const duplicateRequestSize = 8 + 4 + 8 + 4

func DecodeDuplicateRequest(body []byte) (DuplicateRequest, error) {
	if len(body) != duplicateRequestSize {
		return DuplicateRequest{}, fmt.Errorf("wire: MATOCS_DUPLICATE wrong size (%d/%d)", len(body), duplicateRequestSize)
	}
	return DuplicateRequest{
		CopyChunkID: binary.BigEndian.Uint64(body[0:8]),
		CopyVersion: binary.BigEndian.Uint32(body[8:12]),
		ChunkID:     binary.BigEndian.Uint64(body[12:20]),
		Version:     binary.BigEndian.Uint32(body[20:24]),
	}, nil
}

type TruncateRequest struct {
	ChunkID    uint64
	Length     uint32
	NewVersion uint32
	Version    uint32
}

const truncateRequestSize = 8 + 4 + 4 + 4

func DecodeTruncateRequest(body []byte) (TruncateRequest, error) {
	if len(body) != truncateRequestSize {
		return TruncateRequest{}, fmt.Errorf("wire: MATOCS_TRUNCATE wrong size (%d/%d)", len(body), truncateRequestSize)
	}
	return TruncateRequest{
		ChunkID:    binary.BigEndian.Uint64(body[0:8]),
		Length:     binary.BigEndian.Uint32(body[8:12]),
		NewVersion: binary.BigEndian.Uint32(body[12:16]),
		Version:    binary.BigEndian.Uint32(body[16:20]),
	}, nil
}

type DupTruncRequest struct {
	CopyChunkID uint64
	CopyVersion uint32
	ChunkID     uint64
	Version     uint32
	Length      uint32
}

const dupTruncRequestSize = 8 + 4 + 8 + 4 + 4

func DecodeDupTruncRequest(body []byte) (DupTruncRequest, error) {
	if len(body) != dupTruncRequestSize {
		return DupTruncRequest{}, fmt.Errorf("wire: MATOCS_DUPTRUNC wrong size (%d/%d)", len(body), dupTruncRequestSize)
	}
	return DupTruncRequest{
		CopyChunkID: binary.BigEndian.Uint64(body[0:8]),
		CopyVersion: binary.BigEndian.Uint32(body[8:12]),
		ChunkID:     binary.BigEndian.Uint64(body[12:20]),
		Version:     binary.BigEndian.Uint32(body[20:24]),
		Length:      binary.BigEndian.Uint32(body[24:28]),
	}, nil
}

type ChunkOpRequest struct {
	ChunkID     uint64
	Version     uint32
	NewVersion  uint32
	CopyChunkID uint64
	CopyVersion uint32
	Length      uint32
}

const chunkOpRequestSize = 8 + 4 + 4 + 8 + 4 + 4

func DecodeChunkOpRequest(body []byte) (ChunkOpRequest, error) {
	if len(body) != chunkOpRequestSize {
		return ChunkOpRequest{}, fmt.Errorf("wire: MATOCS_CHUNKOP wrong size (%d/%d)", len(body), chunkOpRequestSize)
	}
	return ChunkOpRequest{
		ChunkID:     binary.BigEndian.Uint64(body[0:8]),
		Version:     binary.BigEndian.Uint32(body[8:12]),
		NewVersion:  binary.BigEndian.Uint32(body[12:16]),
		CopyChunkID: binary.BigEndian.Uint64(body[16:24]),
		CopyVersion: binary.BigEndian.Uint32(body[24:28]),
		Length:      binary.BigEndian.Uint32(body[28:32]),
	}, nil
}

// ReplicateRequest covers both the single-source (ip/port) shorthand and
// the multi-source form (1..100 ReplicationSource entries).
type ReplicateRequest struct {
	ChunkID uint64
	Version uint32
	// Simple is true when the frame used the 18-byte ip/port shorthand.
	Simple bool
	IP     uint32
	Port   uint16
	// Sources holds the multi-source list when !Simple.
	Sources []ReplicationSource
}

type ReplicationSource struct {
	ChunkID uint64
	Version uint32
	IP      uint32
	Port    uint16
}

const (
	replicateHeaderSize   = 8 + 4
	replicateSimpleSize   = replicateHeaderSize + 4 + 2
	replicationSourceSize = 18
	maxReplicateSources   = 100
)

func DecodeReplicateRequest(body []byte) (ReplicateRequest, error) {
	if len(body) == replicateSimpleSize {
		return ReplicateRequest{
			ChunkID: binary.BigEndian.Uint64(body[0:8]),
			Version: binary.BigEndian.Uint32(body[8:12]),
			Simple:  true,
			IP:      binary.BigEndian.Uint32(body[12:16]),
			Port:    binary.BigEndian.Uint16(body[16:18]),
		}, nil
	}
	rem := len(body) - replicateHeaderSize
	if rem < replicationSourceSize || rem > replicationSourceSize*maxReplicateSources || rem%replicationSourceSize != 0 {
		return ReplicateRequest{}, fmt.Errorf("wire: MATOCS_REPLICATE wrong size (%d/18|12+n*18[n:1..100])", len(body))
	}
	req := ReplicateRequest{
		ChunkID: binary.BigEndian.Uint64(body[0:8]),
		Version: binary.BigEndian.Uint32(body[8:12]),
	}
	n := rem / replicationSourceSize
	req.Sources = make([]ReplicationSource, n)
	off := replicateHeaderSize
	for i := 0; i < n; i++ {
		req.Sources[i] = ReplicationSource{
			ChunkID: binary.BigEndian.Uint64(body[off : off+8]),
			Version: binary.BigEndian.Uint32(body[off+8 : off+12]),
			IP:      binary.BigEndian.Uint32(body[off+12 : off+16]),
			Port:    binary.BigEndian.Uint16(body[off+16 : off+18]),
		}
		off += replicationSourceSize
	}
	return req, nil
}

// StructureLogRequest carries one changelog line tagged with a version
// number. The body's shape is selected by its leading byte: 0xFF marks an
// 8-byte (u64) version tag, anything else is the high byte of a plain
// 4-byte (u32) version tag. The text that follows must end in a NUL,
// which this decoder strips.
type StructureLogRequest struct {
	Is64Bit bool
	Version uint64
	Line    string
}

func DecodeStructureLogRequest(body []byte) (StructureLogRequest, error) {
	if len(body) < 1 {
		return StructureLogRequest{}, fmt.Errorf("wire: MATOCS_STRUCTURE_LOG empty body")
	}
	var version uint64
	var is64 bool
	var text []byte
	if body[0] == 0xFF {
		if len(body) < 1+8+1 {
			return StructureLogRequest{}, fmt.Errorf("wire: MATOCS_STRUCTURE_LOG wrong size (%d/1+8+data)", len(body))
		}
		version = binary.BigEndian.Uint64(body[1:9])
		is64 = true
		text = body[9:]
	} else {
		if len(body) < 4+1 {
			return StructureLogRequest{}, fmt.Errorf("wire: MATOCS_STRUCTURE_LOG wrong size (%d/4+data)", len(body))
		}
		version = uint64(binary.BigEndian.Uint32(body[0:4]))
		text = body[4:]
	}
	if text[len(text)-1] != 0 {
		return StructureLogRequest{}, fmt.Errorf("wire: MATOCS_STRUCTURE_LOG missing trailing NUL")
	}
	return StructureLogRequest{Is64Bit: is64, Version: version, Line: string(text[:len(text)-1])}, nil
}

// Response encoders. Each builds the reply for one command:
// chunkid/copychunkid echoed back plus a trailing status byte, as a
// detached packet. The master connection calls them from the job's
// completion callback, once the status is known.

func EncodeCreateResponse(chunkID uint64, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_CREATE, 8+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], chunkID)
	b[8] = status
	return p
}

func EncodeDeleteResponse(chunkID uint64, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_DELETE, 8+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], chunkID)
	b[8] = status
	return p
}

func EncodeSetVersionResponse(chunkID uint64, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_SET_VERSION, 8+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], chunkID)
	b[8] = status
	return p
}

func EncodeDuplicateResponse(copyChunkID uint64, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_DUPLICATE, 8+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], copyChunkID)
	b[8] = status
	return p
}

func EncodeTruncateResponse(chunkID uint64, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_TRUNCATE, 8+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], chunkID)
	b[8] = status
	return p
}

func EncodeDupTruncResponse(copyChunkID uint64, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_DUPTRUNC, 8+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], copyChunkID)
	b[8] = status
	return p
}

func EncodeChunkOpResponse(req ChunkOpRequest, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_CHUNKOP, 8+4+4+8+4+4+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], req.ChunkID)
	binary.BigEndian.PutUint32(b[8:12], req.Version)
	binary.BigEndian.PutUint32(b[12:16], req.NewVersion)
	binary.BigEndian.PutUint64(b[16:24], req.CopyChunkID)
	binary.BigEndian.PutUint32(b[24:28], req.CopyVersion)
	binary.BigEndian.PutUint32(b[28:32], req.Length)
	b[32] = status
	return p
}

func EncodeReplicateResponse(chunkID uint64, version uint32, status uint8) *Packet {
	p := NewDetachedPacket(CSTOMA_REPLICATE, 8+4+1)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], chunkID)
	binary.BigEndian.PutUint32(b[8:12], version)
	b[12] = status
	return p
}

// EncodeNop builds the shared ANTOAN_NOP keepalive packet (empty body).
func EncodeNop() *Packet {
	return NewDetachedPacket(ANTOAN_NOP, 0)
}

// EncodeErrorOccurred builds the CSTOMA_ERROR_OCCURRED telemetry packet
// (empty body; the event itself is the payload).
func EncodeErrorOccurred() *Packet {
	return NewDetachedPacket(CSTOMA_ERROR_OCCURRED, 0)
}

// EncodeChunkDamaged builds the CSTOMA_CHUNK_DAMAGED telemetry packet, one
// u64 chunk id per entry.
func EncodeChunkDamaged(chunkIDs []uint64) *Packet {
	p := NewDetachedPacket(CSTOMA_CHUNK_DAMAGED, 8*len(chunkIDs))
	b := p.Body()
	for i, id := range chunkIDs {
		binary.BigEndian.PutUint64(b[i*8:i*8+8], id)
	}
	return p
}

// EncodeChunkLost builds the CSTOMA_CHUNK_LOST telemetry packet.
func EncodeChunkLost(chunkIDs []uint64) *Packet {
	p := NewDetachedPacket(CSTOMA_CHUNK_LOST, 8*len(chunkIDs))
	b := p.Body()
	for i, id := range chunkIDs {
		binary.BigEndian.PutUint64(b[i*8:i*8+8], id)
	}
	return p
}

// SpaceReport is the payload of CSTOMA_SPACE.
type SpaceReport struct {
	Used, Total     uint64
	ChunkCount      uint32
	TDUsed, TDTotal uint64
	TDChunkCount    uint32
}

// EncodeSpace builds the CSTOMA_SPACE telemetry packet.
func EncodeSpace(r SpaceReport) *Packet {
	p := NewDetachedPacket(CSTOMA_SPACE, 8+8+4+8+8+4)
	b := p.Body()
	binary.BigEndian.PutUint64(b[0:8], r.Used)
	binary.BigEndian.PutUint64(b[8:16], r.Total)
	binary.BigEndian.PutUint32(b[16:20], r.ChunkCount)
	binary.BigEndian.PutUint64(b[20:28], r.TDUsed)
	binary.BigEndian.PutUint64(b[28:36], r.TDTotal)
	binary.BigEndian.PutUint32(b[36:40], r.TDChunkCount)
	return p
}

// RegisterPayload is the decoded content of a CSTOMA_REGISTER frame.
// IP/Port are common to all three versions; the timeout field appears in
// v3 and v4, and the software-version prefix is v4-exclusive.
type RegisterPayload struct {
	Version    RegisterVersion
	Timeout    uint16 // v3/v4 only
	IP         uint32 // chunkserver's own address, all versions
	Port       uint16
	UsedSpace  uint64
	TotalSpace uint64
	ChunkCount uint32
	TDUsed     uint64
	TDTotal    uint64
	TDChunks   uint32
	Chunks     []ChunkIDVer
}

// EncodeRegister builds a CSTOMA_REGISTER packet in the wire shape chosen
// by p.Version:
// regver(1) -> [v4: versmaj(2)/versmid(1)/versmin(1)] -> myip(4) ->
// myport(2) -> [v3/v4: timeout(2)] -> usedspace(8) -> totalspace(8) ->
// chunkcount(4) -> tdusedspace(8) -> tdtotalspace(8) -> tdchunkcount(4) ->
// chunks[].
func EncodeRegister(p RegisterPayload) *Packet {
	n := len(p.Chunks)
	var bodySize int
	switch p.Version {
	case RegisterV2:
		bodySize = 1 + 4 + 2 + 8 + 8 + 4 + 8 + 8 + 4 + n*(8+4)
	case RegisterV3:
		bodySize = 1 + 4 + 2 + 2 + 8 + 8 + 4 + 8 + 8 + 4 + n*(8+4)
	default: // v4
		bodySize = 1 + 4 + 4 + 2 + 2 + 8 + 8 + 4 + 8 + 8 + 4 + n*(8+4)
	}
	pkt := NewDetachedPacket(CSTOMA_REGISTER, bodySize)
	b := pkt.Body()
	off := 0
	b[off] = byte(p.Version)
	off++
	if p.Version == RegisterV4 {
		binary.BigEndian.PutUint16(b[off:off+2], constants.VersMaj)
		off += 2
		b[off] = constants.VersMid
		off++
		b[off] = constants.VersMin
		off++
	}
	binary.BigEndian.PutUint32(b[off:off+4], p.IP)
	off += 4
	binary.BigEndian.PutUint16(b[off:off+2], p.Port)
	off += 2
	if p.Version >= RegisterV3 {
		binary.BigEndian.PutUint16(b[off:off+2], p.Timeout)
		off += 2
	}
	binary.BigEndian.PutUint64(b[off:off+8], p.UsedSpace)
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], p.TotalSpace)
	off += 8
	binary.BigEndian.PutUint32(b[off:off+4], p.ChunkCount)
	off += 4
	binary.BigEndian.PutUint64(b[off:off+8], p.TDUsed)
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], p.TDTotal)
	off += 8
	binary.BigEndian.PutUint32(b[off:off+4], p.TDChunks)
	off += 4
	for _, c := range p.Chunks {
		binary.BigEndian.PutUint64(b[off:off+8], c.ChunkID)
		off += 8
		binary.BigEndian.PutUint32(b[off:off+4], c.Version)
		off += 4
	}
	return pkt
}
