// Package collabtest supplies in-memory fakes for the external
// collaborator interfaces in internal/collab, used by every package's
// tests and by cmd/chunkserverd's demo mode. The chunk store is a map of
// independently locked in-memory chunks.
package collabtest

import (
	"sync"

	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
)

type chunkRecord struct {
	mu      sync.RWMutex
	version uint32
	data    []byte
}

// FakeHDD is an in-memory stand-in for the on-disk chunk store.
type FakeHDD struct {
	mu           sync.RWMutex
	chunks       map[uint64]*chunkRecord
	spaceChanged bool
	errCounter   uint32
	damaged      []uint64
	lost         []uint64
}

// NewFakeHDD creates an empty in-memory chunk store.
func NewFakeHDD() *FakeHDD {
	return &FakeHDD{chunks: make(map[uint64]*chunkRecord)}
}

func (h *FakeHDD) get(chunkID uint64) (*chunkRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.chunks[chunkID]
	return c, ok
}

// Seed installs a chunk directly, bypassing Open/ChunkOp, for test setup.
func (h *FakeHDD) Seed(chunkID uint64, version uint32, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks[chunkID] = &chunkRecord{version: version, data: append([]byte(nil), data...)}
	h.spaceChanged = true
}

func (h *FakeHDD) ChunkOp(chunkID uint64, version, newVersion, copyID uint64, copyVersion uint32, leng uint64) uint8 {
	c, ok := h.get(chunkID)
	if !ok {
		return 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if uint64(c.version) != version {
		return 1
	}
	if newVersion != 0 {
		c.version = uint32(newVersion)
	}
	if leng != 0 && uint64(len(c.data)) != leng {
		buf := make([]byte, leng)
		copy(buf, c.data)
		c.data = buf
	}
	return 0
}

// Open succeeds for any stored chunk. A zero version matches whatever
// version is stored, since the job pool's open job carries only a chunk id.
func (h *FakeHDD) Open(chunkID uint64, version uint32) uint8 {
	c, ok := h.get(chunkID)
	if !ok || (version != 0 && c.version != version) {
		return 1
	}
	return 0
}

func (h *FakeHDD) Close(chunkID uint64) uint8 {
	if _, ok := h.get(chunkID); !ok {
		return 1
	}
	return 0
}

func (h *FakeHDD) Read(chunkID uint64, version uint32, offset, size uint32) ([]byte, uint8) {
	c, ok := h.get(chunkID)
	if !ok || c.version != version {
		return nil, 1
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	end := int(offset) + int(size)
	if end > len(c.data) {
		end = len(c.data)
	}
	if int(offset) > len(c.data) {
		return nil, 1
	}
	out := make([]byte, size)
	copy(out, c.data[offset:end])
	return out, 0
}

func (h *FakeHDD) Write(chunkID uint64, version uint32, offset uint32, data []byte) uint8 {
	c, ok := h.get(chunkID)
	if !ok || c.version != version {
		return 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	end := int(offset) + len(data)
	if end > len(c.data) {
		grown := make([]byte, end)
		copy(grown, c.data)
		c.data = grown
	}
	copy(c.data[offset:end], data)
	h.mu.Lock()
	h.spaceChanged = true
	h.mu.Unlock()
	return 0
}

func (h *FakeHDD) Checksum(chunkID uint64, version uint32) (uint32, uint8) {
	c, ok := h.get(chunkID)
	if !ok || c.version != version {
		return 0, 1
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return crc32Of(c.data), 0
}

func (h *FakeHDD) ChecksumTab(chunkID uint64, version uint32) ([4096]byte, uint8) {
	var tab [4096]byte
	c, ok := h.get(chunkID)
	if !ok || c.version != version {
		return tab, 1
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := 0; i*4096 < len(c.data) && i < 1024; i++ {
		end := (i + 1) * 4096
		if end > len(c.data) {
			end = len(c.data)
		}
		v := crc32Of(c.data[i*4096 : end])
		tab[i*4] = byte(v >> 24)
		tab[i*4+1] = byte(v >> 16)
		tab[i*4+2] = byte(v >> 8)
		tab[i*4+3] = byte(v)
	}
	return tab, 0
}

func crc32Of(data []byte) uint32 {
	var crc uint32 = 0xFFFFFFFF
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xEDB88320
			} else {
				crc >>= 1
			}
		}
	}
	return ^crc
}

func (h *FakeHDD) SpaceChanged() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	changed := h.spaceChanged
	h.spaceChanged = false
	return changed
}

func (h *FakeHDD) Space() (used, total uint64, chunkCount uint32, tdUsed, tdTotal uint64, tdChunkCount uint32) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var u uint64
	for _, c := range h.chunks {
		u += uint64(len(c.data))
	}
	return u, u + (1 << 30), uint32(len(h.chunks)), 0, 0, 0
}

func (h *FakeHDD) ErrorCounter() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.errCounter
	h.errCounter = 0
	return n
}

// InjectError bumps the error counter so the next telemetry push emits
// an ERROR_OCCURRED.
func (h *FakeHDD) InjectError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errCounter++
}

func (h *FakeHDD) DamagedChunks(buf []uint64) []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append(buf[:0], h.damaged...)
	h.damaged = nil
	return out
}

func (h *FakeHDD) LostChunks(buf []uint64) []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append(buf[:0], h.lost...)
	h.lost = nil
	return out
}

// MarkDamaged/MarkLost queue ids for the next telemetry push.
func (h *FakeHDD) MarkDamaged(chunkID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.damaged = append(h.damaged, chunkID)
}

func (h *FakeHDD) MarkLost(chunkID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lost = append(h.lost, chunkID)
}

func (h *FakeHDD) Chunks(buf []collab.ChunkIDVer) []collab.ChunkIDVer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := buf[:0]
	for id, c := range h.chunks {
		c.mu.RLock()
		out = append(out, collab.ChunkIDVer{ChunkID: id, Version: c.version})
		c.mu.RUnlock()
	}
	return out
}

// FakeFS is an in-memory stand-in for the metadata master's ReadChunk RPC.
type FakeFS struct {
	mu    sync.RWMutex
	files map[uint32]fakeFile
}

type fakeFile struct {
	fleng   uint64
	chunks  map[uint32]collab.ChunkIDVer
	servers []collab.ChunkServer
}

// NewFakeFS creates an empty fake metadata client.
func NewFakeFS() *FakeFS {
	return &FakeFS{files: make(map[uint32]fakeFile)}
}

// SetFile installs a file's length, per-index chunk identity, and the
// candidate chunk-server list returned for every chunk of that file.
func (f *FakeFS) SetFile(inode uint32, fleng uint64, chunks map[uint32]collab.ChunkIDVer, servers []collab.ChunkServer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[inode] = fakeFile{fleng: fleng, chunks: chunks, servers: servers}
}

// RemoveFile simulates ENOENT for an inode (stale handle).
func (f *FakeFS) RemoveFile(inode uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, inode)
}

func (f *FakeFS) ReadChunk(inode uint32, indx uint32) (uint8, uint64, uint64, uint32, []collab.ChunkServer) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	file, ok := f.files[inode]
	if !ok {
		return 1, 0, 0, 0, nil // ENOENT-equivalent; rpsm maps to status -2
	}
	cv, ok := file.chunks[indx]
	if !ok {
		return 0, file.fleng, 0, 0, nil // hole
	}
	return 0, file.fleng, cv.ChunkID, cv.Version, file.servers
}

// FakeCSDB is an in-memory opcount database.
type FakeCSDB struct {
	mu    sync.Mutex
	count map[collab.ChunkServer]uint32
}

// NewFakeCSDB creates an empty opcount database.
func NewFakeCSDB() *FakeCSDB {
	return &FakeCSDB{count: make(map[collab.ChunkServer]uint32)}
}

func (d *FakeCSDB) key(ip uint32, port uint16) collab.ChunkServer {
	return collab.ChunkServer{IP: ip, Port: port}
}

func (d *FakeCSDB) ReadInc(ip uint32, port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count[d.key(ip, port)]++
}

func (d *FakeCSDB) ReadDec(ip uint32, port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.key(ip, port)
	if d.count[k] > 0 {
		d.count[k]--
	}
}

func (d *FakeCSDB) OpCount(ip uint32, port uint16) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count[d.key(ip, port)]
}

// FakeReplicator is a no-op stand-in that always succeeds.
type FakeReplicator struct{}

func (FakeReplicator) ReplicateSimple(chunkID uint64, version uint32, ip uint32, port uint16) uint8 {
	return 0
}

func (FakeReplicator) Replicate(chunkID uint64, version uint32, sources []collab.ReplicationSource) uint8 {
	return 0
}

var (
	_ collab.HDD        = (*FakeHDD)(nil)
	_ collab.FS         = (*FakeFS)(nil)
	_ collab.CSDB       = (*FakeCSDB)(nil)
	_ collab.Replicator = FakeReplicator{}
)
