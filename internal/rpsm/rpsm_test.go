package rpsm

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
	"github.com/yynetease/moosefs/chunkdataplane/internal/collab/collabtest"
)

// pipeDialer hands back one side of an in-memory net.Pipe per dial,
// recording every (ip,port) it was asked to connect to.
type pipeDialer struct {
	mu    sync.Mutex
	calls []collab.ChunkServer
	peers []net.Conn
}

func (d *pipeDialer) dial(ip uint32, port uint16) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, collab.ChunkServer{IP: ip, Port: port})
	client, server := net.Pipe()
	d.peers = append(d.peers, server)
	return client, nil
}

func newZeroFillRead() ReadBlock {
	return func(conn net.Conn, chunkID uint64, version uint32, offset, size uint32) ([]byte, error) {
		return make([]byte, size), nil
	}
}

func TestReadAcrossChunkBoundary(t *testing.T) {
	fs := collabtest.NewFakeFS()
	csdb := collabtest.NewFakeCSDB()
	dialer := &pipeDialer{}

	const inode = 7
	fleng := uint64(0x5_000_000)
	fs.SetFile(inode, fleng, map[uint32]collab.ChunkIDVer{
		0: {ChunkID: 1, Version: 1},
		1: {ChunkID: 2, Version: 1},
	}, []collab.ChunkServer{{IP: 0x0A000001, Port: 9422}})

	var reads []struct {
		chunkID uint64
		offset  uint32
		size    uint32
	}
	var readMu sync.Mutex
	readFn := ReadBlock(func(conn net.Conn, chunkID uint64, version uint32, offset, size uint32) ([]byte, error) {
		readMu.Lock()
		reads = append(reads, struct {
			chunkID uint64
			offset  uint32
			size    uint32
		}{chunkID, offset, size})
		readMu.Unlock()
		return make([]byte, size), nil
	})

	m := New(fs, csdb, dialer.dial, readFn)
	defer m.Close()

	sess := m.NewSession(inode)
	defer sess.End()

	offset := uint64(0x3_FFF_F00)
	size := uint32(0x200)
	_, status := sess.Read(offset, size, nil)
	require.Equal(t, StatusOK, status)
	sess.FreeBuff()

	require.Len(t, reads, 2, "expected one read per side of the chunk boundary")
	require.EqualValues(t, 1, reads[0].chunkID)
	require.EqualValues(t, 0x3FFFF00, reads[0].offset)
	require.EqualValues(t, 0x100, reads[0].size)
	require.EqualValues(t, 2, reads[1].chunkID)
	require.EqualValues(t, 0, reads[1].offset)
	require.EqualValues(t, 0x100, reads[1].size)
}

func TestReadStaleInodeShortCircuits(t *testing.T) {
	fs := collabtest.NewFakeFS() // inode never installed -> ENOENT on first lookup
	csdb := collabtest.NewFakeCSDB()
	dialer := &pipeDialer{}

	m := New(fs, csdb, dialer.dial, newZeroFillRead())
	defer m.Close()

	sess := m.NewSession(42)
	defer sess.End()

	start := time.Now()
	_, status := sess.Read(0, 10, nil)
	elapsed := time.Since(start)
	sess.FreeBuff()

	require.Equal(t, StatusStaleInode, status)
	require.Less(t, elapsed, 2*time.Second, "stale inode must short-circuit, not retry 30 times")
}

func TestOpcountBalancedAfterEnd(t *testing.T) {
	fs := collabtest.NewFakeFS()
	csdb := collabtest.NewFakeCSDB()
	dialer := &pipeDialer{}

	const inode = 1
	peer := collab.ChunkServer{IP: 0x7F000001, Port: 9422}
	fs.SetFile(inode, 1<<20, map[uint32]collab.ChunkIDVer{0: {ChunkID: 5, Version: 1}}, []collab.ChunkServer{peer})

	m := New(fs, csdb, dialer.dial, newZeroFillRead())
	defer m.Close()

	sess := m.NewSession(inode)
	_, status := sess.Read(0, 16, nil)
	require.Equal(t, StatusOK, status)
	sess.FreeBuff()
	require.EqualValues(t, 1, csdb.OpCount(peer.IP, peer.Port), "readinc must fire exactly once for the live connection")

	sess.End()
	require.EqualValues(t, 0, csdb.OpCount(peer.IP, peer.Port), "readdec must balance readinc once the session ends")
}

func TestPickLeastLoaded(t *testing.T) {
	csdb := collabtest.NewFakeCSDB()
	busy := collab.ChunkServer{IP: 1, Port: 1}
	idle := collab.ChunkServer{IP: 2, Port: 2}
	csdb.ReadInc(busy.IP, busy.Port)
	csdb.ReadInc(busy.IP, busy.Port)

	got := pickLeastLoaded([]collab.ChunkServer{busy, idle}, csdb)
	require.Equal(t, idle, got)
}

func TestInvalidateInodeClosesConnectionWithoutDestroyingSession(t *testing.T) {
	fs := collabtest.NewFakeFS()
	csdb := collabtest.NewFakeCSDB()
	dialer := &pipeDialer{}

	const inode = 3
	peer := collab.ChunkServer{IP: 10, Port: 20}
	fs.SetFile(inode, 1<<20, map[uint32]collab.ChunkIDVer{0: {ChunkID: 9, Version: 1}}, []collab.ChunkServer{peer})

	m := New(fs, csdb, dialer.dial, newZeroFillRead())
	defer m.Close()

	sess := m.NewSession(inode)
	defer sess.End()
	_, status := sess.Read(0, 16, nil)
	require.Equal(t, StatusOK, status)
	sess.FreeBuff()
	require.EqualValues(t, 1, csdb.OpCount(peer.IP, peer.Port))

	m.InvalidateInode(inode)
	require.EqualValues(t, 0, csdb.OpCount(peer.IP, peer.Port), "invalidation must balance the outstanding readinc")

	// A further read re-resolves and re-establishes a fresh connection.
	_, status = sess.Read(0, 16, nil)
	require.Equal(t, StatusOK, status)
	sess.FreeBuff()
	require.EqualValues(t, 1, csdb.OpCount(peer.IP, peer.Port))
}

func TestReaperEvictsInvalidatedSession(t *testing.T) {
	fs := collabtest.NewFakeFS()
	csdb := collabtest.NewFakeCSDB()
	dialer := &pipeDialer{}

	m := New(fs, csdb, dialer.dial, newZeroFillRead())
	defer m.Close()

	sess := m.NewSession(99)
	sess.End()

	require.Eventually(t, func() bool {
		m.mainLock.Lock()
		defer m.mainLock.Unlock()
		for s := m.head; s != nil; s = s.next {
			if s == sess.s {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond, "reaper should remove the invalidated session from the global list")
}
