// Package rpsm implements the read-path session manager: a per-inode
// session cache holding a sticky chunk-server TCP connection, a
// retry/backoff policy for re-resolving a chunk's current copy, and a
// reaper goroutine that closes idle or stale connections and collects
// ended sessions.
package rpsm

import (
	"net"
	"sync"
	"time"

	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
	"github.com/yynetease/moosefs/chunkdataplane/internal/constants"
	"github.com/yynetease/moosefs/chunkdataplane/internal/logging"
)

const (
	chunkIndexShift = constants.ChunkSizeBits
	chunkOffsetMask = constants.ChunkSize - 1
)

// Status codes returned by refreshConnection/Read. The mount layer maps
// these to POSIX errnos.
const (
	StatusOK            = 0
	StatusGenericError  = -1
	StatusStaleInode    = -2
	StatusNoValidCopies = -3
	StatusOutOfMemory   = -4
)

// session is one open readrec: a cursor over one inode's chunk stream
// plus whatever chunk-server connection currently backs it.
type session struct {
	mu sync.Mutex

	inode uint32

	rbuff    []byte
	fleng    uint64
	indx     uint32
	chunkID  uint64
	version  uint32
	conn     net.Conn
	connIP   uint32
	connPort uint16
	vtime    time.Time
	atime    time.Time

	valid bool

	next    *session
	mapNext *session
}

// Dialer opens a connection to a chunk-server, abstracted so tests can
// substitute an in-memory pipe instead of a real TCP dial. Production
// wiring dials net.Dial("tcp", ...) with Nagle disabled.
type Dialer func(ip uint32, port uint16) (net.Conn, error)

// ReadBlock performs one chunk-server block read over an already-open
// connection. Left abstract because the client-facing chunk-server wire
// protocol lives in its own subsystem.
type ReadBlock func(conn net.Conn, chunkID uint64, version uint32, offset, size uint32) ([]byte, error)

const hashBuckets = constants.ReadHashBuckets
const hashMask = hashBuckets - 1

// Manager owns every open read session for this mount, plus the reaper
// goroutine that evicts idle connections and destroyed sessions.
type Manager struct {
	fs   collab.FS
	csdb collab.CSDB
	dial Dialer
	read ReadBlock

	mainLock sync.Mutex
	head     *session
	inodeMap [hashBuckets]*session

	stopCh chan struct{}
	doneCh chan struct{}

	observer Observer
}

// Observer receives RPSM lifecycle events, matching the root Observer's
// session/retry hooks.
type Observer interface {
	ObserveSessionOpened()
	ObserveSessionReaped()
	ObserveReadRetry(status int)
}

type noopObserver struct{}

func (noopObserver) ObserveSessionOpened() {}
func (noopObserver) ObserveSessionReaped() {}
func (noopObserver) ObserveReadRetry(int)  {}

// New creates a read session manager and starts its reaper goroutine.
func New(fs collab.FS, csdb collab.CSDB, dial Dialer, read ReadBlock) *Manager {
	m := &Manager{
		fs:       fs,
		csdb:     csdb,
		dial:     dial,
		read:     read,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		observer: noopObserver{},
	}
	go m.reapLoop()
	return m
}

// SetObserver installs a metrics/logging observer.
func (m *Manager) SetObserver(o Observer) {
	m.mainLock.Lock()
	defer m.mainLock.Unlock()
	m.observer = o
}

// Close stops the reaper goroutine. Sessions already handed out remain
// valid until individually ended with End.
func (m *Manager) Close() {
	close(m.stopCh)
	<-m.doneCh
}

// Session is the opaque handle returned by NewSession.
type Session struct {
	m *Manager
	s *session
}

// NewSession opens a fresh read session for inode: allocated, then
// appended to both the global list and the inode hash bucket.
func (m *Manager) NewSession(inode uint32) *Session {
	s := &session{inode: inode, valid: true}
	m.mainLock.Lock()
	s.next = m.head
	m.head = s
	pos := inode & hashMask
	s.mapNext = m.inodeMap[pos]
	m.inodeMap[pos] = s
	m.mainLock.Unlock()
	m.observer.ObserveSessionOpened()
	return &Session{m: m, s: s}
}

// End closes any open connection, frees the read buffer, and marks the
// session invalid for the reaper to collect.
func (h *Session) End() {
	s := h.s
	s.mu.Lock()
	defer s.mu.Unlock()
	h.m.closeSessionConn(s)
	s.rbuff = nil
	s.valid = false
}

// InvalidateInode closes every open connection for sessions on the given
// inode (but keeps the sessions themselves live): called after a
// truncate/write changes file length so the next Read re-resolves the
// chunk instead of trusting a stale cached connection.
func (m *Manager) InvalidateInode(inode uint32) {
	m.mainLock.Lock()
	defer m.mainLock.Unlock()
	for s := m.inodeMap[inode&hashMask]; s != nil; s = s.mapNext {
		if s.inode == inode {
			s.mu.Lock()
			m.closeSessionConn(s)
			s.mu.Unlock()
		}
	}
}

// refreshConnection re-resolves the session's current chunk index via FS
// and, if a copy exists, opens a fresh sticky connection to the
// least-loaded chunk-server candidate.
func (m *Manager) refreshConnection(s *session) int {
	m.closeSessionConn(s)
	status, fleng, chunkID, version, servers := m.fs.ReadChunk(s.inode, s.indx)
	if status != 0 {
		logging.Default().Warn("rpsm: readchunk error", "inode", s.inode, "indx", s.indx, "status", status)
		if status == 1 { // ENOENT-equivalent
			return StatusStaleInode
		}
		return StatusGenericError
	}
	s.fleng = fleng
	s.chunkID = chunkID
	s.version = version

	if chunkID == 0 && len(servers) == 0 {
		return StatusOK // hole: entirely zero-filled, no chunk-server needed
	}
	if len(servers) == 0 {
		logging.Default().Warn("rpsm: no valid copies", "inode", s.inode, "chunk", chunkID)
		return StatusNoValidCopies
	}

	target := pickLeastLoaded(servers, m.csdb)
	s.vtime = time.Now()
	conn, err := m.dial(target.IP, target.Port)
	if err != nil {
		logging.Default().WithError(err).Warn("rpsm: can't connect to chunkserver", "ip", target.IP, "port", target.Port)
		return StatusGenericError
	}
	s.conn = conn
	s.connIP, s.connPort = target.IP, target.Port
	m.csdb.ReadInc(target.IP, target.Port)
	return StatusOK
}

// closeSessionConn closes s's chunk-server connection, if any, and
// balances the opcount increment issued when it was opened: an open
// connection always carries exactly one unpaired increment.
func (m *Manager) closeSessionConn(s *session) {
	if s.conn == nil {
		return
	}
	s.conn.Close()
	m.csdb.ReadDec(s.connIP, s.connPort)
	s.conn = nil
}

// pickLeastLoaded selects the candidate chunk-server with the lowest
// current opcount; ties go to the earlier candidate in the master's
// list.
func pickLeastLoaded(servers []collab.ChunkServer, csdb collab.CSDB) collab.ChunkServer {
	best := servers[0]
	bestCount := csdb.OpCount(best.IP, best.Port)
	for _, s := range servers[1:] {
		if c := csdb.OpCount(s.IP, s.Port); c < bestCount {
			best, bestCount = s, c
		}
	}
	return best
}

// Read performs a (possibly chunk-boundary-crossing) read with a
// bounded retry loop: a stale inode (-2) short-circuits immediately, no
// valid copies (-3) backs off 60s while consuming 9 extra retries, and
// anything else sleeps 1+cnt/5 seconds between attempts. The result is
// clamped to the file length.
//
// buff selects the destination: pass nil to use
// the session's internal, monotonically-growing buffer, in which case the
// session lock is NOT released on return — the caller must call FreeBuff
// once done consuming the returned slice, which aliases session state.
// Pass a caller-owned buffer of at least size bytes to have Read copy into
// it directly instead; the session lock is released before Read returns
// and there is nothing to free.
func (h *Session) Read(offset uint64, size uint32, buff []byte) ([]byte, int) {
	s := h.s
	s.mu.Lock()
	internal := buff == nil

	release := func() {
		if !internal {
			s.mu.Unlock()
		}
	}

	if size == 0 {
		release()
		return nil, StatusOK
	}

	var dst []byte
	if internal {
		if cap(s.rbuff) < int(size) {
			s.rbuff = make([]byte, size)
		} else {
			s.rbuff = s.rbuff[:size]
		}
		dst = s.rbuff
	} else {
		if len(buff) < int(size) {
			release()
			return nil, StatusOutOfMemory
		}
		dst = buff[:size]
	}

	curroff := offset
	currsize := size
	buffOff := 0
	cnt := 0
	lastErr := StatusGenericError

	for currsize > 0 {
		indx := uint32(curroff >> chunkIndexShift)
		if s.conn == nil || s.indx != indx {
			s.indx = indx
			lastErr = StatusGenericError
			for cnt < constants.Retries {
				cnt++
				lastErr = h.m.refreshConnection(s)
				h.m.observer.ObserveReadRetry(lastErr)
				if lastErr == StatusOK {
					break
				}
				if lastErr == StatusStaleInode {
					release()
					return nil, lastErr
				}
				if lastErr == StatusNoValidCopies {
					time.Sleep(constants.NoCopiesSleep)
					cnt += 9
					continue
				}
				time.Sleep(time.Duration(1+cnt/5) * time.Second)
			}
			if lastErr != StatusOK {
				release()
				return nil, lastErr
			}
		}

		if curroff >= s.fleng {
			break
		}
		if curroff+uint64(currsize) > s.fleng {
			currsize = uint32(s.fleng - curroff)
		}
		chunkOffset := uint32(curroff & chunkOffsetMask)
		chunkSize := currsize
		if chunkOffset+chunkSize > constants.ChunkSize {
			chunkSize = constants.ChunkSize - chunkOffset
		}

		if s.chunkID > 0 {
			block, err := h.m.read(s.conn, s.chunkID, s.version, chunkOffset, chunkSize)
			if err != nil {
				logging.Default().WithError(err).Warn("rpsm: readblock error", "inode", s.inode, "chunk", s.chunkID)
				h.m.closeSessionConn(s)
				time.Sleep(time.Duration(1+cnt/5) * time.Second)
				continue
			}
			copy(dst[buffOff:buffOff+int(chunkSize)], block)
		} else {
			for i := 0; i < int(chunkSize); i++ {
				dst[buffOff+i] = 0
			}
		}
		curroff += uint64(chunkSize)
		currsize -= chunkSize
		buffOff += int(chunkSize)
	}

	s.atime = time.Now()

	var result []byte
	switch {
	case s.fleng <= offset:
		result = nil
	case s.fleng < offset+uint64(size):
		result = dst[:s.fleng-offset]
	default:
		result = dst[:size]
	}
	release()
	return result, StatusOK
}

// FreeBuff releases the session lock pinned by a Read call that used the
// internal buffer (buff == nil). Call exactly
// once after consuming the slice such a Read returned; do not call this
// after a Read that was given a caller-owned buffer, since that variant
// already released the lock before returning.
func (h *Session) FreeBuff() {
	h.s.mu.Unlock()
}

// reapLoop evicts destroyed sessions and closes idle/stale connections,
// sweeping once per ReadDelay/2.
func (m *Manager) reapLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(constants.ReadDelay / 2)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.reapOnce(now)
		}
	}
}

func (m *Manager) reapOnce(now time.Time) {
	m.mainLock.Lock()
	defer m.mainLock.Unlock()

	prev := (*session)(nil)
	for s := m.head; s != nil; {
		next := s.next
		s.mu.Lock()
		if !s.valid {
			s.mu.Unlock()
			if prev == nil {
				m.head = next
			} else {
				prev.next = next
			}
			m.removeFromBucket(s)
			m.observer.ObserveSessionReaped()
		} else {
			if s.conn != nil && (now.Sub(s.atime) > constants.ReadDelay || now.Sub(s.vtime) > constants.RefreshTimeout) {
				m.closeSessionConn(s)
			}
			s.mu.Unlock()
			prev = s
		}
		s = next
	}
}

func (m *Manager) removeFromBucket(target *session) {
	pos := target.inode & hashMask
	cur := m.inodeMap[pos]
	if cur == target {
		m.inodeMap[pos] = target.mapNext
		return
	}
	for cur != nil {
		if cur.mapNext == target {
			cur.mapNext = target.mapNext
			return
		}
		cur = cur.mapNext
	}
}
