// Package masterconn implements the master-connection protocol engine:
// the single long-lived TCP connection a chunk-server
// holds to its metadata master, its FREE/CONNECTING/HEADER/DATA/KILL state
// machine, command dispatch, registration, structure-log sink, and
// periodic telemetry push.
//
// HEADER/DATA framing is driven by blocking reads on a dedicated
// goroutine — Go's netpoller already multiplexes socket readiness, so
// hand-rolling a non-blocking readiness layer over net.Conn would only
// fight the standard library. The poll(2) loop in internal/reactor covers
// the one genuinely raw descriptor in this module: the job pool's
// self-pipe wakeup fd.
package masterconn

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
	"github.com/yynetease/moosefs/chunkdataplane/internal/constants"
	"github.com/yynetease/moosefs/chunkdataplane/internal/jobpool"
	"github.com/yynetease/moosefs/chunkdataplane/internal/logging"
	"github.com/yynetease/moosefs/chunkdataplane/internal/reactor"
	"github.com/yynetease/moosefs/chunkdataplane/internal/wire"
)

// Mode is the connection's FSM state:
// FREE/CONNECTING/HEADER/DATA/KILL. HEADER and DATA behave as a single
// "connected" state since framing is handled by the read loop directly
// rather than resumed across separate reactor callbacks; both names are
// kept so Mode reflects which half of a frame is in flight.
type Mode int

const (
	ModeFree Mode = iota
	ModeConnecting
	ModeHeader
	ModeData
	ModeKill
)

func (m Mode) String() string {
	switch m {
	case ModeFree:
		return "FREE"
	case ModeConnecting:
		return "CONNECTING"
	case ModeHeader:
		return "HEADER"
	case ModeData:
		return "DATA"
	case ModeKill:
		return "KILL"
	default:
		return "UNKNOWN"
	}
}

// Config bundles the master-connection configuration keys.
type Config struct {
	MasterHost        string
	MasterPort        int
	Timeout           time.Duration
	ReconnectionDelay time.Duration
	BackLogsNumber    int
	Workers           int
	JobQueueDepth     int
	// CSIP/CSPort are this chunk-server's own advertised address, sent in
	// every registration payload version.
	CSIP   uint32
	CSPort uint16
}

// DefaultConfig returns the stock master-connection configuration.
func DefaultConfig() Config {
	return Config{
		MasterHost:        constants.DefaultMasterHost,
		MasterPort:        constants.DefaultMasterPort,
		Timeout:           constants.DefaultMasterTimeout,
		ReconnectionDelay: constants.DefaultReconnectDelay,
		BackLogsNumber:    constants.DefaultBackLogsNumber,
		Workers:           constants.MasterConnWorkers,
		JobQueueDepth:     constants.MasterConnJobQueueDepth,
	}
}

// Observer receives protocol-level events for metrics/logging, matching
// the root package's Observer shape so a masterconn.Conn can be wired
// straight into chunkdataplane.MetricsObserver.
type Observer interface {
	ObserveRegister(version int)
	ObserveFrame(incoming bool, size int)
	ObserveKill()
	ObserveJobSubmitted()
	ObserveJob(latencyNs uint64, status uint8)
}

type noopObserver struct{}

func (noopObserver) ObserveRegister(int)      {}
func (noopObserver) ObserveFrame(bool, int)   {}
func (noopObserver) ObserveKill()             {}
func (noopObserver) ObserveJobSubmitted()     {}
func (noopObserver) ObserveJob(uint64, uint8) {}

// Conn is the chunk-server's single connection to its master. A process
// runs exactly one.
type Conn struct {
	cfg  Config
	hdd  collab.HDD
	repl collab.Replicator

	mu   sync.Mutex
	mode Mode
	sock net.Conn

	writeMu             sync.Mutex
	lastReadMu          sync.Mutex
	lastRead, lastWrite time.Time
	lastRegister        time.Time

	masterAddr      *net.TCPAddr
	masterAddrValid bool

	jobs *jobpool.Pool

	structLog *structureLogSink
	observer  Observer

	outq *wire.OutputQueue

	dialFn func(ctx context.Context, network, address string) (net.Conn, error)

	killed chan struct{}
	ioWg   sync.WaitGroup
}

// New creates a connection in FREE mode. Call Serve to run the
// reconnect/IO loop, or Connect directly for a single attempt.
func New(cfg Config, hdd collab.HDD, repl collab.Replicator) *Conn {
	return &Conn{
		cfg:       cfg,
		hdd:       hdd,
		repl:      repl,
		mode:      ModeFree,
		structLog: newStructureLogSink(cfg.BackLogsNumber),
		observer:  noopObserver{},
		outq:      wire.NewOutputQueue(),
	}
}

// SetObserver installs a metrics/logging observer.
func (c *Conn) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Mode returns the current FSM state.
func (c *Conn) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Reload invalidates the cached master address, forcing re-resolution on
// the next connect attempt.
func (c *Conn) Reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterAddrValid = false
}

// CanAdd reports whether the owned job pool has room for another
// command; the read loop uses it as backpressure.
func (c *Conn) CanAdd() bool {
	c.mu.Lock()
	jobs := c.jobs
	c.mu.Unlock()
	if jobs == nil {
		return true
	}
	return jobs.CanAdd()
}

func (c *Conn) resolve() error {
	if c.masterAddrValid {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", c.cfg.MasterHost, c.cfg.MasterPort)
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		logging.Default().WithError(err).Warn("masterconn: can't resolve master host/port", "addr", addr)
		return err
	}
	c.masterAddr = tcpAddr
	c.masterAddrValid = true
	return nil
}

// Connect performs one connection attempt and, on success, starts the
// reader/heartbeat/wakeup goroutines and registers with the master. Go's
// dialer blocks, so the CONNECTING phase resolves within this call rather
// than across writability polls.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if err := c.resolve(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mode = ModeConnecting
	dial := c.dialFn
	c.mu.Unlock()

	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	conn, err := dial(ctx, "tcp", c.masterAddr.String())
	if err != nil {
		logging.Default().WithError(err).Warn("masterconn: connect failed")
		c.mu.Lock()
		c.mode = ModeFree
		c.mu.Unlock()
		return err
	}
	return c.onConnected(ctx, conn)
}

// onConnected sets up a freshly established session: fresh job pool,
// reset I/O state, immediate registration, and the background goroutines
// that service the socket and the wakeup fd.
func (c *Conn) onConnected(ctx context.Context, conn net.Conn) error {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	jobs, err := jobpool.New(c.cfg.Workers, c.cfg.JobQueueDepth, c.hdd, c.repl)
	if err != nil {
		logging.Default().WithError(err).Error("masterconn: job pool creation failed")
		conn.Close()
		c.mu.Lock()
		c.mode = ModeFree
		c.mu.Unlock()
		return err
	}

	jobs.SetObserver(c.observer)

	c.mu.Lock()
	c.sock = conn
	c.mode = ModeHeader
	c.jobs = jobs
	c.killed = make(chan struct{})
	killed := c.killed
	c.mu.Unlock()

	now := time.Now()
	c.setLastRead(now)
	c.setLastWrite(now)
	c.sendRegister()

	c.ioWg.Add(2)
	go c.readLoop(killed)
	go c.heartbeatLoop(ctx, killed)
	go c.jobsWakeupLoop(killed)
	return nil
}

func (c *Conn) setLastRead(t time.Time) {
	c.lastReadMu.Lock()
	c.lastRead = t
	c.lastReadMu.Unlock()
}

func (c *Conn) setLastWrite(t time.Time) {
	c.lastReadMu.Lock()
	c.lastWrite = t
	c.lastReadMu.Unlock()
}

func (c *Conn) idleFor(now time.Time) (sinceRead, sinceWrite time.Duration) {
	c.lastReadMu.Lock()
	defer c.lastReadMu.Unlock()
	return now.Sub(c.lastRead), now.Sub(c.lastWrite)
}

// readLoop runs the framing loop: an 8-byte header followed by an
// optional body, dispatched once complete, repeated until the socket errs
// or the connection is killed from elsewhere.
func (c *Conn) readLoop(killed chan struct{}) {
	defer c.ioWg.Done()
	var hdrbuf [wire.HeaderSize]byte
	for {
		for !c.CanAdd() {
			select {
			case <-killed:
				return
			case <-time.After(constants.BackpressurePoll):
			}
		}
		c.mu.Lock()
		sock := c.sock
		c.mu.Unlock()
		if sock == nil {
			return
		}
		sock.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
		if _, err := io.ReadFull(sock, hdrbuf[:]); err != nil {
			c.killWithReason("read header", err)
			return
		}
		c.setLastRead(time.Now())
		h, err := wire.DecodeHeader(hdrbuf[:])
		if err != nil {
			c.killWithReason("decode header", err)
			return
		}
		if h.Size > constants.MaxPacketSize {
			logging.Default().Warn("masterconn: master packet too long", "size", h.Size)
			c.kill()
			return
		}
		var body []byte
		if h.Size > 0 {
			c.mu.Lock()
			if c.mode == ModeHeader {
				c.mode = ModeData
			}
			c.mu.Unlock()
			body = wire.GetBuffer(int(h.Size))
			if _, err := io.ReadFull(sock, body); err != nil {
				wire.PutBuffer(body)
				c.killWithReason("read body", err)
				return
			}
			c.setLastRead(time.Now())
			c.mu.Lock()
			if c.mode == ModeData {
				c.mode = ModeHeader
			}
			c.mu.Unlock()
		}
		c.observer.ObserveFrame(true, wire.HeaderSize+len(body))
		c.dispatch(h.Type, body)
		if body != nil {
			wire.PutBuffer(body)
		}

		select {
		case <-killed:
			return
		default:
		}
	}
}

// heartbeatLoop sends an ANTOAN_NOP when nothing has been written for
// Timeout/2, and kills the connection if no read has occurred within
// Timeout. It also drives CheckHDDReports on the same tick, so telemetry
// is pushed at the heartbeat cadence.
func (c *Conn) heartbeatLoop(ctx context.Context, killed chan struct{}) {
	ticker := time.NewTicker(c.cfg.Timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-killed:
			return
		case now := <-ticker.C:
			sinceRead, sinceWrite := c.idleFor(now)
			if sinceRead > c.cfg.Timeout {
				logging.Default().Warn("masterconn: read timeout, killing connection")
				c.kill()
				return
			}
			c.CheckHDDReports()
			if sinceWrite > c.cfg.Timeout/2 {
				c.send(wire.EncodeNop())
			}
		}
	}
}

// jobsWakeupLoop drains job completions via the reactor package's
// readiness loop over the pool's self-pipe, invoking CheckJobs whenever
// the fd becomes readable — the one place this connection genuinely needs
// raw poll(2) rather than Go's netpoller.
func (c *Conn) jobsWakeupLoop(killed chan struct{}) {
	defer c.ioWg.Done()
	c.mu.Lock()
	jobs := c.jobs
	c.mu.Unlock()
	if jobs == nil {
		return
	}
	loop := reactor.NewLoop([]reactor.Desc{{Fd: jobs.WakeupFD(), OnReady: jobs.CheckJobs}})
	go func() {
		<-killed
		loop.Stop()
	}()
	loop.Serve(200 * time.Millisecond)
}

// send queues pkt on the connection's output list and drains it onto the
// socket in FIFO order.
// Concurrent callers (job-pool completion callbacks, the heartbeat loop)
// serialize on writeMu, so the packet each call attaches is always drained
// before the lock is released — there is never more than one packet
// resident on the queue at a time in practice, but the queue is what keeps
// ordering correct if a write is ever left partially sent.
func (c *Conn) send(pkt *wire.Packet) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.outq.Attach(pkt)
	for !c.outq.Empty() {
		p := c.outq.Front()
		sock.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
		n, err := sock.Write(p.Unsent())
		if err != nil {
			c.killWithReason("write", err)
			return
		}
		c.setLastWrite(time.Now())
		c.observer.ObserveFrame(false, n)
		if p.Advance(n) {
			c.outq.PopFront()
		}
	}
}

func (c *Conn) killWithReason(op string, err error) {
	logging.Default().WithError(err).Info("masterconn: " + op + " failed, killing connection")
	c.kill()
}

// kill transitions to KILL exactly once; every error path funnels here,
// and the killed channel close fans out to every background goroutine.
func (c *Conn) kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == ModeKill {
		return
	}
	c.mode = ModeKill
	if c.killed != nil {
		close(c.killed)
	}
}

// Killed reports whether the connection has transitioned to KILL and needs
// Terminate + a fresh Connect attempt after ReconnectionDelay.
func (c *Conn) Killed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode == ModeKill
}

// Terminate tears down a KILLed connection's socket and job pool and
// returns the connection to FREE so the caller can schedule a reconnect.
// The socket is closed first so the read loop unblocks, then the read and
// wakeup goroutines are joined before the pool is deleted — the pool must
// not disappear under a handler that is still submitting to it.
func (c *Conn) Terminate() {
	c.kill()

	c.mu.Lock()
	sock := c.sock
	jobs := c.jobs
	c.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	c.ioWg.Wait()

	c.mu.Lock()
	c.sock = nil
	c.jobs = nil
	c.mu.Unlock()

	if jobs != nil {
		jobs.Delete()
	}
	c.observer.ObserveKill()

	c.mu.Lock()
	c.mode = ModeFree
	c.mu.Unlock()
}

// Serve runs the connect/reconnect loop until ctx is cancelled, pausing
// ReconnectionDelay between attempts.
func (c *Conn) Serve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Connect(ctx); err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.ReconnectionDelay):
			}
			continue
		}
		c.mu.Lock()
		killed := c.killed
		c.mu.Unlock()
		select {
		case <-killed:
		case <-ctx.Done():
			c.Terminate()
			return ctx.Err()
		}
		c.Terminate()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectionDelay):
		}
	}
}
