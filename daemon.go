package chunkdataplane

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/yynetease/moosefs/chunkdataplane/config"
	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
	"github.com/yynetease/moosefs/chunkdataplane/internal/masterconn"
	"github.com/yynetease/moosefs/chunkdataplane/internal/rpsm"
)

// Daemon wires one masterconn.Conn, the rpsm.Manager it shares an Observer
// with, and the Metrics both report into, into a single process handle.
// Rather than a process-wide singleton, construction and teardown order
// are explicit (collaborators first, then the
// master connection — which owns its job pool internally once connected —
// then the read-session manager; Stop shuts the master connection down
// first, then the read-session manager).
type Daemon struct {
	cfg     config.Config
	metrics *Metrics
	conn    *masterconn.Conn
	rpsm    *rpsm.Manager

	mu       sync.Mutex
	cancel   context.CancelFunc
	serveErr error
	done     chan struct{}
}

// Collaborators bundles the external collaborators a Daemon is built
// against: the on-disk chunk store, the block
// replicator, the metadata-master RPC stub, the opcount database, and the
// two read-path hooks (dialing a chunk-server and performing one block
// read over an established connection) the client-facing chunk-server
// listener would otherwise supply.
type Collaborators struct {
	HDD        collab.HDD
	Replicator collab.Replicator
	FS         collab.FS
	CSDB       collab.CSDB
	Dial       rpsm.Dialer
	ReadBlock  rpsm.ReadBlock
}

// NewDaemon constructs a Daemon in its initial, unstarted state: the read
// session manager's reaper goroutine is already running (it owns no
// network resources until a session opens a connection), but the master
// connection has not yet dialed anything — that happens in Start.
func NewDaemon(cfg config.Config, collabs Collaborators) *Daemon {
	metrics := NewMetrics()
	observer := NewMetricsObserver(metrics)

	mcCfg := masterconn.Config{
		MasterHost:        cfg.MasterHost,
		MasterPort:        cfg.MasterPort,
		Timeout:           cfg.Timeout,
		ReconnectionDelay: cfg.ReconnectionDelay,
		BackLogsNumber:    cfg.BackLogsNumber,
		Workers:           cfg.Workers,
		JobQueueDepth:     cfg.JobQueueDepth,
		CSIP:              cfg.CSIP,
		CSPort:            cfg.CSPort,
	}
	conn := masterconn.New(mcCfg, collabs.HDD, collabs.Replicator)
	conn.SetObserver(observer)

	mgr := rpsm.New(collabs.FS, collabs.CSDB, collabs.Dial, collabs.ReadBlock)
	mgr.SetObserver(observer)

	return &Daemon{
		cfg:     cfg,
		metrics: metrics,
		conn:    conn,
		rpsm:    mgr,
	}
}

// Metrics returns the daemon's shared metrics instance.
func (d *Daemon) Metrics() *Metrics { return d.metrics }

// MasterConn returns the owned master connection, for callers that need to
// force a reload (e.g. after a config change invalidates the cached
// master address) or inspect its Mode.
func (d *Daemon) MasterConn() *masterconn.Conn { return d.conn }

// RPSM returns the owned read-session manager, for opening sessions or
// invalidating an inode's cached connections after a write/truncate.
func (d *Daemon) RPSM() *rpsm.Manager { return d.rpsm }

// Read performs one session read and maps the session's sentinel status
// onto the module's structured error type. On error there is never
// anything to free, whichever buffer mode was used: a failed
// internal-buffer read has its pinned session lock released here. On
// success with buff == nil the returned slice aliases the session's
// internal buffer and the caller must call sess.FreeBuff once done with
// it; with a caller-owned buff there is nothing to free.
func (d *Daemon) Read(sess *rpsm.Session, offset uint64, size uint32, buff []byte) ([]byte, error) {
	data, status := sess.Read(offset, size, buff)
	if status != rpsm.StatusOK {
		if buff == nil {
			sess.FreeBuff()
		}
		return nil, AsError("rpsm read", status)
	}
	return data, nil
}

// Start begins the master connection's connect/reconnect loop in the
// background. It returns immediately; call Wait or Stop to manage its
// lifetime.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	done := d.done
	d.mu.Unlock()

	go func() {
		defer close(done)
		err := d.conn.Serve(ctx)
		d.mu.Lock()
		d.serveErr = err
		d.mu.Unlock()
	}()
}

// Stop tears the daemon down in the reverse of Start's construction order:
// the master connection's Serve loop is cancelled (which itself calls
// Terminate on its way out, joining the owned job pool), then the read
// session manager's reaper goroutine is stopped.
func (d *Daemon) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	d.rpsm.Close()
	d.metrics.Stop()
}

// Wait blocks until the master connection's Serve loop exits (normally
// only after Stop cancels its context), returning the error it exited
// with.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serveErr
}

// DialChunkServer is a convenience rpsm.Dialer that dials a chunk-server's
// data-plane TCP listener by reconstructing its address from the packed
// ip/port the master returns, and disables Nagle. Failures come back as a
// *Error so callers can branch on the Code.
func DialChunkServer(ip uint32, port uint16) (net.Conn, error) {
	addr := net.TCPAddr{
		IP:   net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)),
		Port: int(port),
	}
	conn, err := net.DialTimeout("tcp", addr.String(), 5*time.Second)
	if err != nil {
		return nil, WrapError("dial chunkserver", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}
