// Package jobpool implements the background job pool: a fixed
// worker-goroutine pool draining a bounded work queue, reporting
// completions through a self-pipe-backed status queue so a single-threaded
// readiness reactor can wake up exactly when a status is ready to collect.
//
// Key structural points: a hash-keyed job tracking table (id & 0x3FF), a
// "write one byte iff the status queue was empty" wakeup coalescing
// invariant, a monotonic job-id allocator that skips zero, and an
// EXIT-job drain on shutdown, implemented with goroutines, channels-free
// condvar queues (internal/bqueue), and golang.org/x/sys/unix's Pipe2 in
// place of pthreads and a raw pipe(2) pair.
package jobpool

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yynetease/moosefs/chunkdataplane/internal/bqueue"
	"github.com/yynetease/moosefs/chunkdataplane/internal/collab"
	"github.com/yynetease/moosefs/chunkdataplane/internal/logging"
)

// OpKind enumerates the job kinds a worker can execute. OpExit comes
// first so a zero OpKind is never confused with a live op — submission
// always explicitly sets one.
type OpKind int

const (
	OpExit OpKind = iota
	OpInval
	OpChunkOp
	OpOpen
	OpClose
	OpRead
	OpWrite
	OpReplicate
)

// ChunkOpArgs carries the generic chunk-operation parameters.
type ChunkOpArgs struct {
	ChunkID, CopyChunkID             uint64
	Version, NewVersion, CopyVersion uint32
	Length                           uint32
}

// ChunkOCArgs carries open/close parameters.
type ChunkOCArgs struct {
	ChunkID uint64
}

// ChunkReadArgs carries block-read parameters.
type ChunkReadArgs struct {
	ChunkID      uint64
	Version      uint32
	Offset, Size uint32
	BlockNum     uint16
}

// ChunkWriteArgs carries block-write parameters.
type ChunkWriteArgs struct {
	ChunkID      uint64
	Version      uint32
	Offset, Size uint32
	BlockNum     uint16
	Data         []byte
}

// ReplicateArgs carries a replication request and its source list.
type ReplicateArgs struct {
	ChunkID uint64
	Version uint32
	Sources []collab.ReplicationSource
	// Simple, when true with exactly one source, uses Replicator.ReplicateSimple.
	Simple bool
}

// Callback receives a job's completion status (0 == success, matching the
// HDD/Replicator status-byte convention used throughout this module).
type Callback func(status uint8, extra any)

type workItem struct {
	jobID uint32
	op    OpKind
	args  any
}

type statusItem struct {
	jobID  uint32
	status uint8
}

type jobRecord struct {
	jobID     uint32
	callback  Callback
	extra     any
	submitted time.Time
	next      *jobRecord
}

const hashBuckets = 1024
const hashMask = hashBuckets - 1

// Observer receives job lifecycle events for metrics collection.
type Observer interface {
	ObserveJobSubmitted()
	ObserveJob(latencyNs uint64, status uint8)
}

type noopObserver struct{}

func (noopObserver) ObserveJobSubmitted()     {}
func (noopObserver) ObserveJob(uint64, uint8) {}

// Pool is the background job pool: fixed worker goroutines draining a
// bounded work queue, completions funneled through an unbounded status
// queue and announced via a self-pipe wakeup descriptor.
type Pool struct {
	hdd        collab.HDD
	replicator collab.Replicator
	observer   Observer

	workQueue   *bqueue.Queue[workItem]
	statusQueue *bqueue.Queue[statusItem]

	pipeMu sync.Mutex
	rpipe  int
	wpipe  int

	jobsMu sync.Mutex
	hash   [hashBuckets]*jobRecord
	nextID uint32

	workers int
	wg      sync.WaitGroup
}

// New creates a job pool with the given worker count and bounded work
// queue depth. The pool's wakeup fd (see WakeupFD) becomes readable
// exactly when a status is waiting in CheckJobs, and must be registered
// with the reactor's poll set.
func New(workers int, queueDepth int, hdd collab.HDD, replicator collab.Replicator) (*Pool, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	p := &Pool{
		hdd:         hdd,
		replicator:  replicator,
		observer:    noopObserver{},
		workQueue:   bqueue.New[workItem](queueDepth),
		statusQueue: bqueue.New[statusItem](0),
		rpipe:       fds[0],
		wpipe:       fds[1],
		nextID:      1,
		workers:     workers,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p, nil
}

// SetObserver installs a metrics observer. Call before the first
// submission; the field is not synchronized against in-flight jobs.
func (p *Pool) SetObserver(o Observer) {
	p.observer = o
}

// WakeupFD returns the read end of the self-pipe for poll registration.
func (p *Pool) WakeupFD() int {
	return p.rpipe
}

// CanAdd reports whether the bounded work queue has room — used by
// masterconn's backpressure check before accepting another command off
// the wire.
func (p *Pool) CanAdd() bool {
	return !p.workQueue.IsFull()
}

func (p *Pool) newJob(op OpKind, args any, cb Callback, extra any) uint32 {
	p.jobsMu.Lock()
	jobID := p.nextID
	p.nextID++
	if p.nextID == 0 {
		p.nextID = 1
	}
	rec := &jobRecord{jobID: jobID, callback: cb, extra: extra, submitted: time.Now()}
	pos := jobID & hashMask
	rec.next = p.hash[pos]
	p.hash[pos] = rec
	p.jobsMu.Unlock()

	p.workQueue.Put(workItem{jobID: jobID, op: op, args: args}, false)
	p.observer.ObserveJobSubmitted()
	return jobID
}

// Inval submits a job that always completes with EINVAL — used for
// malformed requests that must still round-trip through the pool's
// ordering guarantees.
func (p *Pool) Inval(cb Callback, extra any) uint32 {
	return p.newJob(OpInval, nil, cb, extra)
}

func (p *Pool) ChunkOp(cb Callback, extra any, a ChunkOpArgs) uint32 {
	return p.newJob(OpChunkOp, a, cb, extra)
}

func (p *Pool) Open(cb Callback, extra any, chunkID uint64) uint32 {
	return p.newJob(OpOpen, ChunkOCArgs{ChunkID: chunkID}, cb, extra)
}

func (p *Pool) Close(cb Callback, extra any, chunkID uint64) uint32 {
	return p.newJob(OpClose, ChunkOCArgs{ChunkID: chunkID}, cb, extra)
}

func (p *Pool) Read(cb Callback, extra any, a ChunkReadArgs) uint32 {
	return p.newJob(OpRead, a, cb, extra)
}

func (p *Pool) Write(cb Callback, extra any, a ChunkWriteArgs) uint32 {
	return p.newJob(OpWrite, a, cb, extra)
}

func (p *Pool) Replicate(cb Callback, extra any, a ReplicateArgs) uint32 {
	return p.newJob(OpReplicate, a, cb, extra)
}

// ChangeCallback rewrites the callback for an in-flight job in place.
// Used to redirect a job's completion to a packet-free stub when the
// connection that submitted it is being torn down (cancel by
// redirection).
func (p *Pool) ChangeCallback(jobID uint32, cb Callback, extra any) {
	p.jobsMu.Lock()
	defer p.jobsMu.Unlock()
	for rec := p.hash[jobID&hashMask]; rec != nil; rec = rec.next {
		if rec.jobID == jobID {
			rec.callback = cb
			rec.extra = extra
		}
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		item, ok := p.workQueue.Get()
		if !ok {
			return
		}
		if item.op == OpExit {
			return
		}
		status := p.execute(item.op, item.args)
		p.sendStatus(item.jobID, status)
	}
}

func (p *Pool) execute(op OpKind, args any) uint8 {
	switch op {
	case OpInval:
		return errInval
	case OpChunkOp:
		a := args.(ChunkOpArgs)
		return p.hdd.ChunkOp(a.ChunkID, uint64(a.Version), uint64(a.NewVersion), a.CopyChunkID, a.CopyVersion, uint64(a.Length))
	case OpOpen:
		a := args.(ChunkOCArgs)
		return p.hdd.Open(a.ChunkID, 0)
	case OpClose:
		a := args.(ChunkOCArgs)
		return p.hdd.Close(a.ChunkID)
	case OpRead:
		a := args.(ChunkReadArgs)
		_, status := p.hdd.Read(a.ChunkID, a.Version, a.Offset, a.Size)
		return status
	case OpWrite:
		a := args.(ChunkWriteArgs)
		return p.hdd.Write(a.ChunkID, a.Version, a.Offset, a.Data)
	case OpReplicate:
		a := args.(ReplicateArgs)
		if a.Simple && len(a.Sources) == 1 {
			s := a.Sources[0]
			return p.replicator.ReplicateSimple(a.ChunkID, a.Version, s.IP, s.Port)
		}
		return p.replicator.Replicate(a.ChunkID, a.Version, a.Sources)
	default:
		return errInval
	}
}

// errInval is the EINVAL status byte returned for OpInval jobs.
const errInval = 22

// sendStatus writes exactly one wakeup byte iff the status queue
// transitions from empty to non-empty, so the reactor's poll wait fires
// once per batch of completions rather than once per job.
func (p *Pool) sendStatus(jobID uint32, status uint8) {
	p.pipeMu.Lock()
	wasEmpty := p.statusQueue.IsEmpty()
	p.statusQueue.Put(statusItem{jobID: jobID, status: status}, true)
	if wasEmpty {
		if _, err := unix.Write(p.wpipe, []byte{status}); err != nil {
			logging.Default().WithError(err).Warn("jobpool: wakeup pipe write failed")
		}
	}
	p.pipeMu.Unlock()
}

// receiveStatus pops one status and, if that drains the queue, consumes
// the wakeup byte so the fd goes non-readable again. Pop and drain happen
// atomically under pipeMu: a concurrent sendStatus can never observe the
// transient moment between the last pop and the byte drain, which would
// make it write a second wakeup byte and leave the pipe readable with an
// empty queue. Returns ok=false when no status is pending; otherwise the
// third return is false iff this was the final queued status.
func (p *Pool) receiveStatus() (uint32, uint8, bool, bool) {
	p.pipeMu.Lock()
	defer p.pipeMu.Unlock()
	item, ok := p.statusQueue.TryGet()
	if !ok {
		return 0, 0, false, false
	}
	notLast := !p.statusQueue.IsEmpty()
	if !notLast {
		var discard [1]byte
		if _, err := unix.Read(p.rpipe, discard[:]); err != nil {
			logging.Default().WithError(err).Warn("jobpool: wakeup pipe drain failed")
		}
	}
	return item.jobID, item.status, notLast, true
}

// CheckJobs drains every currently-queued completion, invoking each
// job's callback and removing it from the hash table. Call this when the
// reactor observes the wakeup fd readable.
func (p *Pool) CheckJobs() {
	for {
		jobID, status, notLast, ok := p.receiveStatus()
		if !ok {
			return
		}
		p.jobsMu.Lock()
		pos := jobID & hashMask
		var prev *jobRecord
		rec := p.hash[pos]
		for rec != nil {
			if rec.jobID == jobID {
				if prev == nil {
					p.hash[pos] = rec.next
				} else {
					prev.next = rec.next
				}
				break
			}
			prev = rec
			rec = rec.next
		}
		p.jobsMu.Unlock()
		if rec != nil {
			p.observer.ObserveJob(uint64(time.Since(rec.submitted)), status)
			if rec.callback != nil {
				rec.callback(status, rec.extra)
			}
		}
		if !notLast {
			return
		}
	}
}

// Delete drains the pool: every worker is sent an OpExit job, joined,
// and any statuses that completed in the meantime are delivered via
// CheckJobs before the pipe and queues are torn down.
func (p *Pool) Delete() {
	for i := 0; i < p.workers; i++ {
		p.workQueue.Put(workItem{op: OpExit}, false)
	}
	p.wg.Wait()
	if !p.statusQueue.IsEmpty() {
		p.CheckJobs()
	}
	p.workQueue.Close()
	p.statusQueue.Close()
	unix.Close(p.rpipe)
	unix.Close(p.wpipe)
}
