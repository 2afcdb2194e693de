// Package reactor provides a small poll(2)-backed readiness loop over raw
// file descriptors, used for the one descriptor in this module that isn't
// already multiplexed by Go's own netpoller: the background job pool's
// self-pipe wakeup fd. The loop blocks until a descriptor is ready, then
// hands it to its per-descriptor callback.
package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Desc is one descriptor this loop watches, paired with the callback to
// run when it becomes readable.
type Desc struct {
	Fd      int
	OnReady func()
}

// Loop polls a fixed set of descriptors and dispatches OnReady for each
// one that becomes readable, until Stop is called. Used to combine the
// job pool wakeup fd with any other raw descriptors a future collaborator
// might expose, without spinning up Go's netpoller for them.
type Loop struct {
	descs []Desc
	stop  chan struct{}
}

// NewLoop creates a reactor over the given descriptors.
func NewLoop(descs []Desc) *Loop {
	return &Loop{descs: descs, stop: make(chan struct{})}
}

// Serve blocks, polling every registered descriptor with a bounded
// timeout so Stop is observed promptly, until Stop is called.
func (l *Loop) Serve(pollInterval time.Duration) {
	pfds := make([]unix.PollFd, len(l.descs))
	for i, d := range l.descs {
		pfds[i] = unix.PollFd{Fd: int32(d.Fd), Events: unix.POLLIN}
	}
	ms := int(pollInterval / time.Millisecond)
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		for i := range pfds {
			pfds[i].Revents = 0
		}
		n, err := unix.Poll(pfds, ms)
		if err != nil && err != unix.EINTR {
			return
		}
		if n <= 0 {
			continue
		}
		for i, pfd := range pfds {
			if pfd.Revents&unix.POLLIN != 0 {
				l.descs[i].OnReady()
			}
		}
	}
}

// Stop ends a running Serve loop.
func (l *Loop) Stop() {
	close(l.stop)
}
