package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestLoopDispatchesOnReadable(t *testing.T) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	ready := make(chan struct{}, 1)
	loop := NewLoop([]Desc{{Fd: fds[0], OnReady: func() {
		var b [1]byte
		unix.Read(fds[0], b[:])
		select {
		case ready <- struct{}{}:
		default:
		}
	}}})

	done := make(chan struct{})
	go func() {
		loop.Serve(20 * time.Millisecond)
		close(done)
	}()

	if _, err := unix.Write(fds[1], []byte{1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("OnReady never fired for a readable descriptor")
	}

	loop.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}
