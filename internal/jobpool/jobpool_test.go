package jobpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/yynetease/moosefs/chunkdataplane/internal/collab/collabtest"
)

func newTestPool(t *testing.T, workers int) (*Pool, *collabtest.FakeHDD) {
	t.Helper()
	hdd := collabtest.NewFakeHDD()
	pool, err := New(workers, 16, hdd, collabtest.FakeReplicator{})
	require.NoError(t, err)
	t.Cleanup(pool.Delete)
	return pool, hdd
}

func TestSubmitAndDrain(t *testing.T) {
	pool, hdd := newTestPool(t, 2)
	hdd.Seed(1, 1, []byte("hello world"))

	var mu sync.Mutex
	var got uint8 = 255
	done := make(chan struct{})
	pool.Open(func(status uint8, extra any) {
		mu.Lock()
		got = status
		mu.Unlock()
		close(done)
	}, nil, 1)

	waitForWakeup(t, pool)
	pool.CheckJobs()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, uint8(0), got)
}

func TestWakeupCoalescing(t *testing.T) {
	pool, hdd := newTestPool(t, 4)
	hdd.Seed(1, 1, nil)
	hdd.Seed(2, 1, nil)
	hdd.Seed(3, 1, nil)

	var wg sync.WaitGroup
	wg.Add(3)
	for _, id := range []uint64{1, 2, 3} {
		id := id
		pool.Open(func(status uint8, extra any) { wg.Done() }, nil, id)
	}

	waitForWakeup(t, pool)
	pool.CheckJobs()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all callbacks ran after a single wakeup+CheckJobs cycle")
	}
}

func TestChangeCallbackRedirectsInFlight(t *testing.T) {
	pool, hdd := newTestPool(t, 1)
	hdd.Seed(42, 7, []byte("x"))

	firstCalled := false
	jobID := pool.ChunkOp(func(status uint8, extra any) { firstCalled = true }, nil, ChunkOpArgs{
		ChunkID: 42, Version: 7,
	})

	secondCalled := make(chan uint8, 1)
	pool.ChangeCallback(jobID, func(status uint8, extra any) { secondCalled <- status }, nil)

	waitForWakeup(t, pool)
	pool.CheckJobs()

	require.False(t, firstCalled, "original callback should have been replaced")
	select {
	case status := <-secondCalled:
		require.Equal(t, uint8(0), status)
	case <-time.After(time.Second):
		t.Fatal("redirected callback never ran")
	}
}

func TestCanAddReflectsQueueDepth(t *testing.T) {
	pool, _ := newTestPool(t, 0)
	// No workers: queue fills and CanAdd must flip to false at depth 16.
	for i := 0; i < 16; i++ {
		pool.Inval(nil, nil)
	}
	require.False(t, pool.CanAdd())
}

// waitForWakeup polls the self-pipe's read end for readiness
// (via unix.Poll) without consuming the wakeup byte, so the subsequent
// CheckJobs call still observes and drains it exactly as the reactor would.
func waitForWakeup(t *testing.T, p *Pool) {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(p.WakeupFD()), Events: unix.POLLIN}}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		n, err := unix.Poll(fds, 50)
		if err == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0 {
			return
		}
	}
	t.Fatal("wakeup fd never became readable")
}
