package bqueue

import (
	"sync"
	"testing"
	"time"
)

func TestQueueFIFOOrder(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 5; i++ {
		q.Put(i, false)
	}
	for i := 0; i < 5; i++ {
		got, ok := q.Get()
		if !ok {
			t.Fatalf("Get() returned ok=false")
		}
		if got != i {
			t.Errorf("Get() = %d, want %d", got, i)
		}
	}
	if !q.IsEmpty() {
		t.Error("expected queue empty after draining")
	}
}

func TestQueueBoundedIsFull(t *testing.T) {
	q := New[int](2)
	q.Put(1, false)
	q.Put(2, false)
	if !q.IsFull() {
		t.Error("expected queue full at capacity")
	}

	done := make(chan struct{})
	go func() {
		q.Put(3, false) // blocks until a slot frees
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Put() on full bounded queue should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	if _, ok := q.Get(); !ok {
		t.Fatal("Get() returned ok=false")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Put() did not unblock after room freed")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueueUnboundedNeverFull(t *testing.T) {
	q := New[int](0)
	for i := 0; i < 1000; i++ {
		q.Put(i, true)
	}
	if q.IsFull() {
		t.Error("unbounded queue reported full")
	}
}

func TestQueueConcurrentProducersConsumers(t *testing.T) {
	q := New[int](8)
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Put(i, false)
		}
	}()

	seen := make([]bool, n)
	for i := 0; i < n; i++ {
		v, ok := q.Get()
		if !ok {
			t.Fatalf("Get() returned ok=false before draining %d items", n)
		}
		if seen[v] {
			t.Fatalf("duplicate value %d", v)
		}
		seen[v] = true
	}
	wg.Wait()
}

func TestQueueTryGetNeverBlocks(t *testing.T) {
	q := New[int](0)
	if _, ok := q.TryGet(); ok {
		t.Error("TryGet on an empty queue should report ok=false")
	}
	q.Put(7, true)
	v, ok := q.TryGet()
	if !ok || v != 7 {
		t.Errorf("TryGet = (%d, %v), want (7, true)", v, ok)
	}
	if !q.IsEmpty() {
		t.Error("queue should be empty after TryGet drained the only item")
	}
}

func TestQueueCloseUnblocksWaiters(t *testing.T) {
	q := New[int](1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false from Get() on closed empty queue")
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not unblock a waiting Get()")
	}
}
