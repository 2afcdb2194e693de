package wire

import "sync"

// bufPool is a size-bucketed sync.Pool: fixed buckets avoid per-request
// allocation churn on the hot path, sized for the protocol's
// MaxPacketSize (10,000 bytes).
var bufPool = newBucketedPool([]int{256, 1024, 4096, 10240})

type bucketedPool struct {
	sizes []int
	pools []*sync.Pool
}

func newBucketedPool(sizes []int) *bucketedPool {
	bp := &bucketedPool{sizes: sizes, pools: make([]*sync.Pool, len(sizes))}
	for i, sz := range sizes {
		sz := sz
		bp.pools[i] = &sync.Pool{
			New: func() any {
				b := make([]byte, sz)
				return &b
			},
		}
	}
	return bp
}

// Get returns a buffer of at least n bytes, reused from the smallest
// bucket that fits, or freshly allocated if n exceeds every bucket.
func (bp *bucketedPool) Get(n int) []byte {
	for i, sz := range bp.sizes {
		if n <= sz {
			buf := *(bp.pools[i].Get().(*[]byte))
			return buf[:n]
		}
	}
	return make([]byte, n)
}

// Put returns a buffer to its bucket. Buffers larger than the largest
// bucket are simply dropped for GC to reclaim.
func (bp *bucketedPool) Put(buf []byte) {
	c := cap(buf)
	for i, sz := range bp.sizes {
		if c == sz {
			b := buf[:sz]
			bp.pools[i].Put(&b)
			return
		}
	}
}

// GetBuffer borrows a read/header scratch buffer of at least n bytes.
func GetBuffer(n int) []byte {
	return bufPool.Get(n)
}

// PutBuffer returns a buffer obtained from GetBuffer.
func PutBuffer(buf []byte) {
	bufPool.Put(buf)
}
