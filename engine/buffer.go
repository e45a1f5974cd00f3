// Package engine moves single files between the local filesystem and a
// remote provider. It owns the streaming buffers, progress accounting,
// checksums and the job ledger hooks; batching lives in the orchestrator.
package engine

import "sync"

// DefaultBufferSize is the streaming chunk size used in both directions.
// Progress is reported once per chunk, so it also sets the progress grain.
const DefaultBufferSize = 1 << 20

// BufferPool recycles copy buffers of one fixed size across transfers.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers, or DefaultBufferSize
// ones when size is not positive.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, bp.size)
		return &b
	}
	return bp
}

// Size is the length of every buffer the pool hands out.
func (bp *BufferPool) Size() int { return bp.size }

// Get borrows a buffer. Return it with Put when the copy is done.
func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

// Put returns a buffer. Buffers of a foreign size are dropped.
func (bp *BufferPool) Put(b *[]byte) {
	if b == nil || len(*b) != bp.size {
		return
	}
	bp.pool.Put(b)
}
