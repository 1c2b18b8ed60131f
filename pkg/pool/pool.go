// Package pool holds reusable copy buffers shared by the publisher workers and
// the batch packager. Buffers are pointer-wrapped so Put does not allocate.
package pool

import "sync"

// BufferPool hands out byte slices of one fixed size.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers. Non-positive sizes fall back to 256 KiB.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = 256 * 1024
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Get returns a buffer of full length.
func (bp *BufferPool) Get() *[]byte {
	b := bp.pool.Get().(*[]byte)
	*b = (*b)[:cap(*b)]
	return b
}

// Put returns b to the pool. Buffers of a foreign size are dropped.
func (bp *BufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) != bp.size {
		return
	}
	bp.pool.Put(b)
}

func (bp *BufferPool) Size() int { return bp.size }
