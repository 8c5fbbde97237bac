package duplex

import "sync"

// DefaultBufferSize is the ring capacity Relay uses when given a nil pool.
const DefaultBufferSize = 32 * 1024

// BufferPool hands out fixed-size ring storage. Sizing is a caller policy;
// a pool never grows or shrinks the buffers it returns.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a pool of size-byte buffers. A size <= 0 selects
// DefaultBufferSize.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	p := &BufferPool{size: size}
	p.pool.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Size returns the length of buffers handed out by the pool.
func (p *BufferPool) Size() int { return p.size }

// Get returns a buffer of exactly Size bytes.
func (p *BufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns buf to the pool. Buffers of the wrong size are dropped.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}

var defaultPool = NewBufferPool(DefaultBufferSize)
