// Package bufpool provides a pool of fixed-size byte blocks used as the
// backing storage of FrameReaders, so received message bytes are copied into
// recycled blocks. The WebSocket transport's per-frame read buffers are not
// drawn from this pool.
package bufpool

import "sync"

// Pool hands out and reclaims fixed-size byte slices.
type Pool struct {
	blockSize int
	pool      sync.Pool
}

// New creates a Pool that hands out slices of blockSize bytes.
func New(blockSize int) *Pool {
	p := &Pool{blockSize: blockSize}
	p.pool.New = func() interface{} {
		return make([]byte, p.blockSize)
	}
	return p
}

// Get returns a block from the pool, or a freshly allocated one if the pool
// is empty. The returned slice has length blockSize and a capacity of at
// least blockSize.
func (p *Pool) Get() []byte {
	b := p.pool.Get().([]byte)
	if cap(b) < p.blockSize {
		return make([]byte, p.blockSize)
	}
	return b[:p.blockSize]
}

// Put returns a block to the pool for reuse.
func (p *Pool) Put(b []byte) {
	if cap(b) < p.blockSize {
		return
	}
	p.pool.Put(b[:cap(b)])
}

// BlockSize returns the configured block size.
func (p *Pool) BlockSize() int {
	return p.blockSize
}
