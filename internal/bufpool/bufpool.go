// Package bufpool pools fixed-size scratch byte buffers used while staging
// dirty pages for commit, avoiding an allocation per copy-on-write page.
package bufpool

import "sync"

// Pool hands out []byte buffers of a fixed size.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a Pool that hands out buffers of exactly size bytes.
func New(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() any {
		return make([]byte, size)
	}
	return p
}

// Get returns a zeroed buffer of the pool's configured size.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

// Put returns buf to the pool. buf must have been obtained from Get and not
// resliced to a different length.
func (p *Pool) Put(buf []byte) {
	if len(buf) != p.size {
		return
	}
	p.pool.Put(buf)
}
