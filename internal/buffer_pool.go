package internal

import (
	"bytes"
	"sync"
)

// BufferPool recycles byte buffers used to assemble frames.
// Buffers that grew beyond maxSize are dropped instead of being pooled.
type BufferPool struct {
	pool    sync.Pool
	maxSize int
}

func NewBufferPool(initialSize, maxSize int) *BufferPool {
	return &BufferPool{
		maxSize: maxSize,
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialSize))
			},
		},
	}
}

func (p *BufferPool) Get() *bytes.Buffer {
	return p.pool.Get().(*bytes.Buffer)
}

func (p *BufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > p.maxSize {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
