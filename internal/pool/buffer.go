package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// BufferPool bytes.Buffer 复用池
type BufferPool struct {
	pool    sync.Pool
	maxSize int

	gets    atomic.Int64
	news    atomic.Int64
	dropped atomic.Int64
}

// BufferStats 复用池统计
type BufferStats struct {
	Gets    int64 `json:"gets"`
	News    int64 `json:"news"`
	Dropped int64 `json:"dropped"`
}

// NewBufferPool 创建复用池，超过 maxSize 的缓冲区归还时直接丢弃
func NewBufferPool(initSize, maxSize int) *BufferPool {
	p := &BufferPool{maxSize: maxSize}
	p.pool.New = func() any {
		p.news.Add(1)
		return bytes.NewBuffer(make([]byte, 0, initSize))
	}
	return p
}

// Get 获取一个已清空的缓冲区
func (p *BufferPool) Get() *bytes.Buffer {
	p.gets.Add(1)
	return p.pool.Get().(*bytes.Buffer)
}

// Put 归还缓冲区
func (p *BufferPool) Put(b *bytes.Buffer) {
	if b == nil {
		return
	}
	if p.maxSize > 0 && b.Cap() > p.maxSize {
		p.dropped.Add(1)
		return
	}
	b.Reset()
	p.pool.Put(b)
}

// Stats 返回统计信息
func (p *BufferPool) Stats() BufferStats {
	return BufferStats{
		Gets:    p.gets.Load(),
		News:    p.news.Load(),
		Dropped: p.dropped.Load(),
	}
}

// Buffers 事件序列化使用的全局缓冲池
var Buffers = NewBufferPool(4096, 1<<20)
