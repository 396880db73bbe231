// Package pool provides typed object pools and the buffer pools used when
// encoding and decoding array chunks.
//
// Example usage:
//
//	buf := pool.GetBytes(8 * n)
//	defer pool.PutBytes(buf)
//
//	myPool := pool.New(
//	    func() *MyType { return &MyType{} },
//	    func(obj *MyType) { obj.Reset() },
//	)
//	obj := myPool.Get()
//	defer myPool.Put(obj)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool that resets objects on Put
// and keeps usage statistics. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. newFn is called when the pool is empty; reset, if
// not nil, is called before an object is returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, creating one when the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.gets, 1)
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects created, currently checked out,
// served from the pool (hits) and created on demand (misses).
func (p *Pool[T]) Stats() (allocated, inUse, hits, misses int64) {
	allocated = atomic.LoadInt64(&p.stats.allocated)
	gets := atomic.LoadInt64(&p.stats.gets)
	return allocated, atomic.LoadInt64(&p.stats.inUse), gets - allocated, allocated
}

// defaultChunkBytes covers a 64x64x16 float64 chunk.
const defaultChunkBytes = 64 * 64 * 16 * 8

var (
	// BytePool recycles raw chunk buffers.
	BytePool = New(
		func() *[]byte {
			b := make([]byte, 0, defaultChunkBytes)
			return &b
		},
		func(b *[]byte) { *b = (*b)[:0] },
	)

	// FloatPool recycles decoded chunk values.
	FloatPool = New(
		func() *[]float64 {
			f := make([]float64, 0, defaultChunkBytes/8)
			return &f
		},
		func(f *[]float64) { *f = (*f)[:0] },
	)
)

// GetBytes returns a pooled buffer of length n. Its contents are
// unspecified.
func GetBytes(n int) *[]byte {
	b := BytePool.Get()
	if cap(*b) < n {
		*b = make([]byte, n)
	}
	*b = (*b)[:n]
	return b
}

// PutBytes returns a buffer obtained from GetBytes. nil is ignored.
func PutBytes(b *[]byte) {
	if b != nil {
		BytePool.Put(b)
	}
}

// GetFloats returns a pooled slice of length n. Its contents are
// unspecified.
func GetFloats(n int) *[]float64 {
	f := FloatPool.Get()
	if cap(*f) < n {
		*f = make([]float64, n)
	}
	*f = (*f)[:n]
	return f
}

// PutFloats returns a slice obtained from GetFloats. nil is ignored.
func PutFloats(f *[]float64) {
	if f != nil {
		FloatPool.Put(f)
	}
}
