// Package session implements the §5 concurrency/resource model: a Session
// drives one connection pair (frontend/backend Channel) as two pump
// goroutines (plus a Conn-closing watcher) coordinated with golang.org/x/sync/errgroup and a single mutex, and
// Pool is the process-wide fixed-capacity arena spec.md §5 calls for.
//
// Pool is grounded on the teacher's pkg/transport hostPool
// (_examples/WhileEndless-go-rawhttp/pkg/transport/transport.go): a
// sync.Mutex-guarded slice used as a LIFO free list plus a sync.Cond for
// blocking acquires when the arena is exhausted. The teacher's version is
// keyed by host:port and holds net.Conn; this one is generic and keyed by
// nothing (one Pool per element type, matching spec.md §5 "one
// fixed-capacity pool per type: Transaction, CapturedURI, ...").
package session

import "sync"

// Pool is a fixed-capacity, process-wide arena of reusable *T values.
// Elements are never resized or reallocated once the pool is built: spec.md
// §5 requires "no per-request heap growth" for pooled element types.
type Pool[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	free  []*T
	inUse int
	cap   int
	reset func(*T)
}

// NewPool builds a Pool of the given capacity, pre-allocating cap elements
// with zero(T) via new, and reset(e) called before first use whenever an
// element goes back to the free list.
func NewPool[T any](capacity int, reset func(*T)) *Pool[T] {
	p := &Pool[T]{
		free:  make([]*T, 0, capacity),
		cap:   capacity,
		reset: reset,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, new(T))
	}
	return p
}

// Acquire blocks until an element is available, matching the teacher's
// hostPool.getFromPool wait-on-cond pattern (no timeout variant here since
// spec.md §5 pools block the calling task rather than failing fast).
func (p *Pool[T]) Acquire() *T {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) == 0 {
		p.cond.Wait()
	}
	n := len(p.free)
	e := p.free[n-1]
	p.free = p.free[:n-1]
	p.inUse++
	return e
}

// Release returns an element to the free list, resetting it first, and
// wakes one blocked Acquire.
func (p *Pool[T]) Release(e *T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reset != nil {
		p.reset(e)
	}
	p.free = append(p.free, e)
	p.inUse--
	p.cond.Signal()
}

// Stats mirrors the teacher's PoolStats shape, trimmed to the one pool
// this type represents (no per-host breakdown: there is no host key here).
type Stats struct {
	InUse    int
	Free     int
	Capacity int
}

// Stats returns a point-in-time snapshot.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{InUse: p.inUse, Free: len(p.free), Capacity: p.cap}
}
