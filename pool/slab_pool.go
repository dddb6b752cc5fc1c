// File: pool/slab_pool.go
// Package pool implements lock-free slab allocation with size class support.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/ipcchan/api"
	"github.com/momentics/ipcchan/internal/concurrency"
)

// slabPool: fixed-size buffer allocation per size class/NUMA node.
type slabPool struct {
	size int

	queue *concurrency.LockFreeQueue[api.Buffer]

	totalAlloc atomic.Uint64
	totalFree  atomic.Uint64
	numaStats  atomic.Pointer[numaMap]
}

const defaultPoolCapacity = 4096

// numaMap: allocation counters by NUMA node.
type numaMap struct {
	mu     sync.Mutex
	counts map[int]uint64
}

func newNumamap() *numaMap { return &numaMap{counts: make(map[int]uint64)} }
func (m *numaMap) record(n int) {
	m.mu.Lock()
	m.counts[n]++
	m.mu.Unlock()
}
func (m *numaMap) Get() map[int]uint64 {
	m.mu.Lock()
	out := make(map[int]uint64, len(m.counts))
	for k, v := range m.counts {
		out[k] = v
	}
	m.mu.Unlock()
	return out
}

func newSlabPool(size int) *slabPool {
	return &slabPool{
		size:  size,
		queue: concurrency.NewLockFreeQueue[api.Buffer](defaultPoolCapacity),
	}
}

func (sp *slabPool) Get(_ int, numaNode int) api.Buffer {
	// Try to dequeue from pool
	if buf, ok := sp.queue.Dequeue(); ok {
		return buf
	}

	// Pool empty, allocate new
	buf := api.Buffer{
		Data:  make([]byte, sp.size),
		NUMA:  numaNode,
		Pool:  sp,
		Class: sp.size,
	}

	sp.totalAlloc.Add(1)
	mPtr := sp.numaStats.Load()
	if mPtr == nil {
		newMap := newNumamap()
		sp.numaStats.Store(newMap)
		mPtr = newMap
	}
	mPtr.record(numaNode)
	return buf
}

func (sp *slabPool) Put(buf api.Buffer) {
	buf.Data = buf.Data[:cap(buf.Data)]
	// Try to enqueue to pool; if full, drop it and let the GC reclaim it.
	if sp.queue.Enqueue(buf) {
		sp.totalFree.Add(1)
	}
}

func (sp *slabPool) Stats() api.BufferPoolStats {
	totalAlloc := int64(sp.totalAlloc.Load())
	totalFree := int64(sp.totalFree.Load())
	inUse := totalAlloc - totalFree

	nm := sp.numaStats.Load()
	numaStats := make(map[int]int64)
	if nm != nil {
		raw := nm.Get()
		for node, cnt := range raw {
			numaStats[node] = int64(cnt)
		}
	}
	return api.BufferPoolStats{
		TotalAlloc: totalAlloc,
		TotalFree:  totalFree,
		InUse:      inUse,
		NUMAStats:  numaStats,
	}
}

var _ api.BufferPool = (*slabPool)(nil)

// oversizePool serves requests too large for any predefined size class with
// an exact-size allocation per Get. Put is a no-op: an oversized buffer
// does not belong in any class's free list, and retaining it defeats the
// point of bounding the pool's memory footprint to its size classes.
type oversizePool struct{}

func (oversizePool) Get(size, numaNode int) api.Buffer {
	return api.Buffer{Data: make([]byte, size), NUMA: numaNode, Class: size}
}

func (oversizePool) Put(api.Buffer) {}

func (oversizePool) Stats() api.BufferPoolStats { return api.BufferPoolStats{} }

var _ api.BufferPool = oversizePool{}
