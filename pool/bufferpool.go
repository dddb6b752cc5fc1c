// File: pool/bufferpool.go
// Package pool implements NUMA-aware, zero-copy buffer pooling with size-class
// subpooling, used for scratch buffers in the wire codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"

	"github.com/momentics/ipcchan/api"
)

// Predefined (power-of-two) buffer size classes (bytes).
// IPC messages are bounded by the negotiated ring capacity, so the classes
// stop well short of the teacher's megabyte-scale web payload classes.
var sizeClasses = [...]int{
	256,
	1024,
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
}

// sizeClassUpperBound returns the smallest class >= requested size.
func sizeClassUpperBound(size int) int {
	for _, c := range sizeClasses {
		if size <= c {
			return c
		}
	}
	return sizeClasses[len(sizeClasses)-1]
}

// BufferPoolManager manages all size-classed pools for all NUMA nodes.
type BufferPoolManager struct {
	nodeCnt int
	nodes   []*nodeClassPools
}

// nodeClassPools manages all size-class subpools for a given node.
type nodeClassPools struct {
	mu    sync.RWMutex
	class map[int]*slabPool
}

// NewBufferPoolManager initializes the manager for nodeCnt NUMA nodes (>=1).
func NewBufferPoolManager(nodeCnt int) *BufferPoolManager {
	if nodeCnt < 1 {
		nodeCnt = 1
	}
	nodes := make([]*nodeClassPools, nodeCnt)
	for i := 0; i < nodeCnt; i++ {
		nodes[i] = &nodeClassPools{class: make(map[int]*slabPool)}
	}
	return &BufferPoolManager{nodeCnt: nodeCnt, nodes: nodes}
}

// GetPool returns a NUMA-aware BufferPool for the requested buffer size. A
// request larger than the largest size class bypasses slab pooling entirely
// (oversizePool) rather than being handed a 256 KiB class bucket it would
// not fit in.
func (m *BufferPoolManager) GetPool(size, numaPreferred int) api.BufferPool {
	if size > sizeClasses[len(sizeClasses)-1] {
		return oversizePool{}
	}
	node := normalizeNode(numaPreferred, m.nodeCnt)
	clz := sizeClassUpperBound(size)
	return m.nodes[node].getOrCreatePool(clz)
}

func (n *nodeClassPools) getOrCreatePool(class int) api.BufferPool {
	n.mu.RLock()
	p, ok := n.class[class]
	n.mu.RUnlock()
	if ok {
		return p
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if p, ok = n.class[class]; ok {
		return p
	}
	np := newSlabPool(class)
	n.class[class] = np
	return np
}

// normalizeNode clamps a requested NUMA node into [0, nodeCnt), falling back
// to node 0 on an out-of-range or negative request.
func normalizeNode(requested, nodeCnt int) int {
	if requested < 0 || requested >= nodeCnt {
		return 0
	}
	return requested
}
