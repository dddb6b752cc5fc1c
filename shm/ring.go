// File: shm/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBufferView is a single-producer/single-consumer byte ring whose
// counters live inside the shared mapping itself (not in process-local
// memory), so both peers observe the same head/tail. Layout: an 8-byte
// counter header (head uint32, tail uint32) followed by capacity bytes
// of data, all within one Region.
//
// Capacity need not be a power of two: indices are taken modulo capacity
// on a freely wrapping 32-bit counter, per the unbounded-wrap design this
// mirrors.

package shm

import (
	"sync/atomic"
	"unsafe"

	"github.com/momentics/ipcchan/internal/ipcerr"
)

// HeaderSize is the number of bytes a Ring reserves for its head/tail
// counters at the front of the backing region.
const HeaderSize = 8

// Ring is a byte ring view over a shared-memory region. One side is the
// producer (owns head), the other the consumer (owns tail); both sides
// construct their own *Ring over the same Region and only call the methods
// appropriate to their role — Channel enforces that split.
type Ring struct {
	head *atomic.Uint32
	tail *atomic.Uint32
	data []byte
	cap  uint32
}

// NewRing views region as a ring with the given data capacity. region must
// be at least HeaderSize+capacity bytes.
func NewRing(region []byte, capacity uint32) (*Ring, error) {
	need := HeaderSize + int(capacity)
	if len(region) < need {
		return nil, ipcerr.New(ipcerr.Protocol, "shm: region too small for ring").
			WithContext("need", need).WithContext("have", len(region))
	}
	return &Ring{
		head: (*atomic.Uint32)(unsafe.Pointer(&region[0])),
		tail: (*atomic.Uint32)(unsafe.Pointer(&region[4])),
		data: region[HeaderSize:need],
		cap:  capacity,
	}, nil
}

// Cap returns the ring's data capacity in bytes.
func (r *Ring) Cap() int { return int(r.cap) }

func (r *Ring) loadLocalHead() uint32 { return r.head.Load() }
func (r *Ring) loadLocalTail() uint32 { return r.tail.Load() }

// loadPeer returns the counter this side does not own, read with
// acquire ordering so subsequent reads of the data region observe bytes
// the peer published before advancing it.
func (r *Ring) loadPeer(counter *atomic.Uint32) uint32 { return counter.Load() }

// UsedSpace returns the number of bytes available to the consumer.
func (r *Ring) UsedSpace() int {
	return int(r.loadLocalHead() - r.loadLocalTail())
}

// FreeSpace returns the number of bytes available to the producer.
func (r *Ring) FreeSpace() int {
	return int(r.cap) - r.UsedSpace()
}

// IsEmpty reports head == tail.
func (r *Ring) IsEmpty() bool { return r.UsedSpace() == 0 }

// IsFull reports used == capacity.
func (r *Ring) IsFull() bool { return r.UsedSpace() == int(r.cap) }

func (r *Ring) checkInvariant() error {
	used := r.loadLocalHead() - r.loadLocalTail()
	if used > r.cap {
		return ipcerr.New(ipcerr.Protocol, "shm: ring invariant violated, used > capacity").
			WithContext("used", used).WithContext("capacity", r.cap)
	}
	return nil
}

// Read copies up to len(dst) unread bytes into dst without consuming them
// (a peek); the caller must follow with Discard to advance tail. Returns
// the number of bytes copied.
func (r *Ring) Read(dst []byte) (int, error) {
	if err := r.checkInvariant(); err != nil {
		return 0, err
	}
	head := r.loadLocalHead()
	tail := r.loadLocalTail()
	avail := int(head - tail)
	if avail == 0 || len(dst) == 0 {
		return 0, nil
	}
	n := avail
	if len(dst) < n {
		n = len(dst)
	}
	idx := tail % r.cap
	first := int(r.cap) - int(idx)
	if first > n {
		first = n
	}
	copy(dst[:first], r.data[idx:int(idx)+first])
	if rem := n - first; rem > 0 {
		copy(dst[first:n], r.data[:rem])
	}
	return n, nil
}

// Discard advances tail by n bytes previously returned by Read, releasing
// that space back to the producer.
func (r *Ring) Discard(n int) {
	if n <= 0 {
		return
	}
	r.tail.Store(r.loadLocalTail() + uint32(n))
}

// CommitTail is an alias for Discard, named to match the consumer-facing
// vocabulary used by Channel::receive.
func (r *Ring) CommitTail(n int) { r.Discard(n) }

// Write copies src into the ring's free space without publishing it; the
// caller must follow with CommitHead to advance head. Returns the number
// of bytes copied, which may be less than len(src) if space is short.
func (r *Ring) Write(src []byte) (int, error) {
	if err := r.checkInvariant(); err != nil {
		return 0, err
	}
	head := r.loadLocalHead()
	tail := r.loadPeer(r.tail)
	free := int(r.cap) - int(head-tail)
	if free <= 0 || len(src) == 0 {
		return 0, nil
	}
	n := len(src)
	if n > free {
		n = free
	}
	idx := head % r.cap
	first := int(r.cap) - int(idx)
	if first > n {
		first = n
	}
	copy(r.data[idx:int(idx)+first], src[:first])
	if rem := n - first; rem > 0 {
		copy(r.data[:rem], src[first:n])
	}
	return n, nil
}

// CommitHead advances head by n bytes previously written by Write,
// publishing them to the consumer with release ordering.
func (r *Ring) CommitHead(n int) {
	if n <= 0 {
		return
	}
	r.head.Store(r.loadLocalHead() + uint32(n))
}
