// File: wire/bufferlist.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BufferList is the scatter/gather sequence of caller buffers used by
// MessageReader/MessageWriter: a small iterator tracking the current
// buffer index and offset-within-current, so ring wraparound and buffer
// wraparound compose without special-casing either one.

package wire

import "github.com/momentics/ipcchan/api"

// BufferList implements api.Batch[[]byte] over a caller-supplied scatter
// list and additionally exposes the copy-cursor iteration the reader and
// writer state machines need.
type BufferList struct {
	bufs []([]byte)
	idx  int // index of current buffer
	off  int // offset already consumed within bufs[idx]
}

var _ api.Batch[[]byte] = (*BufferList)(nil)

// NewBufferList wraps bufs for scatter/gather traversal.
func NewBufferList(bufs [][]byte) *BufferList {
	return &BufferList{bufs: bufs}
}

// Len returns the number of buffers in the list.
func (b *BufferList) Len() int { return len(b.bufs) }

// Get returns the buffer at index, or nil if out of range.
func (b *BufferList) Get(index int) []byte {
	if index < 0 || index >= len(b.bufs) {
		return nil
	}
	return b.bufs[index]
}

// Slice returns a zero-copy sub-list [start, end).
func (b *BufferList) Slice(start, end int) api.Batch[[]byte] {
	if start < 0 {
		start = 0
	}
	if end > len(b.bufs) {
		end = len(b.bufs)
	}
	if start > end {
		start = end
	}
	return &BufferList{bufs: b.bufs[start:end]}
}

// Underlying returns the raw buffer slice.
func (b *BufferList) Underlying() [][]byte { return b.bufs }

// Split divides the list into two zero-alloc sub-lists at idx.
func (b *BufferList) Split(idx int) (first, second api.Batch[[]byte]) {
	return b.Slice(0, idx), b.Slice(idx, b.Len())
}

// Reset rewinds the copy cursor to the start without releasing memory.
func (b *BufferList) Reset() {
	b.idx = 0
	b.off = 0
}

// TotalLen returns the sum of all buffer lengths.
func (b *BufferList) TotalLen() int {
	n := 0
	for _, buf := range b.bufs {
		n += len(buf)
	}
	return n
}

// Remaining returns how many bytes are left to copy from the cursor
// position onward.
func (b *BufferList) Remaining() int {
	n := 0
	for i := b.idx; i < len(b.bufs); i++ {
		if i == b.idx {
			n += len(b.bufs[i]) - b.off
			continue
		}
		n += len(b.bufs[i])
	}
	return n
}

// CopyFrom copies up to len(src) bytes from src into the list starting at
// the cursor, advancing the cursor, and returns the number of bytes copied.
func (b *BufferList) CopyFrom(src []byte) int {
	copied := 0
	for copied < len(src) && b.idx < len(b.bufs) {
		cur := b.bufs[b.idx]
		n := copy(cur[b.off:], src[copied:])
		copied += n
		b.off += n
		if b.off == len(cur) {
			b.idx++
			b.off = 0
		}
	}
	return copied
}

// CopyTo copies up to len(dst) bytes from the list starting at the cursor
// into dst, advancing the cursor, and returns the number of bytes copied.
func (b *BufferList) CopyTo(dst []byte) int {
	copied := 0
	for copied < len(dst) && b.idx < len(b.bufs) {
		cur := b.bufs[b.idx]
		n := copy(dst[copied:], cur[b.off:])
		copied += n
		b.off += n
		if b.off == len(cur) {
			b.idx++
			b.off = 0
		}
	}
	return copied
}
