// File: wire/reader.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reader is the message decoder half of framing. ReceiveWhole never
// partially consumes the ring: it first confirms the full message
// (headers + payload) is present, then decodes in one pass. Truncation
// delivers what fits and discards the remainder rather than failing.

package wire

import (
	"github.com/momentics/ipcchan/api"
	"github.com/momentics/ipcchan/channel"
	"github.com/momentics/ipcchan/internal/ipcerr"
	"github.com/momentics/ipcchan/pool"
)

// scratchPoolNUMA is the NUMA node Reader/Writer request their transient
// copy buffers from. Neither side pins itself to a node today, so 0 is the
// only sensible preference until reactor-thread NUMA affinity feeds back
// into framing.
const scratchPoolNUMA = 0

// getScratch borrows a size-classed buffer from the default pool for a
// single copy step and returns it for release by the caller.
func getScratch(n int) api.Buffer {
	return pool.DefaultPool(n, scratchPoolNUMA).Get(n, scratchPoolNUMA)
}

// BufferProvider supplies scatter buffers sized to receive a payload of
// the given length. Returning nil is a caller-contract violation.
type BufferProvider func(payloadLen int) [][]byte

// Result describes the outcome of one ReceiveWhole call.
type Result struct {
	N                int
	Truncated        bool
	WaterMarkCrossed bool
	HasHandle        bool
	Sequence         uint16
}

// Reader decodes messages from one Channel's receive ring.
type Reader struct {
	ch *channel.Channel

	// chunked-receive state, mirroring Writer's chunked-send state
	chunkInProgress bool
	chunkRemaining  int
	chunkHasHandle  bool
	chunkSequence   uint16
}

// NewReader builds a Reader over ch's receive ring.
func NewReader(ch *channel.Channel) *Reader {
	return &Reader{ch: ch}
}

// PeekMessageSize peeks only the message headers and returns the announced
// payload length without consuming anything. Returns Err(Busy) if the
// common header, or for a format-B message the format-B header, has not
// fully arrived yet.
func (r *Reader) PeekMessageSize() (int, error) {
	hdr, _, err := r.peekHeader()
	if err != nil {
		return 0, err
	}
	return int(hdr.Length), nil
}

func (r *Reader) peekHeader() (CommonHeader, int, error) {
	ring := r.ch.RecvRing()
	if ring.UsedSpace() < CommonHeaderSize {
		return CommonHeader{}, 0, ipcerr.New(ipcerr.Busy, "wire: common header not fully arrived")
	}
	buf := getScratch(CommonHeaderSize)
	defer buf.Release()
	scratch := buf.Bytes()[:CommonHeaderSize]
	ring.Read(scratch)
	hdr, err := DecodeCommonHeader(scratch)
	if err != nil {
		return CommonHeader{}, 0, err
	}

	hdrLen := CommonHeaderSize
	if hdr.Format == FormatB {
		hdrLen += FormatBHeaderSize
		if ring.UsedSpace() < hdrLen {
			return CommonHeader{}, 0, ipcerr.New(ipcerr.Busy, "wire: format-B header not fully arrived")
		}
	}
	return hdr, hdrLen, nil
}

// ReceiveWhole decodes one complete message, all-or-nothing: Err(Busy) if
// the full message (headers + payload) has not yet arrived; Err(Size) if
// the payload can never fit the ring; Err(Protocol) on a sequence mismatch
// or malformed header, which is sticky for the owning Connection.
func (r *Reader) ReceiveWhole(provide BufferProvider) (Result, error) {
	ring := r.ch.RecvRing()
	freeBefore := ring.FreeSpace()

	hdr, hdrLen, err := r.peekHeader()
	if err != nil {
		return Result{}, err
	}
	payloadLen := int(hdr.Length)
	if payloadLen > ring.Cap() {
		return Result{}, ipcerr.New(ipcerr.Size, "wire: payload can never fit receive ring")
	}
	if ring.UsedSpace() < hdrLen+payloadLen {
		return Result{}, ipcerr.New(ipcerr.Busy, "wire: message not fully arrived")
	}

	// Consume the header bytes (peekHeader only peeked).
	discardHeader(ring, hdrLen)

	if err := r.ch.CheckRecvSeq(hdr.Sequence); err != nil {
		return Result{}, err
	}

	buffers := provide(payloadLen)
	if buffers == nil {
		r.discardPayload(ring, payloadLen)
		return Result{}, ipcerr.New(ipcerr.Api, "wire: buffer provider returned no buffers")
	}

	bl := NewBufferList(buffers)
	capacity := bl.TotalLen()
	deliverable := payloadLen
	truncated := capacity < payloadLen
	if truncated {
		deliverable = capacity
	}

	remaining := deliverable
	for remaining > 0 {
		buf := getScratch(remaining)
		n, _ := ring.Read(buf.Bytes()[:remaining])
		if n == 0 {
			buf.Release()
			break
		}
		ring.Discard(n)
		bl.CopyFrom(buf.Bytes()[:n])
		buf.Release()
		remaining -= n
	}
	if truncated {
		r.discardPayload(ring, payloadLen-deliverable)
	}

	wm := r.ch.UpdateLocalViewOnReceive(freeBefore)
	return Result{
		N:                deliverable,
		Truncated:        truncated,
		WaterMarkCrossed: wm,
		HasHandle:        hdr.Format == FormatB,
		Sequence:         hdr.Sequence,
	}, nil
}

// ChunkInProgress reports whether BeginChunked has been called without a
// matching completion yet.
func (r *Reader) ChunkInProgress() bool { return r.chunkInProgress }

// ChunkRemaining returns the number of payload bytes not yet delivered by
// ReadChunk for the in-progress message.
func (r *Reader) ChunkRemaining() int { return r.chunkRemaining }

// BeginChunked decodes the header of the next message without waiting for
// its payload to fully arrive, entering chunked-receive mode. Returns
// Err(Busy) if even the header has not fully arrived; Err(Size) if the
// payload can never fit the ring; Err(Protocol) on a sequence mismatch.
func (r *Reader) BeginChunked() (payloadLen int, hasHandle bool, err error) {
	if r.chunkInProgress {
		return 0, false, ipcerr.New(ipcerr.Api, "wire: BeginChunked called while a message is already in progress")
	}
	ring := r.ch.RecvRing()

	hdr, hdrLen, err := r.peekHeader()
	if err != nil {
		return 0, false, err
	}
	payloadLen = int(hdr.Length)
	if payloadLen > ring.Cap() {
		return 0, false, ipcerr.New(ipcerr.Size, "wire: payload can never fit receive ring")
	}

	discardHeader(ring, hdrLen)
	if err := r.ch.CheckRecvSeq(hdr.Sequence); err != nil {
		return 0, false, err
	}

	r.chunkInProgress = true
	r.chunkRemaining = payloadLen
	r.chunkHasHandle = hdr.Format == FormatB
	r.chunkSequence = hdr.Sequence
	return payloadLen, r.chunkHasHandle, nil
}

// ReadChunk copies as much of the in-progress message's remaining payload
// as currently fits in buffers and is currently available in the ring. n
// may be 0 (nothing available yet, call again after the next wakeup)
// without finished being true. Once the full payload has been delivered,
// finished is true and chunked-receive mode ends.
func (r *Reader) ReadChunk(buffers [][]byte) (n int, waterMarkCrossed bool, finished bool, err error) {
	if !r.chunkInProgress {
		return 0, false, false, ipcerr.New(ipcerr.Api, "wire: ReadChunk called with no message in progress")
	}
	ring := r.ch.RecvRing()
	freeBefore := ring.FreeSpace()
	bl := NewBufferList(buffers)
	capacity := bl.TotalLen()

	toRead := r.chunkRemaining
	if capacity < toRead {
		toRead = capacity
	}
	if avail := ring.UsedSpace(); avail < toRead {
		toRead = avail
	}
	if toRead == 0 {
		return 0, false, false, nil
	}

	buf := getScratch(toRead)
	got, _ := ring.Read(buf.Bytes()[:toRead])
	ring.Discard(got)
	bl.CopyFrom(buf.Bytes()[:got])
	buf.Release()

	r.chunkRemaining -= got
	wm := r.ch.UpdateLocalViewOnReceive(freeBefore)
	if r.chunkRemaining == 0 {
		r.chunkInProgress = false
	}
	return got, wm, r.chunkRemaining == 0, nil
}

func discardHeader(ring interface {
	Read([]byte) (int, error)
	Discard(int)
}, n int) {
	buf := getScratch(n)
	ring.Read(buf.Bytes()[:n])
	ring.Discard(n)
	buf.Release()
}

// discardPayload consumes and throws away n bytes of payload — the
// DiscardingPayload state, used on truncation.
func (r *Reader) discardPayload(ring interface {
	Read([]byte) (int, error)
	Discard(int)
}, n int) {
	for n > 0 {
		buf := getScratch(n)
		got, _ := ring.Read(buf.Bytes()[:n])
		buf.Release()
		if got == 0 {
			return
		}
		ring.Discard(got)
		n -= got
	}
}
