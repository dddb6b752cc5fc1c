// File: wire/writer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Writer is the message encoder half of framing: it assigns sequence
// numbers, writes the common header (and format-B header when a handle is
// attached), and copies payload bytes into the send ring. It is simpler
// than Reader because it never has to cope with a header arriving in
// pieces — the caller always presents the whole payload length up front,
// even in the chunked-send path.

package wire

import (
	"github.com/momentics/ipcchan/channel"
	"github.com/momentics/ipcchan/internal/ipcerr"
)

// Writer encodes messages onto one Channel's send ring.
type Writer struct {
	ch *channel.Channel

	// mid-message state for the chunked path
	inProgress bool
	remaining  int
}

// NewWriter builds a Writer over ch's send ring.
func NewWriter(ch *channel.Channel) *Writer {
	return &Writer{ch: ch}
}

func headerBytes(hasHandle bool) int {
	n := CommonHeaderSize
	if hasHandle {
		n += FormatBHeaderSize
	}
	return n
}

// SendWhole attempts an all-or-nothing send of buffers as one message.
// notifyPeer reports whether the peer had a readable wakeup outstanding
// and must now be signaled over the control socket.
func (w *Writer) SendWhole(buffers [][]byte, hasHandle bool) (notifyPeer bool, err error) {
	bl := NewBufferList(buffers)
	payloadLen := bl.TotalLen()
	hdrLen := headerBytes(hasHandle)
	ring := w.ch.SendRing()

	if payloadLen > ring.Cap()-hdrLen {
		return false, ipcerr.New(ipcerr.Size, "wire: payload exceeds send ring capacity").
			WithContext("payload", payloadLen).WithContext("max", ring.Cap()-hdrLen)
	}
	need := hdrLen + payloadLen
	if ring.FreeSpace() < need {
		return false, ipcerr.New(ipcerr.Busy, "wire: insufficient free space in send ring")
	}

	seq := w.ch.NextSendSeq()
	format := FormatA
	if hasHandle {
		format = FormatB
	}
	hdr := CommonHeader{Version: 1, Format: format, Sequence: seq, Length: uint32(payloadLen)}

	hdrBuf := getScratch(hdrLen)
	scratch := hdrBuf.Bytes()[:hdrLen]
	hdr.Encode(scratch[:CommonHeaderSize])
	if hasHandle {
		FormatBHeader{HasHandle: true}.Encode(scratch[CommonHeaderSize:hdrLen])
	}
	n, werr := ring.Write(scratch)
	hdrBuf.Release()
	if werr != nil || n != hdrLen {
		return false, ipcerr.Wrap(ipcerr.Resource, werr, "wire: short header write")
	}
	ring.CommitHead(hdrLen)

	written := 0
	for written < payloadLen {
		buf := getScratch(payloadLen - written)
		chunk := buf.Bytes()[:payloadLen-written]
		bl.CopyTo(chunk)
		n, werr := ring.Write(chunk)
		buf.Release()
		if werr != nil {
			return false, werr
		}
		ring.CommitHead(n)
		written += n
		if n < len(chunk) {
			break
		}
	}

	return w.ch.TestAndResetPeerReadableNotificationRequest(), nil
}

// BeginMessage reserves a sequence number and writes the header for a
// chunked send whose total payload length is known up front but whose
// bytes will arrive over multiple WriteChunk calls.
func (w *Writer) BeginMessage(totalLen int, hasHandle bool) error {
	if w.inProgress {
		return ipcerr.New(ipcerr.Api, "wire: BeginMessage called while a message is already in progress")
	}
	ring := w.ch.SendRing()
	hdrLen := headerBytes(hasHandle)
	if totalLen > ring.Cap()-hdrLen {
		return ipcerr.New(ipcerr.Size, "wire: payload exceeds send ring capacity")
	}
	if ring.FreeSpace() < hdrLen {
		return ipcerr.New(ipcerr.Busy, "wire: insufficient free space for header")
	}

	seq := w.ch.NextSendSeq()
	format := FormatA
	if hasHandle {
		format = FormatB
	}
	hdr := CommonHeader{Version: 1, Format: format, Sequence: seq, Length: uint32(totalLen)}
	hdrBuf := getScratch(hdrLen)
	scratch := hdrBuf.Bytes()[:hdrLen]
	hdr.Encode(scratch[:CommonHeaderSize])
	if hasHandle {
		FormatBHeader{HasHandle: true}.Encode(scratch[CommonHeaderSize:hdrLen])
	}
	ring.Write(scratch)
	hdrBuf.Release()
	ring.CommitHead(hdrLen)

	w.inProgress = true
	w.remaining = totalLen
	return nil
}

// WriteChunk best-effort writes as much of buf as fits now, returning the
// number of bytes written. Call Finished to check whether the message body
// has been fully delivered.
func (w *Writer) WriteChunk(buf []byte) (int, error) {
	if !w.inProgress {
		return 0, ipcerr.New(ipcerr.Api, "wire: WriteChunk called with no message in progress")
	}
	if len(buf) > w.remaining {
		buf = buf[:w.remaining]
	}
	ring := w.ch.SendRing()
	n, err := ring.Write(buf)
	if err != nil {
		return 0, err
	}
	ring.CommitHead(n)
	w.remaining -= n
	if w.remaining == 0 {
		w.inProgress = false
	}
	return n, nil
}

// Finished reports whether the chunked message begun by BeginMessage has
// had all of its announced payload bytes delivered.
func (w *Writer) Finished() bool { return !w.inProgress }
