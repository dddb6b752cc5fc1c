// File: wire/header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message framing headers and their wire encoding. Zero-allocation
// encode/decode over a fixed byte layout, the way the codebase's other
// binary framing code reads and writes headers directly with
// encoding/binary rather than through a generic serialization library.

package wire

import (
	"encoding/binary"

	"github.com/momentics/ipcchan/internal/ipcerr"
)

// Format identifies which fixed layout follows the common header.
type Format byte

const (
	// FormatA is a plain message: common header directly followed by payload.
	FormatA Format = 0
	// FormatB is a message with an additional FormatBHeader, used to
	// advertise an attached out-of-band handle.
	FormatB Format = 1
)

// CommonHeaderSize is the fixed 8-byte prefix of every message.
const CommonHeaderSize = 8

// FormatBHeaderSize is the fixed size of the secondary header.
const FormatBHeaderSize = 4

// CommonHeader is the mandatory prefix of every IPC message.
type CommonHeader struct {
	Version  uint8 // protocol version, occupies the high 4 bits of byte 0
	Format   Format
	Sequence uint16
	Length   uint32
}

// Encode writes h into dst[:CommonHeaderSize].
func (h CommonHeader) Encode(dst []byte) {
	_ = dst[CommonHeaderSize-1]
	dst[0] = (h.Version << 4) | (byte(h.Format) & 0x0F)
	dst[1] = 0 // reserved
	binary.BigEndian.PutUint16(dst[2:4], h.Sequence)
	binary.BigEndian.PutUint32(dst[4:8], h.Length)
}

// DecodeCommonHeader parses src[:CommonHeaderSize] into a CommonHeader.
func DecodeCommonHeader(src []byte) (CommonHeader, error) {
	if len(src) < CommonHeaderSize {
		return CommonHeader{}, ipcerr.New(ipcerr.Api, "wire: short buffer for common header")
	}
	h := CommonHeader{
		Version: src[0] >> 4,
		Format:  Format(src[0] & 0x0F),
	}
	h.Sequence = binary.BigEndian.Uint16(src[2:4])
	h.Length = binary.BigEndian.Uint32(src[4:8])
	if h.Format != FormatA && h.Format != FormatB {
		return CommonHeader{}, ipcerr.New(ipcerr.Protocol, "wire: unknown message format").
			WithContext("format", h.Format)
	}
	return h, nil
}

// FormatBHeader carries fields specific to format-B messages: currently
// only the best-effort out-of-band handle attachment indicator.
type FormatBHeader struct {
	HasHandle bool
}

// Encode writes h into dst[:FormatBHeaderSize].
func (h FormatBHeader) Encode(dst []byte) {
	_ = dst[FormatBHeaderSize-1]
	for i := range dst[:FormatBHeaderSize] {
		dst[i] = 0
	}
	if h.HasHandle {
		dst[0] = 1
	}
}

// DecodeFormatBHeader parses src[:FormatBHeaderSize].
func DecodeFormatBHeader(src []byte) (FormatBHeader, error) {
	if len(src) < FormatBHeaderSize {
		return FormatBHeader{}, ipcerr.New(ipcerr.Api, "wire: short buffer for format-B header")
	}
	return FormatBHeader{HasHandle: src[0] != 0}, nil
}
