// File: handshake/messages.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-size binary messages for the three-step connection handshake,
// read and written directly off the control socket with io.ReadFull and
// encoding/binary rather than through a generic RPC framework — the
// control socket carries nothing else during this phase.

package handshake

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/momentics/ipcchan/internal/ipcerr"
)

// ProtocolVersion is the only version this build speaks.
const ProtocolVersion uint8 = 1

// MinBufferSize is the floor every negotiated ring size is raised to.
const MinBufferSize uint32 = 1024

// nameFieldLen is the fixed width of a shared-memory object name field.
const nameFieldLen = 32

func encodeName(dst []byte, name string) error {
	if len(name) >= nameFieldLen {
		return fmt.Errorf("handshake: shm object name %q too long", name)
	}
	for i := range dst[:nameFieldLen] {
		dst[i] = 0
	}
	copy(dst, name)
	return nil
}

func decodeName(src []byte) string {
	end := 0
	for end < len(src) && src[end] != 0 {
		end++
	}
	return string(src[:end])
}

// ClientHello is message 1: Client -> Server.
type ClientHello struct {
	Version     uint8
	C2SSizeHint uint32
	S2CSizeHint uint32
}

const clientHelloSize = 1 + 3 + 4 + 4

func (m ClientHello) Encode() []byte {
	buf := make([]byte, clientHelloSize)
	buf[0] = m.Version
	binary.BigEndian.PutUint32(buf[4:8], m.C2SSizeHint)
	binary.BigEndian.PutUint32(buf[8:12], m.S2CSizeHint)
	return buf
}

func DecodeClientHello(r io.Reader) (ClientHello, error) {
	buf := make([]byte, clientHelloSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ClientHello{}, ipcerr.Wrap(ipcerr.Protocol, err, "handshake: short read for client hello")
	}
	return ClientHello{
		Version:     buf[0],
		C2SSizeHint: binary.BigEndian.Uint32(buf[4:8]),
		S2CSizeHint: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// ServerHello is message 2: Server -> Client. The server has already
// created the three shared-memory objects named here by the time this is
// sent.
type ServerHello struct {
	Version    uint8
	C2SSize    uint32
	S2CSize    uint32
	C2SName    string
	S2CName    string
	NotifyName string
}

const serverHelloSize = 1 + 3 + 4 + 4 + nameFieldLen*3

func (m ServerHello) Encode() ([]byte, error) {
	buf := make([]byte, serverHelloSize)
	buf[0] = m.Version
	binary.BigEndian.PutUint32(buf[4:8], m.C2SSize)
	binary.BigEndian.PutUint32(buf[8:12], m.S2CSize)
	off := 12
	if err := encodeName(buf[off:off+nameFieldLen], m.C2SName); err != nil {
		return nil, err
	}
	off += nameFieldLen
	if err := encodeName(buf[off:off+nameFieldLen], m.S2CName); err != nil {
		return nil, err
	}
	off += nameFieldLen
	if err := encodeName(buf[off:off+nameFieldLen], m.NotifyName); err != nil {
		return nil, err
	}
	return buf, nil
}

func DecodeServerHello(r io.Reader) (ServerHello, error) {
	buf := make([]byte, serverHelloSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ServerHello{}, ipcerr.Wrap(ipcerr.Protocol, err, "handshake: short read for server hello")
	}
	off := 12
	c2sName := decodeName(buf[off : off+nameFieldLen])
	off += nameFieldLen
	s2cName := decodeName(buf[off : off+nameFieldLen])
	off += nameFieldLen
	notifyName := decodeName(buf[off : off+nameFieldLen])
	return ServerHello{
		Version:    buf[0],
		C2SSize:    binary.BigEndian.Uint32(buf[4:8]),
		S2CSize:    binary.BigEndian.Uint32(buf[8:12]),
		C2SName:    c2sName,
		S2CName:    s2cName,
		NotifyName: notifyName,
	}, nil
}

// ClientAck is message 3: Client -> Server. Sending it is what makes the
// client consider the connection established.
type ClientAck struct {
	OK bool
}

const clientAckSize = 4

func (m ClientAck) Encode() []byte {
	buf := make([]byte, clientAckSize)
	if m.OK {
		buf[0] = 1
	}
	return buf
}

func DecodeClientAck(r io.Reader) (ClientAck, error) {
	buf := make([]byte, clientAckSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ClientAck{}, ipcerr.Wrap(ipcerr.Protocol, err, "handshake: short read for client ack")
	}
	return ClientAck{OK: buf[0] != 0}, nil
}

// clampSize raises a requested size up to MinBufferSize and, if max > 0,
// caps it at max.
func clampSize(requested, max uint32) uint32 {
	if requested < MinBufferSize {
		requested = MinBufferSize
	}
	if max > 0 && requested > max {
		requested = max
	}
	return requested
}
