// File: handshake/negotiate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ClientNegotiate and ServerNegotiate drive the three-message exchange
// over an already-connected control socket and build the resulting
// channel.Channel. On any failure, whichever side observed it unmaps and
// unlinks any shared-memory objects it had already created.

package handshake

import (
	"fmt"
	"io"

	"github.com/momentics/ipcchan/channel"
	"github.com/momentics/ipcchan/internal/ipcerr"
	"github.com/momentics/ipcchan/shm"
)

// Outcome is what a successful negotiation hands back to the Connection.
type Outcome struct {
	Channel  *channel.Channel
	C2SSize  uint32
	S2CSize  uint32
}

// ServerConfig bounds what the server is willing to allocate.
type ServerConfig struct {
	MaxBufferSize uint32 // 0 means no cap beyond the client's own request
	NamePrefix    string // leads every shm object name, e.g. "ipcchan-<domain>-<port>"; empty means "ipcchan"
}

// ClientNegotiate sends message 1, waits for message 2, opens the regions
// the server created, sends message 3, and returns the resulting Channel.
func ClientNegotiate(rw io.ReadWriter, c2sHint, s2cHint uint32) (Outcome, error) {
	hello := ClientHello{Version: ProtocolVersion, C2SSizeHint: c2sHint, S2CSizeHint: s2cHint}
	if _, err := rw.Write(hello.Encode()); err != nil {
		return Outcome{}, ipcerr.Wrap(ipcerr.AddressNotAvailable, err, "handshake: write client hello failed")
	}

	srvHello, err := DecodeServerHello(rw)
	if err != nil {
		return Outcome{}, err
	}
	if srvHello.Version != ProtocolVersion {
		return Outcome{}, ipcerr.New(ipcerr.Protocol, "handshake: unsupported server protocol version").
			WithContext("version", srvHello.Version)
	}

	c2s, err := shm.OpenRegion(srvHello.C2SName, int(shm.HeaderSize)+int(srvHello.C2SSize))
	if err != nil {
		return Outcome{}, err
	}
	s2c, err := shm.OpenRegion(srvHello.S2CName, int(shm.HeaderSize)+int(srvHello.S2CSize))
	if err != nil {
		c2s.Close()
		return Outcome{}, err
	}
	notify, err := shm.OpenRegion(srvHello.NotifyName, channel.NotifyRegionSize)
	if err != nil {
		c2s.Close()
		s2c.Close()
		return Outcome{}, err
	}

	ch, err := channel.New(channel.Regions{Send: c2s, Recv: s2c, Notify: notify}, srvHello.C2SSize, srvHello.S2CSize, true)
	if err != nil {
		c2s.Close()
		s2c.Close()
		notify.Close()
		return Outcome{}, err
	}

	if _, err := rw.Write(ClientAck{OK: true}.Encode()); err != nil {
		ch.Close()
		return Outcome{}, ipcerr.Wrap(ipcerr.AddressNotAvailable, err, "handshake: write client ack failed")
	}

	return Outcome{Channel: ch, C2SSize: srvHello.C2SSize, S2CSize: srvHello.S2CSize}, nil
}

// ServerNegotiate waits for message 1, creates the shared-memory objects,
// sends message 2, waits for message 3, and returns the resulting Channel.
// id must be unique per concurrent handshake on this host; it seeds the
// shared-memory object names.
func ServerNegotiate(rw io.ReadWriter, cfg ServerConfig, id uint64) (Outcome, error) {
	hello, err := DecodeClientHello(rw)
	if err != nil {
		return Outcome{}, err
	}
	if hello.Version != ProtocolVersion {
		return Outcome{}, ipcerr.New(ipcerr.Protocol, "handshake: unsupported client protocol version").
			WithContext("version", hello.Version)
	}

	c2sSize := clampSize(hello.C2SSizeHint, 0)
	s2cSize := clampSize(hello.S2CSizeHint, cfg.MaxBufferSize)

	prefix := cfg.NamePrefix
	if prefix == "" {
		prefix = "ipcchan"
	}
	c2sName := fmt.Sprintf("%s-%d-c2s", prefix, id)
	s2cName := fmt.Sprintf("%s-%d-s2c", prefix, id)
	notifyName := fmt.Sprintf("%s-%d-notify", prefix, id)

	c2s, err := shm.CreateRegion(c2sName, int(shm.HeaderSize)+int(c2sSize))
	if err != nil {
		return Outcome{}, err
	}
	s2c, err := shm.CreateRegion(s2cName, int(shm.HeaderSize)+int(s2cSize))
	if err != nil {
		c2s.Close()
		return Outcome{}, err
	}
	notify, err := shm.CreateRegion(notifyName, channel.NotifyRegionSize)
	if err != nil {
		c2s.Close()
		s2c.Close()
		return Outcome{}, err
	}

	srvHello := ServerHello{
		Version: ProtocolVersion, C2SSize: c2sSize, S2CSize: s2cSize,
		C2SName: c2sName, S2CName: s2cName, NotifyName: notifyName,
	}
	encoded, err := srvHello.Encode()
	if err != nil {
		c2s.Close()
		s2c.Close()
		notify.Close()
		return Outcome{}, ipcerr.Wrap(ipcerr.Protocol, err, "handshake: encode server hello failed")
	}
	if _, err := rw.Write(encoded); err != nil {
		c2s.Close()
		s2c.Close()
		notify.Close()
		return Outcome{}, ipcerr.Wrap(ipcerr.AddressNotAvailable, err, "handshake: write server hello failed")
	}

	ack, err := DecodeClientAck(rw)
	if err != nil {
		c2s.Close()
		s2c.Close()
		notify.Close()
		return Outcome{}, err
	}
	if !ack.OK {
		c2s.Close()
		s2c.Close()
		notify.Close()
		return Outcome{}, ipcerr.New(ipcerr.Protocol, "handshake: client rejected handshake")
	}

	ch, err := channel.New(channel.Regions{Send: s2c, Recv: c2s, Notify: notify}, s2cSize, c2sSize, false)
	if err != nil {
		c2s.Close()
		s2c.Close()
		notify.Close()
		return Outcome{}, err
	}

	return Outcome{Channel: ch, C2SSize: c2sSize, S2CSize: s2cSize}, nil
}
