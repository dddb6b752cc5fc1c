// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel is the framing-agnostic half of the transport: two rings (one
// per direction), the notification flags that coordinate cross-process
// wakeups, and the two message sequence-number counters. It knows nothing
// about sockets, reactors, or handshakes — those are ipc's job.

package channel

import (
	"sync/atomic"

	"github.com/momentics/ipcchan/internal/ipcerr"
	"github.com/momentics/ipcchan/shm"
)

// WaterMarkDivisor is K in free_space < capacity/K: the fraction of the
// receive ring's capacity below which a writable notification is withheld
// until crossed again, to avoid ping-pong wakeups on a nearly full ring.
const WaterMarkDivisor = 8

// Regions bundles the three mapped regions a Channel is built from.
type Regions struct {
	Send   *shm.Region
	Recv   *shm.Region
	Notify *shm.Region
}

// Channel is one direction pair of rings plus notification flags and the
// two message sequence counters, owned by one Connection.
type Channel struct {
	isClient bool

	send *shm.Ring
	recv *shm.Ring

	notify *notifyFlags

	regions Regions

	nextSend uint16
	nextRecv uint16
}

// New builds a Channel from already-sized regions. sendCap/recvCap are the
// usable data capacities of the send and receive rings (regions must be at
// least shm.HeaderSize+cap bytes each); isClient selects which half of the
// notification region this side treats as "self" vs "peer".
func New(regions Regions, sendCap, recvCap uint32, isClient bool) (*Channel, error) {
	sendRing, err := shm.NewRing(regions.Send.Bytes(), sendCap)
	if err != nil {
		return nil, err
	}
	recvRing, err := shm.NewRing(regions.Recv.Bytes(), recvCap)
	if err != nil {
		return nil, err
	}
	if regions.Notify.Len() < NotifyRegionSize {
		return nil, ipcerr.New(ipcerr.Protocol, "channel: notification region too small")
	}

	c := &Channel{
		isClient: isClient,
		send:     sendRing,
		recv:     recvRing,
		notify:   newNotifyFlags(regions.Notify.Bytes()),
		regions:  regions,
		nextSend: 1,
		nextRecv: 1,
	}
	return c, nil
}

// SendRing exposes the producer-side ring for wire.Writer.
func (c *Channel) SendRing() *shm.Ring { return c.send }

// RecvRing exposes the consumer-side ring for wire.Reader.
func (c *Channel) RecvRing() *shm.Ring { return c.recv }

// NextSendSeq returns and post-increments the next-to-send sequence
// number, skipping 0 on wraparound.
func (c *Channel) NextSendSeq() uint16 {
	v := c.nextSend
	c.nextSend++
	if c.nextSend == 0 {
		c.nextSend = 1
	}
	return v
}

// CheckRecvSeq compares got against the expected next-to-receive value;
// on match it advances the counter and returns nil, else a sticky Protocol
// error.
func (c *Channel) CheckRecvSeq(got uint16) error {
	want := c.nextRecv
	if got != want {
		return ipcerr.New(ipcerr.Protocol, "channel: sequence number mismatch").
			WithContext("want", want).WithContext("got", got)
	}
	c.nextRecv++
	if c.nextRecv == 0 {
		c.nextRecv = 1
	}
	return nil
}

// IsAnyDataAvailable reports whether the receive ring has any unread bytes.
func (c *Channel) IsAnyDataAvailable() bool { return !c.recv.IsEmpty() }

// IsReceiveWaterMarkExceeded reports free_space < capacity/K on the receive
// ring.
func (c *Channel) IsReceiveWaterMarkExceeded() bool {
	return c.recv.FreeSpace() < c.recv.Cap()/WaterMarkDivisor
}

// UpdateLocalViewOnReceive reports whether draining the receive ring just
// crossed the water mark upward (from below threshold to at/above it).
// before must be the ring's FreeSpace() sampled at the start of the receive
// step that just ran, not a value cached from a previous call: the ring's
// free space moves independently whenever the producer writes, so a stale
// cached "before" can sit above threshold already and mask a real crossing.
func (c *Channel) UpdateLocalViewOnReceive(before int) (crossedWaterMark bool) {
	after := c.recv.FreeSpace()
	threshold := c.recv.Cap() / WaterMarkDivisor
	return before < threshold && after >= threshold
}

// self/peer flag accessors, resolved by role.

func (c *Channel) selfReadable() *atomic.Uint32 {
	if c.isClient {
		return c.notify.clientReadable
	}
	return c.notify.serverReadable
}

func (c *Channel) selfWritable() *atomic.Uint32 {
	if c.isClient {
		return c.notify.clientWritable
	}
	return c.notify.serverWritable
}

func (c *Channel) peerReadable() *atomic.Uint32 {
	if c.isClient {
		return c.notify.serverReadable
	}
	return c.notify.clientReadable
}

func (c *Channel) peerWritable() *atomic.Uint32 {
	if c.isClient {
		return c.notify.serverWritable
	}
	return c.notify.clientWritable
}

// RequestReadableNotification announces (clears) this side's want for a
// wakeup when the receive ring becomes non-empty.
func (c *Channel) RequestReadableNotification() { flagClear(c.selfReadable()) }

// RequestWritableNotification announces this side's want for a wakeup when
// the send ring becomes writable again.
func (c *Channel) RequestWritableNotification() { flagClear(c.selfWritable()) }

// ResetReadableNotificationRequest cancels a previously requested readable
// wakeup (the side no longer needs one, e.g. it already found data).
func (c *Channel) ResetReadableNotificationRequest() { flagSet(c.selfReadable()) }

// ResetWritableNotificationRequest cancels a previously requested writable
// wakeup.
func (c *Channel) ResetWritableNotificationRequest() { flagSet(c.selfWritable()) }

// TestAndResetPeerReadableNotificationRequest reports whether the peer had
// an outstanding readable-wakeup request and, in either case, sets the flag
// to "no request outstanding" (the sender is about to deliver that wakeup
// over the control socket).
func (c *Channel) TestAndResetPeerReadableNotificationRequest() bool {
	return flagTestAndSet(c.peerReadable())
}

// TestAndResetPeerWritableNotificationRequest is the writable counterpart.
func (c *Channel) TestAndResetPeerWritableNotificationRequest() bool {
	return flagTestAndSet(c.peerWritable())
}

// Close releases the three mapped regions owned by this Channel.
func (c *Channel) Close() error {
	var firstErr error
	for _, r := range []*shm.Region{c.regions.Send, c.regions.Recv, c.regions.Notify} {
		if r == nil {
			continue
		}
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
