// File: ipc/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is the top-level lifecycle object of spec.md §4.G: states
// Closed/Connecting/Connected/ConnectError, a data-transfer sub-state that
// tracks peer-close progression, synchronous and asynchronous send/receive,
// the user-notification side channel, and peer identity queries. All API
// calls and reactor callbacks are serialized under one mutex; completion
// and notification callbacks run with it released, while the
// buffer-provider callbacks (MsgAvailableCallback, ChunkCallback) run with
// it held and so must not call back into the Connection — the discipline
// protocol.WSConnection applies with its own mu/done/closed trio,
// generalized here into the fuller state machine this transport needs.

package ipc

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/ipcchan/channel"
	"github.com/momentics/ipcchan/control"
	"github.com/momentics/ipcchan/handshake"
	"github.com/momentics/ipcchan/internal/ipcerr"
	"github.com/momentics/ipcchan/internal/ipclog"
	"github.com/momentics/ipcchan/reactor"
	"github.com/momentics/ipcchan/wire"
)

var connLog = ipclog.For("ipc.connection")

// SendResult reports whether Send completed synchronously or was queued.
type SendResult int

const (
	// SendCompleted means the message was fully written to the send ring
	// before Send returned; the callback, if any, already fired inline.
	SendCompleted SendResult = iota
	// SendPending means the ring had no room; the message is queued and
	// the callback fires later from the reactor thread.
	SendPending
)

// MsgAvailableCallback is invoked once the common header of an inbound
// message has been decoded, with the announced payload size, and must
// return the scatter buffers to fill (whole-message mode) or the buffers
// for the first chunk (chunked mode). Returning nil is a caller-contract
// violation.
type MsgAvailableCallback func(payloadLen int) [][]byte

// ChunkCallback is invoked once per intermediate chunk of a chunked
// receive to obtain the next set of buffers; the final chunk is reported
// through CompletionCallback instead of a terminal ChunkCallback call.
type ChunkCallback func(remaining int) [][]byte

// CompletionCallback reports the outcome of an asynchronous receive.
type CompletionCallback func(res wire.Result, err error)

// NotificationCallback receives bytes sent over the user-notification
// side channel (Connection.SendNotification on the peer).
type NotificationCallback func(b byte)

type pendingSend struct {
	buffers   [][]byte
	hasHandle bool
	handle    Handle
	cb        func(error)
}

type pendingRecv struct {
	msgAvail   MsgAvailableCallback
	chunk      ChunkCallback
	completion CompletionCallback
	curBuffers [][]byte
}

// Connection is a point-to-point, bidirectional shared-memory channel to
// one peer process, plus its control socket and handshake/lifecycle state.
type Connection struct {
	mu sync.Mutex

	st      state
	connSub connectSubState
	dataSub dataSubState
	isClient bool

	ctrl       *ctrlConn
	ctrlFD     uintptr
	reactorRef reactor.Reactor
	softEvent  *reactor.SoftEvent

	ch *channel.Channel
	rx *wire.Reader
	tx *wire.Writer

	sendQueue *queue.Queue
	recvPending *pendingRecv

	notifyCB NotificationCallback

	sendBufSize uint32
	recvBufSize uint32

	peerClosed bool
	lastErr    *ipcerr.Error

	closed atomic.Bool
	inUse  atomic.Int32
}

// NewConnection builds an unconnected Connection that will register itself
// with r once a handshake completes.
func NewConnection(r reactor.Reactor) *Connection {
	return &Connection{
		st:        stateClosed,
		reactorRef: r,
		sendQueue: queue.New(),
	}
}

// newConnectedConnection builds a Connection already past the handshake,
// used by Acceptor for the server side where ServerNegotiate has already
// run to completion.
func newConnectedConnection(r reactor.Reactor, uc *net.UnixConn, outcome handshake.Outcome, isClient bool) *Connection {
	c := &Connection{
		st:          stateConnected,
		dataSub:     dataSendAndReceive,
		isClient:    isClient,
		reactorRef:  r,
		ctrl:        newCtrlConn(uc),
		ch:          outcome.Channel,
		sendBufSize: outcome.C2SSize,
		recvBufSize: outcome.S2CSize,
		sendQueue:   queue.New(),
	}
	if !isClient {
		// The server sends on the s2c ring and receives on the c2s ring.
		c.sendBufSize, c.recvBufSize = outcome.S2CSize, outcome.C2SSize
	}
	c.rx = wire.NewReader(c.ch)
	c.tx = wire.NewWriter(c.ch)
	return c
}

// AttachControl registers this Connection's ring/state stats as debug
// probes on rt under the given name, e.g. "conn.<id>.send_used". Grounded
// on control/debug.go's live-stats pattern: each probe reads the current
// value under the Connection's own lock rather than caching a snapshot, so
// repeated reads always reflect the live ring state SPEC_FULL.md's control
// section calls for.
func (c *Connection) AttachControl(rt *control.Runtime, name string) {
	if rt == nil {
		return
	}
	rt.RegisterDebugProbe(name+".state", func() any {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.st
	})
	rt.RegisterDebugProbe(name+".send_used", func() any {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch == nil {
			return 0
		}
		return c.ch.SendRing().UsedSpace()
	})
	rt.RegisterDebugProbe(name+".recv_used", func() any {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch == nil {
			return 0
		}
		return c.ch.RecvRing().UsedSpace()
	})
	rt.RegisterDebugProbe(name+".send_queue_len", func() any {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.sendQueue.Length()
	})
	rt.RegisterDebugProbe(name+".peer_closed", func() any {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.peerClosed
	})
}

// ConnectAsync begins a client handshake to addr. cb fires exactly once,
// from a background goroutine, with nil on success or the terminal error.
func (c *Connection) ConnectAsync(addr Address, c2sHint, s2cHint uint32, cb func(error)) error {
	c.mu.Lock()
	if c.st != stateClosed {
		c.mu.Unlock()
		return ipcerr.New(ipcerr.AlreadyConnected, "ipc: connect called on a non-Closed connection")
	}
	c.st = stateConnecting
	c.connSub = subAwaitingConnect
	c.isClient = true
	c.mu.Unlock()

	go c.runClientHandshake(addr, c2sHint, s2cHint, cb)
	return nil
}

func (c *Connection) runClientHandshake(addr Address, c2sHint, s2cHint uint32, cb func(error)) {
	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: addr.controlSocketPath(), Net: "unix"})
	if err != nil {
		c.failConnect(ipcerr.Wrap(ipcerr.AddressNotAvailable, err, "ipc: dial control socket failed"))
		if cb != nil {
			cb(c.lastErr)
		}
		return
	}

	c.mu.Lock()
	c.connSub = subSendingM1
	c.mu.Unlock()

	outcome, err := handshake.ClientNegotiate(uc, c2sHint, s2cHint)
	if err != nil {
		uc.Close()
		c.failConnect(asIpcErr(err))
		if cb != nil {
			cb(c.lastErr)
		}
		return
	}

	c.mu.Lock()
	c.connSub = subSendingM2
	c.ctrl = newCtrlConn(uc)
	c.ch = outcome.Channel
	c.rx = wire.NewReader(c.ch)
	c.tx = wire.NewWriter(c.ch)
	c.sendBufSize = outcome.C2SSize
	c.recvBufSize = outcome.S2CSize
	c.st = stateConnected
	c.dataSub = dataSendAndReceive
	c.mu.Unlock()

	if err := c.registerReactor(); err != nil {
		connLog.Warnf("reactor registration failed: %v", err)
	}
	if cb != nil {
		cb(nil)
	}
}

func (c *Connection) failConnect(err *ipcerr.Error) {
	c.mu.Lock()
	c.st = stateConnectError
	c.lastErr = err
	c.mu.Unlock()
}

// registerReactor wires the control socket and a software-event source
// into the shared reactor. Called once, right after a handshake completes
// (client or server side).
func (c *Connection) registerReactor() error {
	if c.reactorRef == nil {
		return nil
	}
	fd, err := c.ctrl.fd()
	if err != nil {
		return err
	}
	c.ctrlFD = fd
	if err := c.reactorRef.Register(fd, reactor.EventRead, func(uintptr, reactor.FDEventType) { c.onControlReadable() }); err != nil {
		return err
	}
	se, err := c.reactorRef.NewSoftEvent(func(uintptr, reactor.FDEventType) { c.onSoftEvent() })
	if err != nil {
		return err
	}
	c.softEvent = se
	return nil
}

func (c *Connection) onSoftEvent() {
	c.pumpSendQueue()
	c.pumpRecv()
}

// onControlReadable runs on the reactor thread whenever the control socket
// becomes readable: one pass of the data-transfer state machine.
func (c *Connection) onControlReadable() {
	if c.closed.Load() {
		return
	}
	b, handle, err := c.ctrl.readByte()
	if err != nil {
		if ipcerr.Is(err, ipcerr.Busy) {
			return // spurious wakeup, nothing to read yet
		}
		c.handleControlSocketError(err)
		return
	}

	switch b {
	case ctrlReadWrite:
		if handle.Valid() {
			c.storeDeliveredHandle(handle)
		}
		c.pumpSendQueue()
		c.pumpRecv()
	case ctrlOrderlyClose:
		c.handlePeerOrderlyClose()
	case ctrlUserNotifyPrefix:
		c.handleUserNotification()
	default:
		c.mu.Lock()
		c.setProtocolErrorLocked(ipcerr.New(ipcerr.Protocol, "ipc: unknown control byte").WithContext("byte", b))
		c.mu.Unlock()
	}
}

func (c *Connection) handleControlSocketError(err error) {
	c.mu.Lock()
	c.setProtocolErrorLocked(ipcerr.Wrap(ipcerr.Protocol, err, "ipc: control socket read failed"))
	c.mu.Unlock()
}

func (c *Connection) handleUserNotification() {
	val, _, err := c.ctrl.readByte()
	if err != nil {
		return
	}
	c.mu.Lock()
	cb := c.notifyCB
	c.mu.Unlock()
	if cb != nil {
		c.invokeUserCallback(func() { cb(val) })
	}
}

// storeDeliveredHandle is a hook point for a best-effort-received Handle:
// spec.md's Open Question permits the handle to legitimately go missing,
// so there is intentionally no hard linkage back to a specific message
// here beyond logging; a fuller build would stash it keyed by sequence
// number for the next matching receive completion.
func (c *Connection) storeDeliveredHandle(h Handle) {
	connLog.Debugf("received out-of-band handle fd=%d", h.File().Fd())
}

func (c *Connection) handlePeerOrderlyClose() {
	c.mu.Lock()
	c.peerClosed = true
	switch c.dataSub {
	case dataSendAndReceive:
		if c.ch != nil && c.ch.IsAnyDataAvailable() {
			c.dataSub = dataReceiveOnly
		} else {
			c.dataSub = dataDisconnected
		}
	case dataReceiveOnly:
		if c.ch != nil && !c.ch.IsAnyDataAvailable() {
			c.dataSub = dataDisconnected
		}
	}
	c.mu.Unlock()
}

func asIpcErr(err error) *ipcerr.Error {
	if e, ok := err.(*ipcerr.Error); ok {
		return e
	}
	return ipcerr.Wrap(ipcerr.Unexpected, err, "ipc: unmapped error")
}

// setProtocolErrorLocked latches the connection into a sticky Protocol
// failure; mu must be held.
func (c *Connection) setProtocolErrorLocked(err *ipcerr.Error) {
	c.dataSub = dataProtocolError
	c.lastErr = err
}

// maybeAdvanceDataSubStateLocked re-checks whether a just-completed
// receive drained the ring enough to complete a pending orderly-close
// transition from ReceiveOnly to Disconnected.
func (c *Connection) maybeAdvanceDataSubStateLocked() {
	if c.peerClosed && c.dataSub == dataReceiveOnly && c.ch != nil && !c.ch.IsAnyDataAvailable() {
		c.dataSub = dataDisconnected
	}
}

func (c *Connection) checkSendableLocked() error {
	switch c.st {
	case stateClosed:
		return ipcerr.New(ipcerr.Uninitialized, "ipc: send on a Closed connection")
	case stateConnecting, stateConnectError:
		return ipcerr.New(ipcerr.Uninitialized, "ipc: send before connection established")
	}
	switch c.dataSub {
	case dataDisconnected:
		return ipcerr.New(ipcerr.Disconnected, "ipc: peer has disconnected")
	case dataProtocolError:
		if c.lastErr != nil {
			return c.lastErr
		}
		return ipcerr.New(ipcerr.Protocol, "ipc: connection in protocol-error state")
	}
	return nil
}

func (c *Connection) checkReceivableLocked() error {
	return c.checkSendableLocked()
}

// writeCtrlByteLocked best-effort writes a plain control byte; a write
// failure here (most commonly the peer already closed) is not surfaced
// to the caller, matching spec.md §5's "sender treats peer closed as
// non-error" rule for the wakeup byte.
func (c *Connection) writeCtrlByteLocked(b byte) {
	if c.ctrl == nil {
		return
	}
	if err := c.ctrl.writeByte(b); err != nil {
		connLog.Debugf("control byte write failed (peer likely closed): %v", err)
	}
}

func (c *Connection) invokeUserCallback(fn func()) {
	c.inUse.Add(1)
	defer c.inUse.Add(-1)
	if c.closed.Load() {
		return
	}
	fn()
}

// SendSync attempts a whole-message, all-or-nothing send.
func (c *Connection) SendSync(buffers [][]byte, handle *Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkSendableLocked(); err != nil {
		return err
	}
	return c.sendWholeLocked(buffers, handle)
}

func (c *Connection) sendWholeLocked(buffers [][]byte, handle *Handle) error {
	hasHandle := handle != nil && handle.Valid()
	notify, err := c.tx.SendWhole(buffers, hasHandle)
	if err != nil {
		if ipcerr.Is(err, ipcerr.Protocol) {
			c.setProtocolErrorLocked(asIpcErr(err))
		}
		return err
	}
	if hasHandle {
		if herr := c.ctrl.writeWakeupWithHandle(*handle); herr != nil {
			connLog.Debugf("handle transfer failed (best-effort): %v", herr)
		}
	} else if notify {
		c.writeCtrlByteLocked(ctrlReadWrite)
	}
	return nil
}

// Send tries a synchronous send first; on Busy it queues an asynchronous
// completion and returns SendPending.
func (c *Connection) Send(buffers [][]byte, handle *Handle, cb func(error)) (SendResult, error) {
	c.mu.Lock()
	if err := c.checkSendableLocked(); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	err := c.sendWholeLocked(buffers, handle)
	if err == nil {
		c.mu.Unlock()
		if cb != nil {
			c.invokeUserCallback(func() { cb(nil) })
		}
		return SendCompleted, nil
	}
	if !ipcerr.Is(err, ipcerr.Busy) {
		c.mu.Unlock()
		return 0, err
	}

	var h Handle
	hasHandle := handle != nil && handle.Valid()
	if hasHandle {
		h = *handle
	}
	c.sendQueue.Add(pendingSend{buffers: buffers, hasHandle: hasHandle, handle: h, cb: cb})
	c.ch.RequestWritableNotification()
	c.mu.Unlock()
	if c.softEvent != nil {
		c.softEvent.Notify()
	}
	return SendPending, nil
}

// SendAsync runs the same path as Send: it first attempts the send
// synchronously and queues it only when the ring has no room, so a send
// that fits completes inline with cb invoked before SendAsync returns. It
// does not force the queued path, and it does not report which of the two
// was taken.
func (c *Connection) SendAsync(buffers [][]byte, handle *Handle, cb func(error)) error {
	_, err := c.Send(buffers, handle, cb)
	return err
}

// pumpSendQueue retries queued async sends; called from the reactor
// thread after a readable-wakeup byte or a soft-event wakeup.
func (c *Connection) pumpSendQueue() {
	type completion struct {
		cb  func(error)
		err error
	}
	var completions []completion

	c.mu.Lock()
	for c.sendQueue.Length() > 0 {
		item := c.sendQueue.Peek().(pendingSend)
		var handlePtr *Handle
		if item.hasHandle {
			h := item.handle
			handlePtr = &h
		}
		err := c.sendWholeLocked(item.buffers, handlePtr)
		if err != nil {
			if ipcerr.Is(err, ipcerr.Busy) {
				break
			}
			c.sendQueue.Remove()
			completions = append(completions, completion{item.cb, err})
			continue
		}
		c.sendQueue.Remove()
		completions = append(completions, completion{item.cb, nil})
	}
	c.mu.Unlock()

	for _, comp := range completions {
		if comp.cb != nil {
			cb, err := comp.cb, comp.err
			c.invokeUserCallback(func() { cb(err) })
		}
	}
}

// ReceiveSync performs a whole-message receive into buffers. A Truncation
// error is returned alongside the number of bytes actually copied.
func (c *Connection) ReceiveSync(buffers [][]byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReceivableLocked(); err != nil {
		return 0, err
	}
	res, err := c.rx.ReceiveWhole(func(int) [][]byte { return buffers })
	if err != nil {
		if ipcerr.Is(err, ipcerr.Protocol) {
			c.setProtocolErrorLocked(asIpcErr(err))
		}
		return 0, err
	}
	if res.WaterMarkCrossed && c.ch.TestAndResetPeerWritableNotificationRequest() {
		c.writeCtrlByteLocked(ctrlReadWrite)
	}
	c.maybeAdvanceDataSubStateLocked()
	if res.Truncated {
		return res.N, ipcerr.New(ipcerr.Truncation, "ipc: receive buffer smaller than payload").WithContext("n", res.N)
	}
	return res.N, nil
}

// GetPendingMessageSize peeks only the message headers (the common header,
// plus the format-B header for a format-B message). A subsequent
// ReceiveSync/ReceiveAsync may still return Busy if the payload itself has
// not fully arrived yet — intentional, per spec.md §9's design notes.
func (c *Connection) GetPendingMessageSize() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkReceivableLocked(); err != nil {
		return 0, err
	}
	return c.rx.PeekMessageSize()
}

// ReceiveAsync registers a pending asynchronous receive. If chunk is nil
// the whole message is delivered through msgAvail/completion in one pass;
// otherwise chunk is invoked for every intermediate chunk and completion
// reports the final outcome.
func (c *Connection) ReceiveAsync(msgAvail MsgAvailableCallback, chunk ChunkCallback, completion CompletionCallback) error {
	c.mu.Lock()
	if err := c.checkReceivableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.recvPending != nil {
		c.mu.Unlock()
		return ipcerr.New(ipcerr.Api, "ipc: a receive is already pending")
	}
	c.recvPending = &pendingRecv{msgAvail: msgAvail, chunk: chunk, completion: completion}
	c.mu.Unlock()
	c.pumpRecv()
	return nil
}

// pumpRecv advances the pending receive, if any, as far as currently
// available data allows. Called from the reactor thread.
func (c *Connection) pumpRecv() {
	c.mu.Lock()
	pending := c.recvPending
	if pending == nil {
		c.mu.Unlock()
		return
	}

	if pending.chunk == nil {
		res, err := c.rx.ReceiveWhole(pending.msgAvail)
		if err != nil {
			if ipcerr.Is(err, ipcerr.Busy) {
				c.ch.RequestReadableNotification()
				c.mu.Unlock()
				return
			}
			c.recvPending = nil
			if ipcerr.Is(err, ipcerr.Protocol) {
				c.setProtocolErrorLocked(asIpcErr(err))
			}
			c.mu.Unlock()
			comp := pending.completion
			c.invokeUserCallback(func() { comp(wire.Result{}, err) })
			return
		}
		c.recvPending = nil
		c.maybeAdvanceDataSubStateLocked()
		if res.WaterMarkCrossed && c.ch.TestAndResetPeerWritableNotificationRequest() {
			c.writeCtrlByteLocked(ctrlReadWrite)
		}
		c.mu.Unlock()
		comp := pending.completion
		c.invokeUserCallback(func() { comp(res, nil) })
		return
	}

	c.pumpChunkedRecvLocked(pending)
}

// pumpChunkedRecvLocked drives wire.Reader's chunked state machine as far
// as the ring currently allows, draining whatever is available in a
// tight loop and stopping (rather than blocking) once the ring runs dry
// or the message completes. mu is held on entry and released before
// returning in every path.
func (c *Connection) pumpChunkedRecvLocked(pending *pendingRecv) {
	for {
		if !c.rx.ChunkInProgress() {
			payloadLen, _, err := c.rx.BeginChunked()
			if err != nil {
				if ipcerr.Is(err, ipcerr.Busy) {
					c.ch.RequestReadableNotification()
					c.mu.Unlock()
					return
				}
				c.recvPending = nil
				if ipcerr.Is(err, ipcerr.Protocol) {
					c.setProtocolErrorLocked(asIpcErr(err))
				}
				c.mu.Unlock()
				comp := pending.completion
				c.invokeUserCallback(func() { comp(wire.Result{}, err) })
				return
			}
			buffers := pending.msgAvail(payloadLen)
			if buffers == nil {
				c.recvPending = nil
				c.mu.Unlock()
				comp := pending.completion
				c.invokeUserCallback(func() {
					comp(wire.Result{}, ipcerr.New(ipcerr.Api, "ipc: buffer provider returned no buffers"))
				})
				return
			}
			pending.curBuffers = buffers
		}

		n, wm, finished, _ := c.rx.ReadChunk(pending.curBuffers)
		if wm && c.ch.TestAndResetPeerWritableNotificationRequest() {
			c.writeCtrlByteLocked(ctrlReadWrite)
		}
		if finished {
			c.recvPending = nil
			c.maybeAdvanceDataSubStateLocked()
			c.mu.Unlock()
			comp := pending.completion
			c.invokeUserCallback(func() { comp(wire.Result{N: n}, nil) })
			return
		}
		if n == 0 {
			// Ring drained but the message is not yet complete; wait for
			// the peer's next wakeup.
			c.ch.RequestReadableNotification()
			c.mu.Unlock()
			return
		}

		buffers := pending.chunk(c.rx.ChunkRemaining())
		if buffers == nil {
			c.recvPending = nil
			c.mu.Unlock()
			comp := pending.completion
			c.invokeUserCallback(func() {
				comp(wire.Result{}, ipcerr.New(ipcerr.Api, "ipc: chunk callback returned no buffers"))
			})
			return
		}
		pending.curBuffers = buffers
	}
}

// SendNotification writes a single byte over the user-notification side
// channel; order is preserved and it never interleaves with the framed
// message stream.
func (c *Connection) SendNotification(b byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkSendableLocked(); err != nil {
		return err
	}
	return c.ctrl.writeUserNotification(b)
}

// RegisterNotificationCallback installs the handler for inbound user
// notifications. A notification received with no callback registered is
// dropped.
func (c *Connection) RegisterNotificationCallback(cb NotificationCallback) {
	c.mu.Lock()
	c.notifyCB = cb
	c.mu.Unlock()
}

// UnregisterNotificationCallback removes any installed notification handler.
func (c *Connection) UnregisterNotificationCallback() {
	c.mu.Lock()
	c.notifyCB = nil
	c.mu.Unlock()
}

// GetPeerProcessID returns the connected peer's pid via SO_PEERCRED.
func (c *Connection) GetPeerProcessID() (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil {
		return 0, ipcerr.New(ipcerr.Uninitialized, "ipc: not connected")
	}
	pid, _, _, err := c.ctrl.peerCredentials()
	return pid, err
}

// PeerIdentity is the peer's POSIX credentials as reported by SO_PEERCRED.
type PeerIdentity struct {
	UID uint32
	GID uint32
}

// GetPeerIdentity returns the connected peer's uid/gid.
func (c *Connection) GetPeerIdentity() (PeerIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil {
		return PeerIdentity{}, ipcerr.New(ipcerr.Uninitialized, "ipc: not connected")
	}
	_, uid, gid, err := c.ctrl.peerCredentials()
	return PeerIdentity{UID: uid, GID: gid}, err
}

// IntegrityLevel approximates the Windows Mandatory Integrity Control
// concept the original design assumed, the only POSIX-expressible proxy
// being root vs. non-root (see DESIGN.md).
type IntegrityLevel int

const (
	IntegrityUntrusted IntegrityLevel = iota
	IntegrityLow
	IntegrityMedium
	IntegrityHigh
	IntegritySystem
)

// CheckPeerIntegrityLevel reports whether the peer's credentials meet or
// exceed min. On POSIX this collapses to "peer is root" for IntegritySystem
// and above, and "always true" below that, since this platform has no
// finer-grained mandatory integrity control.
func (c *Connection) CheckPeerIntegrityLevel(min IntegrityLevel) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctrl == nil {
		return false, ipcerr.New(ipcerr.Uninitialized, "ipc: not connected")
	}
	_, uid, _, err := c.ctrl.peerCredentials()
	if err != nil {
		return false, err
	}
	if min >= IntegritySystem {
		return uid == 0, nil
	}
	return true, nil
}

// GetSendBufferSize returns the negotiated send-ring capacity.
func (c *Connection) GetSendBufferSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateConnected {
		return 0, ipcerr.New(ipcerr.Uninitialized, "ipc: not connected")
	}
	return c.sendBufSize, nil
}

// GetReceiveBufferSize returns the negotiated receive-ring capacity.
func (c *Connection) GetReceiveBufferSize() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != stateConnected {
		return 0, ipcerr.New(ipcerr.Uninitialized, "ipc: not connected")
	}
	return c.recvBufSize, nil
}

// IsOpen reports whether the Connection holds any resources (anything but
// Closed).
func (c *Connection) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st != stateClosed
}

// IsInUse reports whether a user callback is currently executing.
func (c *Connection) IsInUse() bool {
	return c.inUse.Load() > 0
}

// Close releases all resources. Idempotent: closing an already-Closed
// Connection is a no-op, and a second Close yields the same state as the
// first. Pending async completions are dropped without invocation, except
// one that may already be mid-execution (IsInUse reports this).
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.st == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.closed.Store(true)

	for c.sendQueue.Length() > 0 {
		c.sendQueue.Remove()
	}
	c.recvPending = nil

	if c.ctrl != nil {
		c.writeCtrlByteLocked(ctrlOrderlyClose)
		if c.reactorRef != nil && c.ctrlFD != 0 {
			_ = c.reactorRef.Unregister(c.ctrlFD)
		}
		_ = c.ctrl.close()
	}
	if c.softEvent != nil {
		_ = c.softEvent.Close()
	}
	if c.ch != nil {
		_ = c.ch.Close()
	}

	c.st = stateClosed
	c.connSub = 0
	c.dataSub = 0
	c.mu.Unlock()
	return nil
}

// CloseAndAssertNoCallbackExecuting closes the Connection, failing instead
// with an Api error if a user callback is mid-execution.
func (c *Connection) CloseAndAssertNoCallbackExecuting() error {
	if c.IsInUse() {
		return ipcerr.New(ipcerr.Api, "ipc: callback executing during close")
	}
	return c.Close()
}
