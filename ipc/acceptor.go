// File: ipc/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor is the server-side listener of spec.md §4.H: it accepts control
// socket connections and drives each one's handshake on its own goroutine,
// the way lowlevel/server.Listener.Accept drives a WebSocket handshake
// inline per accepted net.Conn — generalized here into a backlog of
// concurrent in-flight handshakes, each bounded by a scheduler timeout
// instead of Listener's single synchronous call.

package ipc

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/ipcchan/api"
	"github.com/momentics/ipcchan/control"
	"github.com/momentics/ipcchan/handshake"
	"github.com/momentics/ipcchan/internal/ipcerr"
	"github.com/momentics/ipcchan/internal/ipclog"
	"github.com/momentics/ipcchan/reactor"
)

var acceptorLog = ipclog.For("ipc.acceptor")

// AcceptorConfig configures a server-side listener.
type AcceptorConfig struct {
	Address          Address
	MaxBufferSize    uint32        // 0 means no server-side cap beyond the client's hint
	HandshakeTimeout time.Duration // 0 disables the timeout
}

// incomingConn tracks one accepted-but-not-yet-negotiated control socket.
type incomingConn struct {
	id     uint64
	uc     *net.UnixConn
	cancel api.Cancelable
}

// Acceptor listens on a control socket address and hands completed
// Connections to onAccept.
type Acceptor struct {
	cfg        AcceptorConfig
	ln         *net.UnixListener
	reactorRef reactor.Reactor
	scheduler  api.Scheduler
	onAccept   func(*Connection)

	nextID  uint64
	mu      sync.Mutex
	backlog map[uint64]*incomingConn

	accepted atomic.Uint64
	failed   atomic.Uint64
	ctrl     *control.Runtime

	closed atomic.Bool
}

// NewAcceptor binds cfg.Address's control socket path and returns a ready,
// not-yet-running Acceptor. r is the reactor completed Connections register
// with; sched bounds each handshake's lifetime (nil disables the bound).
func NewAcceptor(cfg AcceptorConfig, r reactor.Reactor, sched api.Scheduler, onAccept func(*Connection)) (*Acceptor, error) {
	path := cfg.Address.controlSocketPath()
	_ = os.Remove(path) // best-effort: a stale socket from a prior crashed run

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, ipcerr.Wrap(ipcerr.AddressNotAvailable, err, "ipc: listen on control socket failed").
			WithContext("path", path)
	}
	return &Acceptor{
		cfg:        cfg,
		ln:         ln,
		reactorRef: r,
		scheduler:  sched,
		onAccept:   onAccept,
		backlog:    make(map[uint64]*incomingConn),
	}, nil
}

// AttachControl wires rt's debug probes and config snapshot into this
// Acceptor: a "handshake_timeout_ms" config key (if present and an int)
// overrides cfg.HandshakeTimeout, read once at this call, and
// acceptor.{backlog_size,accepted_total,
// failed_total} probes are registered against rt for live introspection —
// the same control.Runtime an operator would use to watch a Connection's
// ring/state stats via control.DebugProbes.
func (a *Acceptor) AttachControl(rt *control.Runtime) {
	if rt == nil {
		return
	}
	a.mu.Lock()
	a.ctrl = rt
	if ms, ok := rt.GetConfig()["handshake_timeout_ms"].(int); ok {
		a.cfg.HandshakeTimeout = time.Duration(ms) * time.Millisecond
	}
	a.mu.Unlock()

	rt.RegisterDebugProbe("acceptor.backlog_size", func() any {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.backlog)
	})
	rt.RegisterDebugProbe("acceptor.accepted_total", func() any { return a.accepted.Load() })
	rt.RegisterDebugProbe("acceptor.failed_total", func() any { return a.failed.Load() })
}

// Run blocks accepting connections until Close is called, at which point
// it returns nil. Each accepted connection's handshake runs concurrently
// on its own goroutine, so a slow or malicious peer cannot stall others.
func (a *Acceptor) Run() error {
	for {
		uc, err := a.ln.AcceptUnix()
		if err != nil {
			if a.closed.Load() {
				return nil
			}
			return ipcerr.Wrap(ipcerr.Resource, err, "ipc: accept failed")
		}
		a.beginHandshake(uc)
	}
}

func (a *Acceptor) beginHandshake(uc *net.UnixConn) {
	id := atomic.AddUint64(&a.nextID, 1)
	ic := &incomingConn{id: id, uc: uc}

	a.mu.Lock()
	a.backlog[id] = ic
	a.mu.Unlock()

	if a.cfg.HandshakeTimeout > 0 && a.scheduler != nil {
		cancel, err := a.scheduler.Schedule(int64(a.cfg.HandshakeTimeout), func() { a.timeoutHandshake(id) })
		if err == nil {
			ic.cancel = cancel
		}
	}

	go a.runHandshake(ic)
}

// timeoutHandshake aborts an in-flight handshake that has taken too long
// by closing its control socket, which unblocks ServerNegotiate's pending
// read/write with an error.
func (a *Acceptor) timeoutHandshake(id uint64) {
	a.mu.Lock()
	ic, ok := a.backlog[id]
	if ok {
		delete(a.backlog, id)
	}
	a.mu.Unlock()
	if ok {
		acceptorLog.Warnf("handshake %d timed out", id)
		_ = ic.uc.Close()
	}
}

func (a *Acceptor) runHandshake(ic *incomingConn) {
	defer func() {
		a.mu.Lock()
		delete(a.backlog, ic.id)
		a.mu.Unlock()
		if ic.cancel != nil {
			_ = ic.cancel.Cancel()
		}
	}()

	cfg := handshake.ServerConfig{
		MaxBufferSize: a.cfg.MaxBufferSize,
		NamePrefix:    a.cfg.Address.shmNamePrefix(),
	}
	outcome, err := handshake.ServerNegotiate(ic.uc, cfg, ic.id)
	if err != nil {
		a.failed.Add(1)
		acceptorLog.Warnf("handshake %d failed: %v", ic.id, err)
		_ = ic.uc.Close()
		return
	}
	a.accepted.Add(1)

	conn := newConnectedConnection(a.reactorRef, ic.uc, outcome, false)
	if err := conn.registerReactor(); err != nil {
		acceptorLog.Warnf("reactor registration for handshake %d failed: %v", ic.id, err)
	}

	a.mu.Lock()
	ctrl := a.ctrl
	a.mu.Unlock()
	if ctrl != nil {
		conn.AttachControl(ctrl, fmt.Sprintf("conn.%d", ic.id))
	}

	if a.onAccept != nil {
		a.onAccept(conn)
	}
}

// Close stops Run and aborts every in-flight handshake.
func (a *Acceptor) Close() error {
	a.closed.Store(true)

	a.mu.Lock()
	for id, ic := range a.backlog {
		_ = ic.uc.Close()
		if ic.cancel != nil {
			_ = ic.cancel.Cancel()
		}
		delete(a.backlog, id)
	}
	a.mu.Unlock()

	return a.ln.Close()
}
