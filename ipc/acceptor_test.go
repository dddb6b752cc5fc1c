package ipc

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/momentics/ipcchan/control"
	"github.com/momentics/ipcchan/handshake"
	"github.com/momentics/ipcchan/internal/concurrency"
)

func testAddress(t *testing.T) Address {
	t.Helper()
	return Address{Domain: os.Getpid(), Port: int(time.Now().UnixNano() % 1_000_000)}
}

func TestAcceptorHandshakeHappyPath(t *testing.T) {
	addr := testAddress(t)
	defer os.Remove(addr.controlSocketPath())

	accepted := make(chan *Connection, 1)
	acc, err := NewAcceptor(AcceptorConfig{Address: addr, HandshakeTimeout: 2 * time.Second}, nil, nil, func(c *Connection) {
		accepted <- c
	})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	defer acc.Close()

	go acc.Run()

	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: addr.controlSocketPath(), Net: "unix"})
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	defer uc.Close()

	outcome, err := handshake.ClientNegotiate(uc, 4096, 4096)
	if err != nil {
		t.Fatalf("ClientNegotiate: %v", err)
	}
	defer outcome.Channel.Close()

	select {
	case c := <-accepted:
		defer c.Close()
		if c.st != stateConnected {
			t.Fatalf("accepted connection state = %v, want connected", c.st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

func TestAcceptorHandshakeTimeoutClosesStalledPeer(t *testing.T) {
	addr := testAddress(t)
	defer os.Remove(addr.controlSocketPath())

	sched := concurrency.NewScheduler()
	defer sched.Close()

	acc, err := NewAcceptor(AcceptorConfig{Address: addr, HandshakeTimeout: 50 * time.Millisecond}, nil, sched, func(*Connection) {})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	defer acc.Close()
	go acc.Run()

	uc, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: addr.controlSocketPath(), Net: "unix"})
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	defer uc.Close()

	// Never send ClientHello: the server-side handshake goroutine blocks
	// on DecodeClientHello until the Acceptor's timeout closes its fd.
	buf := make([]byte, 1)
	uc.SetReadDeadline(time.Now().Add(1 * time.Second))
	n, err := uc.Read(buf)
	if err == nil && n > 0 {
		t.Fatalf("expected connection closed by server-side timeout, got %d bytes", n)
	}
}

func TestAcceptorAttachControlOverridesTimeoutAndExposesProbes(t *testing.T) {
	addr := testAddress(t)
	defer os.Remove(addr.controlSocketPath())

	acc, err := NewAcceptor(AcceptorConfig{Address: addr, HandshakeTimeout: time.Hour}, nil, nil, func(*Connection) {})
	if err != nil {
		t.Fatalf("NewAcceptor: %v", err)
	}
	defer acc.Close()

	rt := control.NewRuntime()
	rt.SetConfig(map[string]any{"handshake_timeout_ms": 250})
	acc.AttachControl(rt)

	if acc.cfg.HandshakeTimeout != 250*time.Millisecond {
		t.Fatalf("HandshakeTimeout = %v, want 250ms", acc.cfg.HandshakeTimeout)
	}

	state := rt.DumpState()
	if _, ok := state["acceptor.backlog_size"]; !ok {
		t.Fatal("expected acceptor.backlog_size probe to be registered")
	}
	if v, ok := state["acceptor.accepted_total"].(uint64); !ok || v != 0 {
		t.Fatalf("acceptor.accepted_total = %v, want uint64(0)", state["acceptor.accepted_total"])
	}
}
