// File: ipc/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package ipc is the top-level connection lifecycle: a three-way handshake
// over a control socket, an event-driven state machine for connect,
// data-transfer and disconnect, and the server-side Acceptor that spawns
// one Connection per incoming client. Everything below it (shm, channel,
// wire, handshake) is framing- and transport-agnostic; ipc is where those
// pieces meet net.Conn and the reactor.
package ipc
