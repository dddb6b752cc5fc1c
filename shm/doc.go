// File: shm/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package shm owns mapped shared-memory regions and the lock-free byte
// ring view layered over them. It has no notion of messages, handshakes,
// or connections — those live in channel, wire and ipc.
package shm
