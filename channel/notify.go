// File: channel/notify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The notification region is four atomic flag cells shared by both peers:
// client-wants-readable, client-wants-writable, server-wants-readable,
// server-wants-writable. Each Connection addresses them from its own side
// as self/peer pairs depending on whether it is the client or the server.
//
// Convention: a cleared flag (0) means "a wakeup is requested"; a set flag
// (1) means "no request outstanding" — matching the existing test-and-set
// idiom used for notification flags elsewhere in the codebase so a single
// Swap both tests for a request and sets the flag back in one step.

package channel

import (
	"sync/atomic"
	"unsafe"
)

// NotifyRegionSize is the number of bytes the notification MappedRegion
// must provide.
const NotifyRegionSize = 16

const (
	offClientReadable = 0
	offClientWritable = 4
	offServerReadable = 8
	offServerWritable = 12
)

// notifyFlags is the raw view over the notification region.
type notifyFlags struct {
	clientReadable *atomic.Uint32
	clientWritable *atomic.Uint32
	serverReadable *atomic.Uint32
	serverWritable *atomic.Uint32
}

func newNotifyFlags(region []byte) *notifyFlags {
	if len(region) < NotifyRegionSize {
		panic("channel: notification region too small")
	}
	return &notifyFlags{
		clientReadable: (*atomic.Uint32)(unsafe.Pointer(&region[offClientReadable])),
		clientWritable: (*atomic.Uint32)(unsafe.Pointer(&region[offClientWritable])),
		serverReadable: (*atomic.Uint32)(unsafe.Pointer(&region[offServerReadable])),
		serverWritable: (*atomic.Uint32)(unsafe.Pointer(&region[offServerWritable])),
	}
}

// flagSet marks the flag as fulfilled (no request outstanding).
func flagSet(f *atomic.Uint32) { f.Store(1) }

// flagClear marks the flag as a pending wakeup request.
func flagClear(f *atomic.Uint32) { f.Store(0) }

// flagTestAndSet atomically reads the current value and sets it to
// "fulfilled", returning whether a request had been outstanding.
func flagTestAndSet(f *atomic.Uint32) bool {
	old := f.Swap(1)
	return old == 0
}
