//go:build linux
// +build linux

// File: reactor/soft_event.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SoftEvent gives API callers on arbitrary goroutines a way to wake the
// single reactor thread, required by Connection.send/receive being callable
// from any thread while the data-transfer state machine only ever runs on
// the reactor thread.

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SoftEvent is a cross-thread wakeup source backed by a Linux eventfd.
type SoftEvent struct {
	fd int
	r  *epollReactor
}

// NewSoftEvent creates an eventfd, registers it for readability, and wires
// cb to run on the reactor thread each time Notify causes a wakeup.
func (r *epollReactor) NewSoftEvent(cb FDCallback) (*SoftEvent, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	se := &SoftEvent{fd: fd, r: r}

	wrapped := func(fd uintptr, events FDEventType) {
		se.drain()
		cb(fd, events)
	}
	if err := r.Register(uintptr(fd), EventRead, wrapped); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return se, nil
}

// Notify wakes the reactor thread. Safe to call from any goroutine,
// including concurrently with itself.
func (se *SoftEvent) Notify() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(se.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (se *SoftEvent) drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(se.fd, buf[:])
		if err != nil {
			return
		}
	}
}

// Close unregisters and closes the underlying eventfd.
func (se *SoftEvent) Close() error {
	_ = se.r.Unregister(uintptr(se.fd))
	return unix.Close(se.fd)
}
