// File: reactor/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared reactor contract: a single-threaded, level-triggered fd multiplexer
// with callback dispatch plus a software-event source for cross-thread
// wakeups, as required by the Connection/Acceptor integration.

package reactor

// FDEventType is a bitmask of readiness conditions.
type FDEventType int

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
)

// FDCallback is invoked by the reactor thread when a registered fd becomes
// ready, or when a SoftEvent is signaled. It must not block.
type FDCallback func(fd uintptr, events FDEventType)

// Reactor multiplexes readiness on a set of file descriptors in a single
// thread and dispatches FDCallback on each Poll pass.
type Reactor interface {
	// Register starts watching fd for the given event mask.
	Register(fd uintptr, events FDEventType, cb FDCallback) error

	// Modify changes the watched event mask for an already-registered fd.
	Modify(fd uintptr, events FDEventType) error

	// Unregister stops watching fd.
	Unregister(fd uintptr) error

	// Poll blocks up to timeoutMs (negative blocks indefinitely) and
	// dispatches callbacks for any ready fds. A single EINTR is treated as
	// a no-op pass, not an error.
	Poll(timeoutMs int) error

	// NewSoftEvent creates a cross-thread wakeup source backed by an
	// eventfd; Notify may be called from any goroutine and causes cb to
	// run on the next Poll pass in the reactor thread.
	NewSoftEvent(cb FDCallback) (*SoftEvent, error)

	// Close releases the reactor's own resources (not registered fds).
	Close() error
}
