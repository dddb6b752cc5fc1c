// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded, level-triggered epoll(7)
// event loop that drives every Connection and Acceptor: one Reactor polls
// the control socket fds and eventfd-backed software-event sources, and
// dispatches FDCallback on its own thread only.
package reactor
