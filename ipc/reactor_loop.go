// File: ipc/reactor_loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ReactorLoop runs a reactor.Reactor's Poll loop on a dedicated, optionally
// CPU-pinned OS thread, the way examples/numa_affinity pins a goroutine with
// runtime.LockOSThread before calling affinity.SetAffinity — generalized
// from a one-shot demo into the long-lived poll loop the single-threaded
// reactor model (spec.md §7) requires.

package ipc

import (
	"runtime"
	"sync/atomic"

	"github.com/momentics/ipcchan/affinity"
	"github.com/momentics/ipcchan/internal/ipclog"
	"github.com/momentics/ipcchan/reactor"
)

var reactorLog = ipclog.For("ipc.reactor_loop")

// ReactorLoopConfig configures a ReactorLoop.
type ReactorLoopConfig struct {
	// CPUID selects the logical CPU to pin the reactor thread to. Negative
	// disables pinning (the OS scheduler places the thread freely).
	CPUID int
	// PollTimeoutMs bounds each Reactor.Poll call; the loop checks for
	// Stop between calls, so this is also the worst-case stop latency.
	PollTimeoutMs int
}

// ReactorLoop owns one OS thread dedicated to draining a Reactor.
type ReactorLoop struct {
	r      reactor.Reactor
	cfg    ReactorLoopConfig
	stop   chan struct{}
	done   chan struct{}
	running atomic.Bool
}

// NewReactorLoop builds a loop over r. Call Start to begin polling.
func NewReactorLoop(r reactor.Reactor, cfg ReactorLoopConfig) *ReactorLoop {
	if cfg.PollTimeoutMs <= 0 {
		cfg.PollTimeoutMs = 100
	}
	return &ReactorLoop{r: r, cfg: cfg, stop: make(chan struct{}), done: make(chan struct{})}
}

// Start launches the reactor thread. Safe to call only once.
func (l *ReactorLoop) Start() {
	l.running.Store(true)
	go l.run()
}

func (l *ReactorLoop) run() {
	defer close(l.done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if l.cfg.CPUID >= 0 {
		if err := affinity.SetAffinity(l.cfg.CPUID); err != nil {
			reactorLog.Warnf("pin to cpu %d failed, continuing unpinned: %v", l.cfg.CPUID, err)
		}
	}

	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if err := l.r.Poll(l.cfg.PollTimeoutMs); err != nil {
			reactorLog.Errorf("poll failed: %v", err)
		}
	}
}

// Stop signals the reactor thread to exit and waits for it to do so. The
// underlying Reactor itself is not closed; callers own that separately.
func (l *ReactorLoop) Stop() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}
	close(l.stop)
	<-l.done
}
