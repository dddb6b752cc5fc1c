// File: internal/ipclog/ipclog.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal structured-ish logging for the transport's internal packages.
// A package-level function variable so callers can redirect output
// (to silence it, or to wire it into a host process's own logger)
// without pulling in a logging dependency the corpus never used for
// this layer.

package ipclog

import (
	"fmt"
	"sync"
)

// Printf is called for every log line. Replace it to redirect output.
var Printf = func(component, msg string, args ...any) {
	fmt.Printf("[%s] "+msg+"\n", append([]any{component}, args...)...)
}

var mu sync.Mutex

// For logs a Logger scoped to component, matching the internal
// "[component] message" convention used throughout the library.
func For(component string) Logger {
	return Logger{component: component}
}

// Logger is a tiny, allocation-light scoped logging handle.
type Logger struct {
	component string
}

// Debugf logs a diagnostic message. Replacing Printf silences it.
func (l Logger) Debugf(msg string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	Printf(l.component, msg, args...)
}

// Warnf logs a recoverable-anomaly message.
func (l Logger) Warnf(msg string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	Printf(l.component, "WARN: "+msg, args...)
}

// Errorf logs a failure that the caller is about to surface as an error value.
func (l Logger) Errorf(msg string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	Printf(l.component, "ERROR: "+msg, args...)
}
