// File: channel/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package channel pairs two shm.Ring instances with a notification region
// into the framing-agnostic half of a connection: ring access, sequence
// counters, and cross-process wakeup bookkeeping. It does not parse
// message headers; that is wire's job.
package channel
