// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lock-free queue primitive backing the buffer pool's free-list, and the
// timer-queue Scheduler backing the Acceptor's handshake timeout.
package concurrency
