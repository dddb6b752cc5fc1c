// File: pool/doc.go
// Package pool
// Author: momentics <momentics@gmail.com>
//
// NUMA-aware, size-classed buffer pooling for scratch allocations on the
// wire codec path. The shared-memory ring data itself is never pooled
// here — only the transient []byte buffers wire.Reader and wire.Writer
// use to stage header and payload bytes between the ring and the caller's
// buffers.
package pool
