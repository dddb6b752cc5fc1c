// File: wire/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package wire implements message framing on top of channel's rings: the
// common and format-B headers, the stateful Reader and Writer, and the
// scatter/gather BufferList they copy payload through.
package wire
