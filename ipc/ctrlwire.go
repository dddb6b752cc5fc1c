// File: ipc/ctrlwire.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wire format of the control-socket byte stream (spec.md §6): a small
// enumerated set of one-byte values, plus the SCM_RIGHTS ancillary-data
// path used for best-effort Handle transfer and the SO_PEERCRED query
// used for peer identity. Built on raw syscalls reached through
// net.UnixConn.SyscallConn(), the way connstate.ListenConnState in the
// wider pack reaches the raw fd of a net.Conn without abandoning its
// portable Close()/deadline surface.

package ipc

import (
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/momentics/ipcchan/internal/ipcerr"
)

// Control-socket byte values. Anything else observed on the wire is a
// protocol error (spec.md §6).
const (
	ctrlReadWrite        byte = 0 // a simple wakeup request/grant
	ctrlOrderlyClose     byte = 1
	ctrlUserNotifyPrefix byte = 2
)

// MaxUserNotificationByte bounds the single payload byte that follows
// ctrlUserNotifyPrefix.
const MaxUserNotificationByte byte = 250

// ctrlConn wraps the control net.UnixConn with the raw-fd operations
// net.Conn's portable surface doesn't expose: ancillary data for Handle
// transfer, and SO_PEERCRED for peer identity.
type ctrlConn struct {
	uc *net.UnixConn
}

func newCtrlConn(uc *net.UnixConn) *ctrlConn {
	return &ctrlConn{uc: uc}
}

// fd returns the underlying file descriptor for reactor registration.
func (c *ctrlConn) fd() (uintptr, error) {
	raw, err := c.uc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	cerr := raw.Control(func(f uintptr) { fd = f })
	if cerr != nil {
		return 0, cerr
	}
	return fd, nil
}

// writeByte writes a single plain control byte (ctrlReadWrite or
// ctrlOrderlyClose).
func (c *ctrlConn) writeByte(b byte) error {
	_, err := c.uc.Write([]byte{b})
	return err
}

// writeUserNotification writes the prefix byte and the user's payload byte.
func (c *ctrlConn) writeUserNotification(b byte) error {
	if b > MaxUserNotificationByte {
		return ipcerr.New(ipcerr.Api, "ipc: user notification byte exceeds maximum").
			WithContext("max", MaxUserNotificationByte).WithContext("got", b)
	}
	_, err := c.uc.Write([]byte{ctrlUserNotifyPrefix, b})
	return err
}

// writeWakeupWithHandle sends the ctrlReadWrite byte carrying h as
// SCM_RIGHTS ancillary data, piggy-backing the best-effort handle transfer
// on the ordinary wakeup byte rather than growing the fixed control-byte
// enum spec.md §6 defines.
func (c *ctrlConn) writeWakeupWithHandle(h Handle) error {
	fd, err := c.fd()
	if err != nil {
		return err
	}
	rights := unix.UnixRights(int(h.File().Fd()))
	return unix.Sendmsg(int(fd), []byte{ctrlReadWrite}, rights, nil, 0)
}

// readByte reads one control byte (plus any attached ancillary handle). The
// socket is non-blocking: if no byte is pending it returns a Busy error
// instead of waiting. Called from the reactor callback after epoll reports
// readability.
func (c *ctrlConn) readByte() (byte, Handle, error) {
	fd, err := c.fd()
	if err != nil {
		return 0, Handle{}, err
	}
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(int(fd), buf, oob, 0)
	if err == unix.EAGAIN {
		// The underlying fd is non-blocking (net.Conn's default); a spurious
		// or already-drained epoll wakeup surfaces here as EAGAIN rather
		// than as a real error.
		return 0, Handle{}, ipcerr.New(ipcerr.Busy, "ipc: control socket read would block")
	}
	if err != nil {
		return 0, Handle{}, err
	}
	if n == 0 {
		return 0, Handle{}, io.EOF
	}

	var h Handle
	if oobn > 0 {
		cmsgs, perr := unix.ParseSocketControlMessage(oob[:oobn])
		if perr == nil {
			for _, cmsg := range cmsgs {
				fds, ferr := unix.ParseUnixRights(&cmsg)
				if ferr == nil && len(fds) > 0 {
					h = NewHandle(os.NewFile(uintptr(fds[0]), "ipc-handle"))
				}
			}
		}
	}
	return buf[0], h, nil
}

// peerCredentials returns the SO_PEERCRED ucred of the connected peer.
func (c *ctrlConn) peerCredentials() (pid int32, uid, gid uint32, err error) {
	fd, ferr := c.fd()
	if ferr != nil {
		return 0, 0, 0, ferr
	}
	cred, cerr := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	if cerr != nil {
		return 0, 0, 0, ipcerr.Wrap(ipcerr.Unexpected, cerr, "ipc: SO_PEERCRED failed")
	}
	return cred.Pid, cred.Uid, cred.Gid, nil
}

func (c *ctrlConn) close() error {
	return c.uc.Close()
}

func (c *ctrlConn) String() string {
	return fmt.Sprintf("ctrl(%s)", c.uc.RemoteAddr())
}
