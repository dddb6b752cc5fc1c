// File: ipc/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Address is the opaque (domain, port) pair spec.md §6 describes: the spec
// fixes only the behavior, not the mapping. This build maps it to a Unix
// domain control socket under /tmp and a shared-memory object name prefix
// under /dev/shm.

package ipc

import "fmt"

// Address identifies one endpoint as a (domain, port) pair, the way the
// source tree's Unicast address does: small integers with a host-defined
// mapping to real OS resources.
type Address struct {
	Domain int
	Port   int
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.Domain, a.Port)
}

// controlSocketPath is the Unix domain socket path this Address maps to.
func (a Address) controlSocketPath() string {
	return fmt.Sprintf("/tmp/ipcchan-%d-%d.sock", a.Domain, a.Port)
}

// shmNamePrefix seeds the three shared-memory object names the handshake
// hands out for a given incoming connection on this Address.
func (a Address) shmNamePrefix() string {
	return fmt.Sprintf("ipcchan-%d-%d", a.Domain, a.Port)
}
