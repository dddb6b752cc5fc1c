//go:build linux

// File: shm/region.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// MappedRegion owns one mmap'd POSIX shared-memory object, backed by a
// /dev/shm file the way the OS bindings this package stands in for would
// expose it. One side creates and unlinks the object (Owner); the other
// only opens and maps it (Peer) — mirroring the client/server asymmetry
// of the handshake that hands out region names.

package shm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/momentics/ipcchan/internal/ipcerr"
)

const shmDir = "/dev/shm"

// Region is a single mapped shared-memory object.
type Region struct {
	Name string
	data []byte
	fd   int
	own  bool
}

// CreateRegion creates (or truncates) a new shared-memory object of size
// bytes under /dev/shm and maps it read/write. The caller becomes the Owner
// and must eventually call Close to unmap and unlink it.
func CreateRegion(name string, size int) (*Region, error) {
	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, mapOpenErr(err, path)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		os.Remove(path)
		return nil, ipcerr.Wrap(ipcerr.Resource, err, "shm: ftruncate failed").WithContext("path", path)
	}
	return mapRegion(name, fd, size, true)
}

// OpenRegion opens and maps an existing shared-memory object created by the
// peer. The caller does not own the backing file and never unlinks it.
func OpenRegion(name string, size int) (*Region, error) {
	path := filepath.Join(shmDir, name)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, mapOpenErr(err, path)
	}
	return mapRegion(name, fd, size, false)
}

func mapOpenErr(err error, path string) error {
	if err == unix.EACCES || err == unix.EPERM {
		return ipcerr.Wrap(ipcerr.InsufficientPrivileges, err, "shm: open denied").WithContext("path", path)
	}
	return ipcerr.Wrap(ipcerr.Resource, err, "shm: open failed").WithContext("path", path)
}

func mapRegion(name string, fd, size int, owner bool) (*Region, error) {
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		if owner {
			os.Remove(filepath.Join(shmDir, name))
		}
		return nil, ipcerr.Wrap(ipcerr.Resource, err, "shm: mmap failed").WithContext("name", name)
	}
	return &Region{Name: name, data: data, fd: fd, own: owner}, nil
}

// Bytes returns the mapped memory. Valid until Close.
func (r *Region) Bytes() []byte { return r.data }

// WrapBytes views an already-allocated byte slice as a Region without
// mmap'ing anything. Used by tests that exercise Channel/Ring logic
// in-process, where two "peers" are really the same Go slice shared by
// both sides instead of two separate address-space mappings.
func WrapBytes(data []byte) *Region {
	return &Region{Name: "", data: data, fd: -1, own: false}
}

// Len returns the mapped size in bytes.
func (r *Region) Len() int { return len(r.data) }

// Close unmaps the region and, if this side created it, closes and unlinks
// the backing /dev/shm file. A second call is a no-op that returns nil
// rather than a panic, since Connection.Close may race a reactor
// callback that is mid-teardown.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	data := r.data
	r.data = nil
	if r.fd < 0 {
		return nil // WrapBytes: nothing was mapped or opened
	}
	if err := unix.Munmap(data); err != nil {
		return ipcerr.Wrap(ipcerr.Resource, err, "shm: munmap failed")
	}
	if err := unix.Close(r.fd); err != nil {
		return fmt.Errorf("shm: close fd: %w", err)
	}
	if r.own {
		_ = os.Remove(filepath.Join(shmDir, r.Name))
	}
	return nil
}
