package shm

import (
	"bytes"
	"testing"

	"github.com/momentics/ipcchan/internal/ipcerr"
)

func newTestRing(t *testing.T, capacity uint32) *Ring {
	t.Helper()
	buf := make([]byte, HeaderSize+int(capacity))
	r, err := NewRing(buf, capacity)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	return r
}

func TestRingEmptyFull(t *testing.T) {
	r := newTestRing(t, 8)
	if !r.IsEmpty() {
		t.Fatal("expected empty ring")
	}
	if r.FreeSpace() != 8 {
		t.Fatalf("free space = %d, want 8", r.FreeSpace())
	}

	n, err := r.Write([]byte("12345678"))
	if err != nil || n != 8 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	r.CommitHead(n)

	if !r.IsFull() {
		t.Fatal("expected full ring")
	}
	if r.FreeSpace() != 0 {
		t.Fatalf("free space = %d, want 0", r.FreeSpace())
	}
}

func TestRingWriteReadWraparound(t *testing.T) {
	r := newTestRing(t, 8)

	n, _ := r.Write([]byte("abcdef"))
	r.CommitHead(n)

	out := make([]byte, 4)
	n, _ = r.Read(out)
	r.Discard(n)
	if !bytes.Equal(out[:n], []byte("abcd")) {
		t.Fatalf("got %q", out[:n])
	}

	// Now write past the end, forcing wraparound.
	n, err := r.Write([]byte("XYZW"))
	if err != nil || n != 4 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	r.CommitHead(n)

	out = make([]byte, 6)
	n, _ = r.Read(out)
	r.Discard(n)
	if got := string(out[:n]); got != "efXYZW" {
		t.Fatalf("got %q, want efXYZW", got)
	}
	if !r.IsEmpty() {
		t.Fatal("expected empty after full drain")
	}
}

func TestRingUsedNeverExceedsCapacity(t *testing.T) {
	r := newTestRing(t, 16)
	total := 0
	src := bytes.Repeat([]byte{0xAB}, 64)
	for total < len(src) {
		n, err := r.Write(src[total:])
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		r.CommitHead(n)
		total += n
		if r.UsedSpace() > r.Cap() {
			t.Fatalf("used %d exceeds capacity %d", r.UsedSpace(), r.Cap())
		}

		out := make([]byte, n)
		got, _ := r.Read(out)
		r.Discard(got)
	}
}

func TestRingInvariantViolationIsProtocolError(t *testing.T) {
	buf := make([]byte, HeaderSize+8)
	r, err := NewRing(buf, 8)
	if err != nil {
		t.Fatalf("NewRing: %v", err)
	}
	// Corrupt the head counter directly to simulate a peer that lied.
	r.head.Store(1000)

	if _, err := r.Read(make([]byte, 4)); !ipcerr.Is(err, ipcerr.Protocol) {
		t.Fatalf("expected Protocol error, got %v", err)
	}
}
