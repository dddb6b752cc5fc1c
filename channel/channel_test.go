package channel

import (
	"testing"

	"github.com/momentics/ipcchan/shm"
)

const testRingCap = 64

// newLoopbackPair builds two Channels (client-side and server-side) backed
// by the same underlying byte slices, simulating what two separate mapped
// address spaces would look like if both pointed at identical offsets.
func newLoopbackPair(t *testing.T) (client, server *Channel) {
	t.Helper()

	c2s := make([]byte, shm.HeaderSize+testRingCap) // client sends, server receives
	s2c := make([]byte, shm.HeaderSize+testRingCap) // server sends, client receives
	notify := make([]byte, NotifyRegionSize)

	var err error
	client, err = New(Regions{
		Send:   shm.WrapBytes(c2s),
		Recv:   shm.WrapBytes(s2c),
		Notify: shm.WrapBytes(notify),
	}, testRingCap, testRingCap, true)
	if err != nil {
		t.Fatalf("client New: %v", err)
	}

	server, err = New(Regions{
		Send:   shm.WrapBytes(s2c),
		Recv:   shm.WrapBytes(c2s),
		Notify: shm.WrapBytes(notify),
	}, testRingCap, testRingCap, false)
	if err != nil {
		t.Fatalf("server New: %v", err)
	}
	return client, server
}

func TestChannelSequenceDiscipline(t *testing.T) {
	client, server := newLoopbackPair(t)

	for i := 1; i <= 5; i++ {
		seq := client.NextSendSeq()
		if seq != uint16(i) {
			t.Fatalf("send seq = %d, want %d", seq, i)
		}
		if err := server.CheckRecvSeq(seq); err != nil {
			t.Fatalf("CheckRecvSeq(%d): %v", seq, err)
		}
	}
}

func TestChannelSequenceMismatchIsProtocolError(t *testing.T) {
	_, server := newLoopbackPair(t)
	if err := server.CheckRecvSeq(2); err == nil {
		t.Fatal("expected Protocol error on mismatched sequence")
	}
}

func TestChannelNotificationRequestRoundTrip(t *testing.T) {
	client, server := newLoopbackPair(t)

	client.RequestReadableNotification()
	if !server.TestAndResetPeerReadableNotificationRequest() {
		t.Fatal("server should observe client's outstanding readable request")
	}
	// Second check: request was consumed, so nothing outstanding now.
	if server.TestAndResetPeerReadableNotificationRequest() {
		t.Fatal("readable request should have been cleared by the first test-and-reset")
	}
}

func TestChannelDataFlowsThroughSharedRing(t *testing.T) {
	client, server := newLoopbackPair(t)

	msg := []byte("hello-ipc")
	n, err := client.SendRing().Write(msg)
	if err != nil || n != len(msg) {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	client.SendRing().CommitHead(n)

	if !server.IsAnyDataAvailable() {
		t.Fatal("server should see available data after client commits")
	}

	out := make([]byte, len(msg))
	got, err := server.RecvRing().Read(out)
	if err != nil || got != len(msg) {
		t.Fatalf("Read() = %d, %v", got, err)
	}
	server.RecvRing().Discard(got)

	if string(out) != string(msg) {
		t.Fatalf("got %q, want %q", out, msg)
	}
	if server.IsAnyDataAvailable() {
		t.Fatal("server ring should be empty after full drain")
	}
}
