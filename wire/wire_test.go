package wire

import (
	"testing"

	"github.com/momentics/ipcchan/channel"
	"github.com/momentics/ipcchan/internal/ipcerr"
	"github.com/momentics/ipcchan/shm"
)

const testRingCap = 256

func newLoopbackPair(t *testing.T) (client, server *channel.Channel) {
	t.Helper()
	c2s := make([]byte, shm.HeaderSize+testRingCap)
	s2c := make([]byte, shm.HeaderSize+testRingCap)
	notify := make([]byte, channel.NotifyRegionSize)

	var err error
	client, err = channel.New(channel.Regions{
		Send:   shm.WrapBytes(c2s),
		Recv:   shm.WrapBytes(s2c),
		Notify: shm.WrapBytes(notify),
	}, testRingCap, testRingCap, true)
	if err != nil {
		t.Fatalf("client channel.New: %v", err)
	}
	server, err = channel.New(channel.Regions{
		Send:   shm.WrapBytes(s2c),
		Recv:   shm.WrapBytes(c2s),
		Notify: shm.WrapBytes(notify),
	}, testRingCap, testRingCap, false)
	if err != nil {
		t.Fatalf("server channel.New: %v", err)
	}
	return client, server
}

func TestWriterReaderWholeMessageRoundTrip(t *testing.T) {
	client, server := newLoopbackPair(t)
	w := NewWriter(client)
	r := NewReader(server)

	payload := []byte("the quick brown fox")
	if _, err := w.SendWhole([][]byte{payload}, false); err != nil {
		t.Fatalf("SendWhole: %v", err)
	}

	var out []byte
	res, err := r.ReceiveWhole(func(size int) [][]byte {
		out = make([]byte, size)
		return [][]byte{out}
	})
	if err != nil {
		t.Fatalf("ReceiveWhole: %v", err)
	}
	if res.Truncated {
		t.Fatal("expected no truncation")
	}
	if string(out[:res.N]) != string(payload) {
		t.Fatalf("got %q, want %q", out[:res.N], payload)
	}
	if res.Sequence != 1 {
		t.Fatalf("sequence = %d, want 1", res.Sequence)
	}
}

func TestReaderBusyWhenMessageIncomplete(t *testing.T) {
	_, server := newLoopbackPair(t)
	r := NewReader(server)

	if _, err := r.ReceiveWhole(func(int) [][]byte { return nil }); !ipcerr.Is(err, ipcerr.Busy) {
		t.Fatalf("expected Busy, got %v", err)
	}
}

func TestWriterSizeErrorOnOversizedPayload(t *testing.T) {
	client, _ := newLoopbackPair(t)
	w := NewWriter(client)

	oversized := make([]byte, testRingCap)
	if _, err := w.SendWhole([][]byte{oversized}, false); !ipcerr.Is(err, ipcerr.Size) {
		t.Fatalf("expected Size, got %v", err)
	}
}

func TestReceiveTruncatesSmallReceiverBuffer(t *testing.T) {
	client, server := newLoopbackPair(t)
	w := NewWriter(client)
	r := NewReader(server)

	payload := make([]byte, 50)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := w.SendWhole([][]byte{payload}, false); err != nil {
		t.Fatalf("SendWhole: %v", err)
	}

	small := make([]byte, 20)
	res, err := r.ReceiveWhole(func(int) [][]byte { return [][]byte{small} })
	if err != nil {
		t.Fatalf("ReceiveWhole: %v", err)
	}
	if !res.Truncated || res.N != 20 {
		t.Fatalf("res = %+v, want Truncated with N=20", res)
	}

	// Remainder was discarded, so the ring should be empty now.
	if server.IsAnyDataAvailable() {
		t.Fatal("expected no leftover bytes after truncation discard")
	}
}

func TestChunkedSendAndReceiveRoundTrip(t *testing.T) {
	client, server := newLoopbackPair(t)
	w := NewWriter(client)
	r := NewReader(server)

	payload := []byte("the quick brown fox jumps over the lazy dog")
	if err := w.BeginMessage(len(payload), false); err != nil {
		t.Fatalf("BeginMessage: %v", err)
	}
	if n, err := w.WriteChunk(payload[:10]); err != nil || n != 10 {
		t.Fatalf("WriteChunk 1: n=%d err=%v", n, err)
	}
	if n, err := w.WriteChunk(payload[10:]); err != nil || n != len(payload)-10 {
		t.Fatalf("WriteChunk 2: n=%d err=%v", n, err)
	}
	if !w.Finished() {
		t.Fatal("expected writer Finished after full payload written")
	}

	size, hasHandle, err := r.BeginChunked()
	if err != nil {
		t.Fatalf("BeginChunked: %v", err)
	}
	if size != len(payload) {
		t.Fatalf("size = %d, want %d", size, len(payload))
	}
	if hasHandle {
		t.Fatal("expected no handle")
	}

	got := make([]byte, 0, len(payload))
	for r.ChunkInProgress() {
		buf := make([]byte, 8)
		n, _, finished, err := r.ReadChunk([][]byte{buf})
		if err != nil {
			t.Fatalf("ReadChunk: %v", err)
		}
		got = append(got, buf[:n]...)
		if finished && r.ChunkInProgress() {
			t.Fatal("finished but still in progress")
		}
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestBeginChunkedBusyWhenHeaderIncomplete(t *testing.T) {
	_, server := newLoopbackPair(t)
	r := NewReader(server)

	if _, _, err := r.BeginChunked(); !ipcerr.Is(err, ipcerr.Busy) {
		t.Fatalf("expected Busy, got %v", err)
	}
}

func TestSequenceMismatchIsProtocolError(t *testing.T) {
	client, server := newLoopbackPair(t)
	w := NewWriter(client)
	r := NewReader(server)

	// Force the channel's expected next-receive sequence out of sync by
	// consuming one sequence number the peer never actually used.
	server.CheckRecvSeq(1)

	if _, err := w.SendWhole([][]byte{[]byte("x")}, false); err != nil {
		t.Fatalf("SendWhole: %v", err)
	}
	if _, err := r.ReceiveWhole(func(int) [][]byte { return [][]byte{make([]byte, 1)} }); !ipcerr.Is(err, ipcerr.Protocol) {
		t.Fatalf("expected Protocol, got %v", err)
	}
}
