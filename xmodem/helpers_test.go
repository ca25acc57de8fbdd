package xmodem

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newLoopback returns two transports connected back to back.
func newLoopback(t *testing.T) (*StreamTransport, *StreamTransport) {
	t.Helper()
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a := NewStreamTransport(ar, aw)
	b := NewStreamTransport(br, bw)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

// testConfig returns a configuration with short timeouts.
func testConfig(role Role) *Config {
	cfg := DefaultConfig()
	cfg.Role = role
	cfg.Timeout = 300 * time.Millisecond
	cfg.MaxRetry = 5
	cfg.CycleTimeout = 500 * time.Millisecond
	cfg.CycleMaxRetry = 10
	cfg.StopGrace = time.Second
	cfg.ProgressInterval = time.Millisecond
	return cfg
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// eventRecorder collects session events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) ids() []EventID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]EventID, 0, len(r.events))
	for _, e := range r.events {
		ids = append(ids, e.ID)
	}
	return ids
}

func (r *eventRecorder) count(id EventID) int {
	n := 0
	for _, got := range r.ids() {
		if got == id {
			n++
		}
	}
	return n
}

// sink collects payloads delivered to OnReceive.
type sink struct {
	mu   sync.Mutex
	data []byte
}

func (s *sink) receive(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	return nil
}

func (s *sink) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// newTestSession creates a session and cleans it up with the test.
func newTestSession(t *testing.T, tr Transport, cfg *Config, callbacks *Callbacks) *Session {
	t.Helper()
	s, err := New(tr, WithConfig(cfg), WithCallbacks(callbacks))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Clean() })
	return s
}

// expectByte reads one byte from the scripted peer side.
func expectByte(t *testing.T, tr Transport, want byte) {
	t.Helper()
	got, err := tr.ReadByte(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equalf(t, want, got, "want %s, got %s", controlName(want), controlName(got))
}

// readPacketFrom reads one complete packet from the scripted peer side.
func readPacketFrom(t *testing.T, tr Transport, crc CRCType) []byte {
	t.Helper()
	head, err := tr.ReadByte(context.Background(), 2*time.Second)
	require.NoError(t, err)
	size := PacketLen(head, crc)
	require.NotZerof(t, size, "expected a packet header, got %s", controlName(head))
	pkt := make([]byte, size)
	pkt[0] = head
	_, err = tr.ReadFull(context.Background(), pkt[1:], 2*time.Second)
	require.NoError(t, err)
	return pkt
}

// buildPacket encodes a packet for the scripted peer side.
func buildPacket(t *testing.T, head, seq byte, data []byte, crc CRCType) []byte {
	t.Helper()
	pkt := &Packet{Head: head, Seq: seq, Data: data}
	buf, err := pkt.Encode(nil, 0x00, crc)
	require.NoError(t, err)
	return buf
}

func writeAll(t *testing.T, tr Transport, p []byte) {
	t.Helper()
	n, err := tr.Write(p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
}

// expectSilence asserts the peer sends nothing for d.
func expectSilence(t *testing.T, tr Transport, d time.Duration) {
	t.Helper()
	c, err := tr.ReadByte(context.Background(), d)
	require.Errorf(t, err, "unexpected byte %s", controlName(c))
	require.True(t, IsTimeout(err))
}
