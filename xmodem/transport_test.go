package xmodem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamTransportReadByteTimeout(t *testing.T) {
	a, _ := newLoopback(t)

	start := time.Now()
	_, err := a.ReadByte(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestStreamTransportReadByteCancel(t *testing.T) {
	a, _ := newLoopback(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := a.ReadByte(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStreamTransportReadFullAcrossWrites(t *testing.T) {
	a, b := newLoopback(t)

	go func() {
		_, _ = b.Write([]byte("abc"))
		_, _ = b.Write([]byte("defgh"))
	}()

	buf := make([]byte, 6)
	n, err := a.ReadFull(context.Background(), buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcdef", string(buf))

	c, err := a.ReadByte(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte('g'), c)
}

func TestStreamTransportReadFullTimeout(t *testing.T) {
	a, b := newLoopback(t)
	writeAll(t, b, []byte{1, 2})

	buf := make([]byte, 4)
	n, err := a.ReadFull(context.Background(), buf, 100*time.Millisecond)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 2, n)
}

func TestStreamTransportFlush(t *testing.T) {
	a, b := newLoopback(t)
	writeAll(t, b, []byte("stale"))

	// Wait for the pump to pick up the stale bytes.
	c, err := a.ReadByte(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte('s'), c)

	require.NoError(t, a.Flush())
	_, err = a.ReadByte(context.Background(), 50*time.Millisecond)
	assert.True(t, IsTimeout(err))

	writeAll(t, b, []byte{ACK})
	expectByte(t, a, ACK)
}

func TestStreamTransportClosedReader(t *testing.T) {
	tr := NewStreamTransport(strings.NewReader("x"), io.Discard)
	defer tr.Close()

	c, err := tr.ReadByte(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, byte('x'), c)

	_, err = tr.ReadByte(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrTransport))
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamTransportClose(t *testing.T) {
	a, b := newLoopback(t)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.ReadByte(context.Background(), time.Second)
	assert.True(t, IsType(err, ErrTransport))

	// The peer sees the closed pipe.
	_, err = b.ReadByte(context.Background(), time.Second)
	assert.True(t, IsType(err, ErrTransport))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken") }

func TestStreamTransportWriteError(t *testing.T) {
	tr := NewStreamTransport(strings.NewReader(""), failingWriter{})
	defer tr.Close()

	_, err := tr.Write([]byte{ACK})
	assert.True(t, IsType(err, ErrTransport))
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *recordingLogger) Debug(format string, args ...interface{}) { l.add("DEBUG", format, args...) }
func (l *recordingLogger) Info(format string, args ...interface{})  { l.add("INFO", format, args...) }
func (l *recordingLogger) Error(format string, args ...interface{}) { l.add("ERROR", format, args...) }

func (l *recordingLogger) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func TestLoggingTransport(t *testing.T) {
	var out bytes.Buffer
	logger := &recordingLogger{}
	lt := NewLoggingTransport(NewStreamTransport(strings.NewReader(""), &out), logger, "uart0")
	defer lt.Close()

	pkt := buildPacket(t, SOH, 4, []byte("data"), CRCTypeCRC16)
	_, err := lt.Write(pkt)
	require.NoError(t, err)
	assert.Equal(t, pkt, out.Bytes())

	_, err = lt.ReadFull(context.Background(), make([]byte, 2), time.Second)
	require.Error(t, err)

	log := logger.joined()
	assert.Contains(t, log, "uart0: send SOH seq=4 cpl=0xfb len=133")
	assert.Contains(t, log, "uart0: read error")
	assert.Equal(t, "logging(uart0)", lt.String())
}

func TestFormatPacketLog(t *testing.T) {
	assert.Equal(t, "recv <empty>", FormatPacketLog("recv", nil))
	assert.Equal(t, "send CAN (len=2)", FormatPacketLog("send", []byte{CAN, CAN}))
	assert.Equal(t, "send 'C' (len=1)", FormatPacketLog("send", []byte{CRC16Request}))
}
