package xmodem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/drunlade/go-xmodem/internal/syncutil"
)

// Transport is the byte stream a session runs over.
//
// Reads block until data arrives, the timeout elapses (an ErrTimeout error)
// or ctx is done. A timeout of zero or less waits without limit.
type Transport interface {
	// ReadByte reads a single byte.
	ReadByte(ctx context.Context, timeout time.Duration) (byte, error)

	// ReadFull fills buf completely. The timeout bounds the whole call.
	ReadFull(ctx context.Context, buf []byte, timeout time.Duration) (int, error)

	// Write writes p to the peer.
	Write(p []byte) (int, error)

	// Flush discards any input received but not yet read.
	Flush() error
}

// pumpChunkSize is the size of a single read issued by the pump goroutine.
const pumpChunkSize = 1024

// StreamTransport adapts any io.Reader/io.Writer pair to Transport.
//
// A pump goroutine reads the underlying reader continuously, so timeouts
// and cancellation work even when the reader has no deadline support
// (stdin, SSH pipes). Readers that return (0, nil) on their own timeout,
// such as serial ports, are polled again.
type StreamTransport struct {
	reader io.Reader
	writer io.Writer

	chunks  chan []byte
	pending []byte
	done    chan struct{}

	errMu   syncutil.Mutex
	readErr error

	writeMu   syncutil.Mutex
	closeOnce sync.Once
}

// NewStreamTransport creates a transport reading r and writing w.
func NewStreamTransport(r io.Reader, w io.Writer) *StreamTransport {
	t := &StreamTransport{
		reader: r,
		writer: w,
		chunks: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go t.pump()
	return t
}

// pump moves data from the reader into the chunk channel until the reader
// fails or the transport is closed.
func (t *StreamTransport) pump() {
	defer close(t.chunks)
	buf := make([]byte, pumpChunkSize)
	for {
		n, err := t.reader.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.chunks <- chunk:
			case <-t.done:
				return
			}
		}
		if err != nil {
			t.errMu.Lock()
			t.readErr = err
			t.errMu.Unlock()
			return
		}
		select {
		case <-t.done:
			return
		default:
		}
	}
}

func (t *StreamTransport) closedErr() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.readErr == nil {
		return WrapError(ErrTransport, "read", io.ErrClosedPipe)
	}
	return WrapError(ErrTransport, "read", t.readErr)
}

// next waits for the next chunk. A zero deadline waits without limit.
func (t *StreamTransport) next(ctx context.Context, deadline time.Time) error {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return NewError(ErrTimeout, "read timed out")
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case chunk, ok := <-t.chunks:
		if !ok {
			return t.closedErr()
		}
		t.pending = chunk
		return nil
	case <-timeout:
		return NewError(ErrTimeout, "read timed out")
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return WrapError(ErrTransport, "read", io.ErrClosedPipe)
	}
}

func deadlineFor(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// ReadByte reads a single byte.
func (t *StreamTransport) ReadByte(ctx context.Context, timeout time.Duration) (byte, error) {
	if len(t.pending) == 0 {
		if err := t.next(ctx, deadlineFor(timeout)); err != nil {
			return 0, err
		}
	}
	b := t.pending[0]
	t.pending = t.pending[1:]
	return b, nil
}

// ReadFull fills buf, bounded by timeout for the whole buffer.
func (t *StreamTransport) ReadFull(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	deadline := deadlineFor(timeout)
	total := 0
	for total < len(buf) {
		if len(t.pending) == 0 {
			if err := t.next(ctx, deadline); err != nil {
				return total, err
			}
		}
		n := copy(buf[total:], t.pending)
		t.pending = t.pending[n:]
		total += n
	}
	return total, nil
}

// Write writes p to the underlying writer.
func (t *StreamTransport) Write(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := t.writer.Write(p)
	if err != nil {
		return n, WrapError(ErrTransport, "write", err)
	}
	if f, ok := t.writer.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return n, WrapError(ErrTransport, "flush", err)
		}
	}
	return n, nil
}

// Flush discards pending input.
func (t *StreamTransport) Flush() error {
	t.pending = nil
	for {
		select {
		case _, ok := <-t.chunks:
			if !ok {
				return nil
			}
		default:
			return nil
		}
	}
}

// Close stops the pump and closes the reader and writer if they are
// io.Closers.
func (t *StreamTransport) Close() error {
	var errs []error
	t.closeOnce.Do(func() {
		close(t.done)
		if c, ok := t.reader.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if c, ok := t.writer.(io.Closer); ok && !sameObject(t.reader, t.writer) {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// sameObject reports whether r and w are the same value, as with a
// net.Conn passed as both ends.
func sameObject(r io.Reader, w io.Writer) (same bool) {
	defer func() {
		// Uncomparable dynamic types cannot be the same object.
		if recover() != nil {
			same = false
		}
	}()
	return any(r) == any(w)
}

// LoggingTransport wraps a Transport and logs every packet written and
// every read error.
type LoggingTransport struct {
	Transport
	logger Logger
	name   string
}

// NewLoggingTransport wraps t, logging under name.
func NewLoggingTransport(t Transport, logger Logger, name string) *LoggingTransport {
	return &LoggingTransport{
		Transport: t,
		logger:    logger,
		name:      name,
	}
}

func (lt *LoggingTransport) Write(p []byte) (int, error) {
	lt.logger.Debug("%s: %s", lt.name, FormatPacketLog("send", p))
	n, err := lt.Transport.Write(p)
	if err != nil {
		lt.logger.Error("%s: write error: %v", lt.name, err)
	}
	return n, err
}

func (lt *LoggingTransport) ReadFull(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	n, err := lt.Transport.ReadFull(ctx, buf, timeout)
	if err != nil && !IsTimeout(err) {
		lt.logger.Error("%s: read error after %d bytes: %v", lt.name, n, err)
	}
	return n, err
}

// Close closes the wrapped transport if it is an io.Closer.
func (lt *LoggingTransport) Close() error {
	if c, ok := lt.Transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// String describes the transport for log lines.
func (lt *LoggingTransport) String() string {
	return fmt.Sprintf("logging(%s)", lt.name)
}
