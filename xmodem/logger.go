package xmodem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/drunlade/go-xmodem/internal/syncutil"
	console "github.com/phsym/console-slog"
)

// Logger interface for XMODEM protocol logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// NoopLogger does nothing
type NoopLogger struct{}

func (NoopLogger) Debug(format string, args ...interface{}) {}
func (NoopLogger) Info(format string, args ...interface{})  {}
func (NoopLogger) Error(format string, args ...interface{}) {}

// FileLogger appends timestamped lines to a file
type FileLogger struct {
	file *os.File
	mu   syncutil.Mutex
}

// NewFileLogger creates a logger that writes to a file
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: file}, nil
}

func (l *FileLogger) log(level, format string, args ...interface{}) {
	if l == nil || l.file == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s: %s\n", timestamp, level, fmt.Sprintf(format, args...))
}

func (l *FileLogger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", format, args...)
}

func (l *FileLogger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

func (l *FileLogger) Error(format string, args ...interface{}) {
	l.log("ERROR", format, args...)
}

func (l *FileLogger) Close() error {
	if l != nil && l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a logger writing to w at the given level. With
// pretty set it uses a colored console handler, otherwise JSON lines.
func NewSlogLogger(w io.Writer, level slog.Level, pretty bool) *SlogLogger {
	var handler slog.Handler
	if pretty {
		handler = console.NewHandler(w, &console.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					a.Key = "ts"
				}
				return a
			},
		})
	}
	return &SlogLogger{logger: slog.New(handler)}
}

// NewSlogLoggerFrom wraps an existing *slog.Logger.
func NewSlogLoggerFrom(logger *slog.Logger) *SlogLogger {
	return &SlogLogger{logger: logger}
}

// With returns a logger that adds the key/value pairs to every record.
func (l *SlogLogger) With(args ...any) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

func (l *SlogLogger) log(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l *SlogLogger) Debug(format string, args ...interface{}) {
	l.log(slog.LevelDebug, format, args...)
}

func (l *SlogLogger) Info(format string, args ...interface{}) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *SlogLogger) Error(format string, args ...interface{}) {
	l.log(slog.LevelError, format, args...)
}

// FormatPacketLog formats a packet for logging with the payload truncated
// to the first 16 bytes.
func FormatPacketLog(direction string, pkt []byte) string {
	if len(pkt) == 0 {
		return direction + " <empty>"
	}
	name := controlName(pkt[0])
	if len(pkt) < HeadLen {
		return fmt.Sprintf("%s %s (len=%d)", direction, name, len(pkt))
	}
	msg := fmt.Sprintf("%s %s seq=%d cpl=0x%02x len=%d", direction, name, pkt[1], pkt[2], len(pkt))
	data := pkt[HeadLen:]
	if len(data) > 16 {
		msg += fmt.Sprintf(" data=% x ...", data[:16])
	} else {
		msg += fmt.Sprintf(" data=% x", data)
	}
	return msg
}

// controlName returns a readable name for a control byte.
func controlName(c byte) string {
	switch c {
	case SOH:
		return "SOH"
	case STX:
		return "STX"
	case EOT:
		return "EOT"
	case ACK:
		return "ACK"
	case NAK:
		return "NAK"
	case CAN:
		return "CAN"
	case CRC16Request:
		return "'C'"
	default:
		return fmt.Sprintf("0x%02x", c)
	}
}
