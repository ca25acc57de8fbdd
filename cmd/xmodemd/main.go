package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/drunlade/go-xmodem/internal/cli"
	"github.com/drunlade/go-xmodem/xmodem"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/term"
)

var (
	listen    = flag.String("listen", ":2323", "TCP listen address")
	dir       = flag.String("d", ".", "directory for received files")
	overwrite = flag.Bool("y", false, "overwrite existing files")
	checksum  = flag.Bool("c", false, "request the 1-byte checksum instead of CRC16")
	timeout   = flag.Int("t", 10, "timeout in tenths of seconds")
	retries   = flag.Int("r", 10, "consecutive bad packets before giving up")
	status    = flag.Duration("status", 30*time.Second, "interval between status lines, 0 to disable")
	verbose   = flag.Bool("v", false, "verbose mode")
	jsonLogs  = flag.Bool("json", false, "log JSON lines instead of console output")
	help      = flag.Bool("h", false, "show help")
)

// upload is one connected sender.
type upload struct {
	remote  string
	started time.Time
	session *xmodem.Session
}

type server struct {
	dir       string
	overwrite bool
	config    *xmodem.Config
	logger    *xmodem.SlogLogger

	uploads *xsync.MapOf[string, *upload]
	wg      sync.WaitGroup
}

func main() {
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	pretty := !*jsonLogs && term.IsTerminal(int(os.Stderr.Fd()))
	logger := xmodem.NewSlogLogger(os.Stderr, level, pretty)

	if err := os.MkdirAll(*dir, 0755); err != nil {
		logger.Error("create %s: %v", *dir, err)
		os.Exit(1)
	}

	config := xmodem.DefaultConfig()
	config.Role = xmodem.RoleReceiver
	if *checksum {
		config.CRCType = xmodem.CRCTypeChecksum
	}
	config.Timeout = cli.Timeout(*timeout)
	config.MaxRetry = *retries

	srv := &server{
		dir:       *dir,
		overwrite: *overwrite,
		config:    config,
		logger:    logger,
		uploads:   xsync.NewMapOf[string, *upload](),
	}

	ctx, cancel := cli.SignalContext()
	defer cancel()

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		logger.Error("listen %s: %v", *listen, err)
		os.Exit(1)
	}
	logger.Info("accepting uploads on %s into %s", ln.Addr(), *dir)

	if *status > 0 {
		go srv.reportStatus(ctx, *status)
	}

	if err := srv.serve(ctx, ln); err != nil {
		logger.Error("serve: %v", err)
		os.Exit(1)
	}
}

// serve accepts connections until ctx is done, then waits for running
// uploads to be cancelled.
func (s *server) serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}

	s.uploads.Range(func(remote string, u *upload) bool {
		s.logger.Info("cancelling upload from %s (%s)", remote, u.session.File().Name)
		return true
	})
	s.wg.Wait()
	return nil
}

// handle runs one receiver session on conn.
func (s *server) handle(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	logger := s.logger.With("remote", remote)
	transport := xmodem.NewStreamTransport(conn, conn)
	host, _, _ := net.SplitHostPort(remote)
	out := &cli.Output{
		Dir:       s.dir,
		Overwrite: s.overwrite,
		// Senders that skip the file name packet get a generated name.
		Fallback: func() string {
			return fmt.Sprintf("upload-%s-%s.bin", host, time.Now().Format("20060102-150405"))
		},
	}
	defer out.Close()

	session, err := xmodem.New(transport,
		xmodem.WithConfig(s.config),
		xmodem.WithLogger(logger),
		xmodem.WithCallbacks(&xmodem.Callbacks{
			OnReceive: out.Write,
			OnEvent: func(event xmodem.Event) {
				switch event.ID {
				case xmodem.EventOnFile:
					if err := out.OpenAnnounced(event.File.Name); err != nil {
						logger.Error("open %s: %v", event.File.Name, err)
					}
					logger.Info("receiving %s (%d bytes)", event.File.Name, event.File.Length)
				case xmodem.EventFinished:
					logger.Info("stored %s (%d bytes)", out.Path(), event.File.Written)
				case xmodem.EventError:
					logger.Error("upload failed: %v", event.Err)
				}
			},
		}),
	)
	if err != nil {
		logger.Error("new session: %v", err)
		transport.Close()
		return
	}
	defer session.Clean()

	s.uploads.Store(remote, &upload{remote: remote, started: time.Now(), session: session})
	defer s.uploads.Delete(remote)

	if err := session.Start(ctx); err != nil {
		logger.Error("start session: %v", err)
		return
	}
	if err := session.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Debug("session ended: %v", err)
	}
}

// reportStatus periodically logs the uploads in progress.
func (s *server) reportStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.logger.Info("%d uploads in progress", s.uploads.Size())
		s.uploads.Range(func(remote string, u *upload) bool {
			file := u.session.File()
			s.logger.Info("  %s: %s %d/%d bytes, %s, running %v",
				remote, file.Name, file.Written, file.Length, u.session.State(), time.Since(u.started).Round(time.Second))
			return true
		})
	}
}
