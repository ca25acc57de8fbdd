package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drunlade/go-xmodem/internal/cli"
	"github.com/drunlade/go-xmodem/xmodem"
)

var (
	quiet      = flag.Bool("q", false, "quiet mode")
	use1K      = flag.Bool("k", false, "send 1024-byte packets")
	largestFit = flag.Bool("largest-fit", false, "with -k, finish with 128-byte packets instead of a padded 1K packet")
	plain      = flag.Bool("X", false, "plain XMODEM: no file name packet")
	timeout    = flag.Int("t", 10, "timeout in tenths of seconds")
	retries    = flag.Int("r", 10, "retries per packet")
	wait       = flag.Int("w", 60, "seconds to wait for the receiver")
	help       = flag.Bool("h", false, "show help")
	version    = flag.Bool("version", false, "show version")

	transportFlags cli.TransportFlags
	logFlags       cli.LogFlags
)

const versionString = "gsx version 0.1.0"

func init() {
	transportFlags.Register(flag.CommandLine, xmodem.RoleSender)
	logFlags.Register(flag.CommandLine)
}

func main() {
	flag.Parse()

	if *help {
		showUsage(0)
	}

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	if transportFlags.ListPorts {
		if err := cli.PrintPorts(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "%s: exactly one file must be given\n", os.Args[0])
		showUsage(1)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run sends filename. Every resource it opens is released before it
// returns, including the terminal mode of stdio.
func run(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filename, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("accessing %s: %w", filename, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filename)
	}

	ctx, cancel := cli.SignalContext()
	defer cancel()

	logger, closeLog, err := logFlags.Logger()
	if err != nil {
		return err
	}
	defer closeLog()

	transport, closeTransport, err := transportFlags.Open()
	if err != nil {
		return err
	}
	defer closeTransport()
	if logFlags.Debugging() {
		transport = xmodem.NewLoggingTransport(transport, logger, "gsx")
	}

	config := xmodem.DefaultConfig()
	config.Role = xmodem.RoleSender
	config.Support1K = *use1K
	if *largestFit {
		config.PacketSizing = xmodem.SizeLargestFit
	}
	config.Timeout = cli.Timeout(*timeout)
	config.MaxRetry = *retries
	config.CycleMaxRetry = max(int(time.Duration(*wait)*time.Second/config.CycleTimeout), 1)

	callbacks := &xmodem.Callbacks{
		OnProgress: func(filename string, transferred, total int64, rate float64) {
			if *quiet {
				return
			}
			percent := float64(0)
			if total > 0 {
				percent = float64(transferred) / float64(total) * 100
			}
			fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", filename, percent, rate)
		},
		OnEvent: func(event xmodem.Event) {
			if *quiet {
				return
			}
			switch event.ID {
			case xmodem.EventConnected:
				fmt.Fprintf(os.Stderr, "Sending: %s (%d bytes)\n", filename, info.Size())
			case xmodem.EventFinished:
				fmt.Fprintf(os.Stderr, "\nCompleted: %s\n", filename)
			case xmodem.EventError:
				// End the progress line; run reports the error.
				fmt.Fprintln(os.Stderr)
			}
		},
	}

	session, err := xmodem.New(transport,
		xmodem.WithConfig(config),
		xmodem.WithCallbacks(callbacks),
		xmodem.WithLogger(logger),
		xmodem.WithContext(ctx),
	)
	if err != nil {
		return err
	}

	name := filepath.Base(filename)
	if *plain {
		name = ""
	}
	err = session.SendFile(ctx, name, file, info.Size())
	_ = session.Stop()
	return err
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - send a file with XMODEM protocol

Usage: %s [options] file

Options:
  -k               send 1024-byte packets (XMODEM-1K)
  -largest-fit     with -k, finish with 128-byte packets
  -X               plain XMODEM, do not send the file name packet
  -t N             timeout in tenths of seconds (default: 10)
  -r N             retries per packet (default: 10)
  -w N             seconds to wait for the receiver (default: 60)
  -serial PORT     use a serial port instead of stdio
  -baud N          serial baud rate (default: 115200)
  -list-ports      list serial ports and exit
  -tcp HOST:PORT   connect over TCP instead of stdio
  -mqtt URL        use an MQTT broker (-rx-topic, -tx-topic)
  -log FILE        protocol log file
  -json            log JSON lines to stderr
  -q               quiet mode
  -v               verbose mode
  -h               show this help message
  -version         show version

Examples:
  %s firmware.bin                           # Send over stdio
  %s -k -serial /dev/ttyUSB0 firmware.bin   # Send to a device with 1K packets

`, versionString, os.Args[0], os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
