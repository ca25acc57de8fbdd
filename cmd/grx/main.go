package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/drunlade/go-xmodem/internal/cli"
	"github.com/drunlade/go-xmodem/xmodem"
)

var (
	quiet     = flag.Bool("q", false, "quiet mode")
	checksum  = flag.Bool("c", false, "request the 1-byte checksum instead of CRC16")
	plain     = flag.Bool("X", false, "plain XMODEM: no file name packet, output file is required")
	dir       = flag.String("d", ".", "directory for received files")
	overwrite = flag.Bool("y", false, "overwrite existing files")
	timeout   = flag.Int("t", 10, "timeout in tenths of seconds")
	retries   = flag.Int("r", 10, "consecutive bad packets before giving up")
	wait      = flag.Int("w", 60, "seconds to wait for the sender")
	help      = flag.Bool("h", false, "show help")
	version   = flag.Bool("version", false, "show version")

	transportFlags cli.TransportFlags
	logFlags       cli.LogFlags
)

const versionString = "grx version 0.1.0"

func init() {
	transportFlags.Register(flag.CommandLine, xmodem.RoleReceiver)
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

	outputPath := ""
	if *plain {
		if flag.NArg() != 1 {
			fmt.Fprintf(os.Stderr, "%s: -X requires an output file\n", os.Args[0])
			showUsage(1)
		}
		outputPath = flag.Arg(0)
	} else if flag.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "%s: file names come from the sender; use -X to name the output\n", os.Args[0])
		showUsage(1)
	}

	if err := run(outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run receives one transfer, into outputPath in plain mode or into the
// directory given by -d otherwise. Every resource it opens is released
// before it returns, including the terminal mode of stdio.
func run(outputPath string) error {
	out := &cli.Output{Dir: *dir, Overwrite: *overwrite}
	if outputPath != "" {
		if err := out.Open(outputPath); err != nil {
			return err
		}
	}
	defer out.Close()

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
		transport = xmodem.NewLoggingTransport(transport, logger, "grx")
	}

	config := xmodem.DefaultConfig()
	config.Role = xmodem.RoleReceiver
	if *checksum {
		config.CRCType = xmodem.CRCTypeChecksum
	}
	config.Timeout = cli.Timeout(*timeout)
	config.MaxRetry = *retries
	config.CycleMaxRetry = max(int(time.Duration(*wait)*time.Second/config.CycleTimeout), 1)

	callbacks := &xmodem.Callbacks{
		OnReceive: out.Write,
		OnProgress: func(filename string, transferred, total int64, rate float64) {
			if *quiet {
				return
			}
			if total > 0 {
				fmt.Fprintf(os.Stderr, "\r%s: %.1f%% (%.0f bytes/s)", filename,
					float64(transferred)/float64(total)*100, rate)
			} else {
				fmt.Fprintf(os.Stderr, "\r%d bytes (%.0f bytes/s)", transferred, rate)
			}
		},
		OnEvent: func(event xmodem.Event) {
			switch event.ID {
			case xmodem.EventOnFile:
				// A failed open surfaces from the first Write.
				_ = out.OpenAnnounced(event.File.Name)
				if !*quiet {
					fmt.Fprintf(os.Stderr, "Receiving: %s (%d bytes)\n", event.File.Name, event.File.Length)
				}
			case xmodem.EventFinished:
				if !*quiet {
					fmt.Fprintf(os.Stderr, "\nCompleted: %d bytes\n", event.File.Written)
				}
			case xmodem.EventError:
				if !*quiet {
					fmt.Fprintln(os.Stderr)
				}
			}
		},
	}

	session, err := xmodem.New(transport,
		xmodem.WithConfig(config),
		xmodem.WithCallbacks(callbacks),
		xmodem.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if err := session.Start(ctx); err != nil {
		return err
	}
	err = session.Wait(ctx)
	_ = session.Stop()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

func showUsage(exitcode int) {
	fmt.Fprintf(os.Stderr, `%s - receive a file with XMODEM protocol

Usage: %s [options]
       %s [options] -X file

Options:
  -c               request the 1-byte checksum instead of CRC16
  -X               plain XMODEM, write to the given file
  -d DIR           directory for received files (default: .)
  -y               overwrite existing files
  -t N             timeout in tenths of seconds (default: 10)
  -r N             consecutive bad packets before giving up (default: 10)
  -w N             seconds to wait for the sender (default: 60)
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

Plain XMODEM output keeps the zero padding of the last packet.

`, versionString, os.Args[0], os.Args[0])
	os.Exit(exitcode)
}
