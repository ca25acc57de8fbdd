package xmodem

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialConfig configures a UART transport. Zero values take defaults.
type SerialConfig struct {
	BaudRate int
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits

	// PollTimeout bounds each read issued to the port driver.
	PollTimeout time.Duration
}

// DefaultSerialConfig returns 115200 8N1 with a 100ms poll timeout.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:    115200,
		DataBits:    8,
		Parity:      serial.NoParity,
		StopBits:    serial.OneStopBit,
		PollTimeout: 100 * time.Millisecond,
	}
}

func (c SerialConfig) withDefaults() SerialConfig {
	def := DefaultSerialConfig()
	if c.BaudRate == 0 {
		c.BaudRate = def.BaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = def.DataBits
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	return c
}

// SerialTransport runs a session over a serial port.
type SerialTransport struct {
	*StreamTransport
	port serial.Port
	name string
}

// OpenSerial opens the named port (e.g. /dev/ttyUSB0, COM3).
func OpenSerial(name string, config SerialConfig) (*SerialTransport, error) {
	config = config.withDefaults()
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		Parity:   config.Parity,
		StopBits: config.StopBits,
	})
	if err != nil {
		return nil, WrapError(ErrTransport, fmt.Sprintf("open serial port %s", name), err)
	}
	if err := port.SetReadTimeout(config.PollTimeout); err != nil {
		_ = port.Close()
		return nil, WrapError(ErrTransport, "set serial read timeout", err)
	}
	return NewSerialTransport(port, name), nil
}

// NewSerialTransport wraps an already opened port.
func NewSerialTransport(port serial.Port, name string) *SerialTransport {
	return &SerialTransport{
		StreamTransport: NewStreamTransport(port, port),
		port:            port,
		name:            name,
	}
}

// Flush discards input buffered by the driver and by the transport.
func (t *SerialTransport) Flush() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return WrapError(ErrTransport, "reset serial input", err)
	}
	return t.StreamTransport.Flush()
}

// Name returns the port name.
func (t *SerialTransport) Name() string {
	return t.name
}

// ListSerialPorts returns the serial ports present on the system.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, WrapError(ErrTransport, "list serial ports", err)
	}
	return ports, nil
}
