package xmodem

import (
	"errors"
	"fmt"
)

// Error represents an XMODEM session error
type Error struct {
	// Type is the error type
	Type ErrorType

	// Message is a human-readable error message
	Message string

	// Err is the underlying cause, if any
	Err error
}

// ErrorType identifies what went wrong. Each value belongs to one Category.
type ErrorType int

const (
	// ErrInvalidArg indicates a bad argument or configuration
	ErrInvalidArg ErrorType = iota

	// ErrState indicates the call is not valid in the current state
	ErrState

	// ErrTransport indicates the transport failed to read or write
	ErrTransport

	// ErrTimeout indicates a read did not complete in time
	ErrTimeout

	// ErrDataSend indicates a packet could not be written completely
	ErrDataSend

	// ErrDataRecv indicates an unexpected byte or a failed delivery
	ErrDataRecv

	// ErrCancelled indicates the peer cancelled the transfer
	ErrCancelled

	// ErrMaxRetry indicates the retry budget was exhausted
	ErrMaxRetry

	// ErrCRCNotSupported indicates the peer asked for an unknown trailer mode
	ErrCRCNotSupported

	// ErrNoReceiver indicates no receiver answered the sender
	ErrNoReceiver

	// ErrNoSender indicates no sender answered the receiver
	ErrNoSender

	// ErrSequence indicates a packet sequence number mismatch
	ErrSequence

	// ErrCRC indicates a checksum or CRC16 mismatch
	ErrCRC
)

// Category groups error types.
type Category int

const (
	CategoryInvalidArgument Category = iota
	CategoryState
	CategoryTransport
	CategoryProtocol
)

func (c Category) String() string {
	switch c {
	case CategoryInvalidArgument:
		return "invalid argument"
	case CategoryState:
		return "state"
	case CategoryTransport:
		return "transport"
	default:
		return "protocol"
	}
}

// Category returns the group the error type belongs to.
func (t ErrorType) Category() Category {
	switch t {
	case ErrInvalidArg:
		return CategoryInvalidArgument
	case ErrState:
		return CategoryState
	case ErrTransport, ErrTimeout, ErrDataSend:
		return CategoryTransport
	default:
		return CategoryProtocol
	}
}

func (t ErrorType) String() string {
	switch t {
	case ErrInvalidArg:
		return "invalid argument"
	case ErrState:
		return "state error"
	case ErrTransport:
		return "transport error"
	case ErrTimeout:
		return "timeout"
	case ErrDataSend:
		return "data send error"
	case ErrDataRecv:
		return "data receive error"
	case ErrCancelled:
		return "cancelled"
	case ErrMaxRetry:
		return "max retry exceeded"
	case ErrCRCNotSupported:
		return "crc mode not supported"
	case ErrNoReceiver:
		return "no receiver"
	case ErrNoSender:
		return "no sender"
	case ErrSequence:
		return "sequence error"
	case ErrCRC:
		return "CRC error"
	default:
		return "unknown error"
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("xmodem %s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("xmodem %s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new XMODEM error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// WrapError creates a new XMODEM error around a cause
func WrapError(errType ErrorType, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the ErrorType carried by err and whether err is an *Error.
func TypeOf(err error) (ErrorType, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Type, true
	}
	return 0, false
}

// IsType checks if err is an *Error of the given type
func IsType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return IsType(err, ErrTimeout)
}

// IsCRC checks if an error is a checksum or CRC error
func IsCRC(err error) bool {
	return IsType(err, ErrCRC)
}

// IsCancelled checks if an error indicates the peer cancelled
func IsCancelled(err error) bool {
	return IsType(err, ErrCancelled)
}
