package xmodem

import "time"

// Callbacks provides hooks for XMODEM transfer events.
// All callbacks are optional except OnReceive, which a receiver requires.
type Callbacks struct {
	// OnEvent is called for session events (connected, file, finished, error).
	// It runs on the session worker and must not block for long.
	OnEvent func(event Event)

	// OnReceive is called by a receiver for every accepted payload. In file
	// mode the last payload is clamped to the announced file length.
	// Returning an error cancels the transfer.
	OnReceive func(data []byte) error

	// OnProgress is called periodically during file transfer.
	// filename: name of the file being transferred
	// transferred: bytes transferred so far
	// total: total bytes to transfer (0 if unknown)
	// rate: transfer rate in bytes per second
	OnProgress func(filename string, transferred, total int64, rate float64)

	// OnSendData may rewrite every outgoing packet before it is written.
	OnSendData func(packet []byte) ([]byte, error)

	// OnReceiveData may rewrite every incoming packet before it is parsed.
	// Framing is read before the hook runs, so the returned packet keeps the
	// header byte of the original.
	OnReceiveData func(packet []byte) ([]byte, error)
}

// Event is delivered to Callbacks.OnEvent.
type Event struct {
	ID        EventID
	File      FileInfo
	Err       error
	Timestamp time.Time
}

// EventID identifies a session event.
type EventID int

const (
	// EventInit is a placeholder that is never dispatched
	EventInit EventID = iota
	EventConnected
	EventOnFile
	EventFinished
	EventError
)

func (e EventID) String() string {
	switch e {
	case EventInit:
		return "init"
	case EventConnected:
		return "connected"
	case EventOnFile:
		return "on-file"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// defaultCallbacks returns a set of callbacks with default implementations.
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnEvent:    func(Event) {},
		OnProgress: func(string, int64, int64, float64) {},
	}
}

// mergeCallbacks merges user callbacks with defaults.
// Hooks that have no sensible default stay nil.
func mergeCallbacks(user *Callbacks) *Callbacks {
	result := defaultCallbacks()
	if user == nil {
		return result
	}

	if user.OnEvent != nil {
		result.OnEvent = user.OnEvent
	}
	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	}
	result.OnReceive = user.OnReceive
	result.OnSendData = user.OnSendData
	result.OnReceiveData = user.OnReceiveData

	return result
}
