package xmodem

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/drunlade/go-xmodem/internal/syncutil"
)

// Config holds session configuration.
type Config struct {
	// Role selects sender or receiver
	Role Role

	// CRCType is the trailer a receiver asks for. A sender adopts whatever
	// the receiver asks for during negotiation.
	CRCType CRCType

	// Support1K lets a sender use 1024-byte STX packets
	Support1K bool

	// PacketSizing picks 1K packets when Support1K is set. The default,
	// SizeByThreshold, never splits a tail into 1K plus 128-byte packets;
	// use SizeLargestFit for that.
	PacketSizing PacketSizing

	// Timeout bounds each packet read and each response wait
	Timeout time.Duration

	// MaxRetry bounds retransmissions and consecutive rejected packets
	MaxRetry int

	// CycleTimeout bounds each wait for the peer to appear, and each EOT
	// response wait
	CycleTimeout time.Duration

	// CycleMaxRetry bounds the number of waits for the peer to appear
	CycleMaxRetry int

	// StopGrace is how long Stop waits for the worker to exit
	StopGrace time.Duration

	// ProgressInterval rate-limits OnProgress callbacks
	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Role:             RoleSender,
		CRCType:          CRCTypeCRC16,
		Support1K:        false,
		PacketSizing:     SizeByThreshold,
		Timeout:          time.Second,
		MaxRetry:         10,
		CycleTimeout:     3 * time.Second,
		CycleMaxRetry:    20,
		StopGrace:        time.Second,
		ProgressInterval: 100 * time.Millisecond,
	}
}

func (c *Config) validate() error {
	switch {
	case c.Role != RoleSender && c.Role != RoleReceiver:
		return NewError(ErrInvalidArg, fmt.Sprintf("unknown role %d", c.Role))
	case c.CRCType != CRCTypeCRC16 && c.CRCType != CRCTypeChecksum:
		return NewError(ErrInvalidArg, fmt.Sprintf("unknown crc type %d", c.CRCType))
	case c.PacketSizing != SizeByThreshold && c.PacketSizing != SizeLargestFit:
		return NewError(ErrInvalidArg, fmt.Sprintf("unknown packet sizing %d", c.PacketSizing))
	case c.MaxRetry <= 0:
		return NewError(ErrInvalidArg, "MaxRetry must be positive")
	case c.CycleMaxRetry <= 0:
		return NewError(ErrInvalidArg, "CycleMaxRetry must be positive")
	case c.Timeout <= 0 || c.CycleTimeout <= 0:
		return NewError(ErrInvalidArg, "timeouts must be positive")
	case c.StopGrace <= 0:
		return NewError(ErrInvalidArg, "StopGrace must be positive")
	}
	return nil
}

// Option configures a Session.
type Option func(*Session)

// WithConfig sets the session configuration.
func WithConfig(config *Config) Option {
	return func(s *Session) {
		if config != nil {
			s.config = *config
		}
	}
}

// WithRole overrides the role of the configuration.
func WithRole(role Role) Option {
	return func(s *Session) {
		s.config.Role = role
	}
}

// WithCallbacks sets the session callbacks.
func WithCallbacks(callbacks *Callbacks) Option {
	return func(s *Session) {
		s.callbacks = mergeCallbacks(callbacks)
	}
}

// WithContext sets the session context used when Start gets a nil context.
func WithContext(ctx context.Context) Option {
	return func(s *Session) {
		s.ctx = ctx
	}
}

// WithLogger sets a logger for protocol debugging.
func WithLogger(logger Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is one side of an XMODEM transfer.
//
// A session is driven by a single worker goroutine plus, for senders, the
// goroutine calling the Send* methods after the connection is established.
// It must not be shared by concurrent transfers.
type Session struct {
	transport Transport
	config    Config
	callbacks *Callbacks
	logger    Logger
	ctx       context.Context

	mu         syncutil.Mutex
	state      State
	err        error
	file       FileInfo
	crcType    CRCType
	seq        uint32
	isFileData bool

	// buf holds one packet of the largest supported size
	buf      []byte
	progress *ProgressTracker

	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a session in state INIT.
func New(transport Transport, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, NewError(ErrInvalidArg, "transport is nil")
	}

	s := &Session{
		transport: transport,
		config:    *DefaultConfig(),
		callbacks: defaultCallbacks(),
		logger:    NoopLogger{},
		ctx:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.config.validate(); err != nil {
		return nil, err
	}

	s.buf = make([]byte, MaxPacketLen)
	s.progress = NewProgressTracker(s.callbacks.OnProgress, s.config.ProgressInterval)
	s.crcType = s.config.CRCType
	s.state = StateInit
	return s, nil
}

// Role returns the session role.
func (s *Session) Role() Role {
	return s.config.Role
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last recorded error, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// File returns the file metadata of the current transfer.
func (s *Session) File() FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// CRCType returns the trailer mode in use. For senders it reflects the
// receiver's negotiation request.
func (s *Session) CRCType() CRCType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crcType
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Session) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return s.ctx
}

// dispatch delivers an event to the application. EventInit is dropped.
func (s *Session) dispatch(id EventID) {
	if id == EventInit {
		return
	}
	s.mu.Lock()
	event := Event{
		ID:        id,
		File:      s.file,
		Timestamp: time.Now(),
	}
	if id == EventError {
		event.Err = s.err
	}
	s.mu.Unlock()

	s.callbacks.OnEvent(event)
}

// fail records err and raises EventError.
func (s *Session) fail(err error) {
	s.logger.Error("%v", err)
	s.setErr(err)
	s.dispatch(EventError)
}

// sendControl writes one control byte, records err when non-nil and
// dispatches event. CAN is written twice: many receivers only honor a
// cancel after two consecutive CAN bytes.
func (s *Session) sendControl(c byte, event EventID, err error) error {
	if err != nil {
		s.setErr(err)
	}
	buf := []byte{c}
	if c == CAN {
		buf = append(buf, CAN)
	}
	_, werr := s.transport.Write(buf)
	if werr != nil {
		s.logger.Error("write %s: %v", controlName(c), werr)
	}
	s.dispatch(event)
	return werr
}

// writePacket writes a full packet through the OnSendData hook.
func (s *Session) writePacket(pkt []byte) error {
	out := pkt
	if hook := s.callbacks.OnSendData; hook != nil {
		var err error
		if out, err = hook(pkt); err != nil {
			return WrapError(ErrDataSend, "send hook", err)
		}
	}
	n, err := s.transport.Write(out)
	if err != nil {
		return WrapError(ErrDataSend, "write packet", err)
	}
	if n != len(out) {
		return NewError(ErrDataSend, fmt.Sprintf("short write: %d of %d bytes", n, len(out)))
	}
	return nil
}

// asError returns err unchanged if it is already an *Error, else wraps it.
func asError(errType ErrorType, message string, err error) error {
	if _, ok := TypeOf(err); ok {
		return err
	}
	return WrapError(errType, message, err)
}

// Start moves the session from INIT to CONNECTING and launches the worker.
// A sender's worker waits for the receiver's mode request; a receiver's
// worker runs the whole transfer.
func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = s.ctx
	}

	s.mu.Lock()
	if s.state != StateInit {
		state := s.state
		s.mu.Unlock()
		return NewError(ErrState, fmt.Sprintf("%s state is %s, want INIT", s.config.Role, state))
	}
	if s.config.Role == RoleReceiver && s.callbacks.OnReceive == nil {
		s.mu.Unlock()
		return NewError(ErrInvalidArg, "receiver requires Callbacks.OnReceive")
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.runCtx, s.cancel, s.done = runCtx, cancel, done
	s.err = nil
	s.state = StateConnecting
	s.mu.Unlock()

	if s.config.Role == RoleSender {
		go s.connectLoop(runCtx, done)
	} else {
		go s.receiveLoop(runCtx, done)
	}
	return nil
}

// Wait blocks until the worker exits and returns Err().
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.Err()
}

// Stop cancels a running transfer: it sends CAN to the peer if a transfer
// is active, cancels the worker and waits up to StopGrace for it to exit.
// The session returns to INIT and can be started again. Stop is a no-op on
// a session that is idle or cleaned.
//
// If the worker is still running after StopGrace, Stop returns an ErrState
// error and the session keeps its state; call Stop again once the worker
// had a chance to exit.
func (s *Session) Stop() error {
	s.mu.Lock()
	state := s.state
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if state == StateUninit {
		return nil
	}

	switch state {
	case StateConnecting, StateConnected, StateSenderSendEOT, StateReceiverReceiveEOT:
		_ = s.sendControl(CAN, EventInit, nil)
	}
	if cancel != nil {
		cancel()
	}
	if done != nil && !s.watchdog(done) {
		s.logger.Error("%s worker did not exit within %v", s.config.Role, s.config.StopGrace)
		return NewError(ErrState, fmt.Sprintf("%s worker did not exit within %v", s.config.Role, s.config.StopGrace))
	}

	s.mu.Lock()
	s.cancel, s.done = nil, nil
	s.state = StateInit
	s.seq = 0
	s.isFileData = false
	s.file = FileInfo{}
	s.crcType = s.config.CRCType
	s.runCtx = nil
	s.mu.Unlock()
	return nil
}

// watchdog waits for the worker to signal done, giving up after StopGrace.
func (s *Session) watchdog(done <-chan struct{}) bool {
	exited := make(chan bool, 1)
	go func() {
		timer := time.NewTimer(s.config.StopGrace)
		defer timer.Stop()
		select {
		case <-done:
			exited <- true
		case <-timer.C:
			exited <- false
		}
	}()
	return <-exited
}

// Restart stops the session and starts it again.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Clean stops the session, releases its packet buffer and closes the
// transport if it is an io.Closer. The session cannot be used afterwards.
// If the worker does not stop, Clean returns the Stop error and leaves the
// session untouched.
func (s *Session) Clean() error {
	if s.State() == StateUninit {
		return nil
	}
	if err := s.Stop(); err != nil {
		return err
	}

	s.mu.Lock()
	s.buf = nil
	s.state = StateUninit
	s.mu.Unlock()

	if c, ok := s.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
