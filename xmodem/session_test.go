package xmodem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.True(t, IsType(err, ErrInvalidArg))

	a, _ := newLoopback(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"role", func(c *Config) { c.Role = Role(7) }},
		{"crc type", func(c *Config) { c.CRCType = CRCType(3) }},
		{"packet sizing", func(c *Config) { c.PacketSizing = PacketSizing(9) }},
		{"max retry", func(c *Config) { c.MaxRetry = 0 }},
		{"cycle max retry", func(c *Config) { c.CycleMaxRetry = -1 }},
		{"timeout", func(c *Config) { c.Timeout = 0 }},
		{"stop grace", func(c *Config) { c.StopGrace = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			_, err := New(a, WithConfig(cfg))
			assert.True(t, IsType(err, ErrInvalidArg), "got %v", err)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	a, _ := newLoopback(t)
	s, err := New(a, WithRole(RoleReceiver))
	require.NoError(t, err)

	assert.Equal(t, StateInit, s.State())
	assert.Equal(t, RoleReceiver, s.Role())
	assert.Equal(t, CRCTypeCRC16, s.CRCType())
	assert.NoError(t, s.Err())
	assert.Equal(t, FileInfo{}, s.File())
}

func TestReceiverRequiresOnReceive(t *testing.T) {
	a, _ := newLoopback(t)
	s := newTestSession(t, a, testConfig(RoleReceiver), nil)

	err := s.Start(context.Background())
	assert.True(t, IsType(err, ErrInvalidArg))
	assert.Equal(t, StateInit, s.State())
}

func TestStartTwice(t *testing.T) {
	a, _ := newLoopback(t)
	s := newTestSession(t, a, testConfig(RoleSender), nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateConnecting, s.State())

	err := s.Start(context.Background())
	assert.True(t, IsType(err, ErrState))
}

func TestSenderOperationsRequireConnected(t *testing.T) {
	a, _ := newLoopback(t)
	s := newTestSession(t, a, testConfig(RoleSender), nil)

	assert.True(t, IsType(s.Send([]byte("x")), ErrState))
	assert.True(t, IsType(s.SendEOT(), ErrState))
	assert.True(t, IsType(s.SendCancel(), ErrState))
	assert.True(t, IsType(s.SendFilePacket("a", 1), ErrState))
	assert.True(t, IsType(s.SendFilePacket("", 0), ErrState))
}

func TestSenderOperationsOnReceiver(t *testing.T) {
	a, _ := newLoopback(t)
	s := newTestSession(t, a, testConfig(RoleReceiver), &Callbacks{OnReceive: (&sink{}).receive})

	assert.True(t, IsType(s.Send([]byte("x")), ErrInvalidArg))
	assert.True(t, IsType(s.SendEOT(), ErrInvalidArg))
}

func TestStopIdle(t *testing.T) {
	a, _ := newLoopback(t)
	s := newTestSession(t, a, testConfig(RoleSender), nil)

	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	assert.Equal(t, StateInit, s.State())
}

func TestStopConnectingSender(t *testing.T) {
	a, b := newLoopback(t)
	s := newTestSession(t, a, testConfig(RoleSender), nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	assert.Equal(t, StateInit, s.State())

	expectByte(t, b, CAN)
	expectByte(t, b, CAN)

	// The stopped worker no longer answers.
	writeAll(t, b, []byte{CRC16Request})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateInit, s.State())

	require.NoError(t, s.Stop())
	assert.Equal(t, StateInit, s.State())
}

func TestRestart(t *testing.T) {
	a, b := newLoopback(t)
	s := newTestSession(t, a, testConfig(RoleSender), nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, StateConnecting, s.State())

	expectByte(t, b, CAN)
	expectByte(t, b, CAN)
	writeAll(t, b, []byte{NAK})
	require.NoError(t, s.WaitConnected(testContext(t)))
	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, CRCTypeChecksum, s.CRCType())
}

func TestClean(t *testing.T) {
	a, _ := newLoopback(t)
	s, err := New(a, WithConfig(testConfig(RoleSender)))
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Clean())
	assert.Equal(t, StateUninit, s.State())
	require.NoError(t, s.Clean())
	require.NoError(t, s.Stop())

	err = s.Start(context.Background())
	assert.True(t, IsType(err, ErrState))

	// Clean closed the transport.
	_, err = a.ReadByte(context.Background(), time.Second)
	assert.True(t, IsType(err, ErrTransport))
}

func TestNoReceiver(t *testing.T) {
	a, _ := newLoopback(t)
	cfg := testConfig(RoleSender)
	cfg.CycleTimeout = 50 * time.Millisecond
	cfg.CycleMaxRetry = 3
	events := &eventRecorder{}
	s := newTestSession(t, a, cfg, &Callbacks{OnEvent: events.record})

	require.NoError(t, s.Start(context.Background()))
	err := s.WaitConnected(testContext(t))
	assert.True(t, IsType(err, ErrNoReceiver), "got %v", err)
	assert.Equal(t, []EventID{EventError}, events.ids())
	assert.Equal(t, StateConnecting, s.State())
}

func TestUnsupportedModeRequest(t *testing.T) {
	a, b := newLoopback(t)
	cfg := testConfig(RoleSender)
	cfg.CycleTimeout = 200 * time.Millisecond
	s := newTestSession(t, a, cfg, nil)

	require.NoError(t, s.Start(context.Background()))
	writeAll(t, b, []byte{'X'})
	time.Sleep(50 * time.Millisecond)
	assert.True(t, IsType(s.Err(), ErrCRCNotSupported))

	writeAll(t, b, []byte{CRC16Request})
	require.NoError(t, s.WaitConnected(testContext(t)))
	assert.NoError(t, s.Err())
}

func TestNoSender(t *testing.T) {
	a, b := newLoopback(t)
	cfg := testConfig(RoleReceiver)
	cfg.CycleTimeout = 50 * time.Millisecond
	cfg.CycleMaxRetry = 3
	events := &eventRecorder{}
	s := newTestSession(t, a, cfg, &Callbacks{OnEvent: events.record, OnReceive: (&sink{}).receive})

	require.NoError(t, s.Start(context.Background()))
	for i := 0; i < 3; i++ {
		expectByte(t, b, CRC16Request)
	}
	err := s.Wait(testContext(t))
	assert.True(t, IsType(err, ErrNoSender), "got %v", err)
	assert.Equal(t, []EventID{EventError}, events.ids())
}

func TestReceiverChecksumRequest(t *testing.T) {
	a, b := newLoopback(t)
	cfg := testConfig(RoleReceiver)
	cfg.CRCType = CRCTypeChecksum
	s := newTestSession(t, a, cfg, &Callbacks{OnReceive: (&sink{}).receive})

	require.NoError(t, s.Start(context.Background()))
	expectByte(t, b, NAK)
}
