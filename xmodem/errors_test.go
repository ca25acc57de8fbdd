package xmodem

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrSequence, "got packet 3, want 2")
	assert.Equal(t, "xmodem sequence error: got packet 3, want 2", err.Error())

	wrapped := WrapError(ErrTransport, "read", io.EOF)
	assert.Equal(t, "xmodem transport error: read: EOF", wrapped.Error())
	assert.ErrorIs(t, wrapped, io.EOF)
}

func TestErrorTypeHelpers(t *testing.T) {
	wrapped := fmt.Errorf("transfer: %w", NewError(ErrTimeout, "read timed out"))

	typ, ok := TypeOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, ErrTimeout, typ)
	assert.True(t, IsTimeout(wrapped))
	assert.False(t, IsCRC(wrapped))
	assert.True(t, IsCRC(NewError(ErrCRC, "")))
	assert.True(t, IsCancelled(NewError(ErrCancelled, "")))

	_, ok = TypeOf(errors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsType(nil, ErrInvalidArg))
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		typ  ErrorType
		want Category
	}{
		{ErrInvalidArg, CategoryInvalidArgument},
		{ErrState, CategoryState},
		{ErrTransport, CategoryTransport},
		{ErrTimeout, CategoryTransport},
		{ErrDataSend, CategoryTransport},
		{ErrDataRecv, CategoryProtocol},
		{ErrCancelled, CategoryProtocol},
		{ErrMaxRetry, CategoryProtocol},
		{ErrCRCNotSupported, CategoryProtocol},
		{ErrNoReceiver, CategoryProtocol},
		{ErrNoSender, CategoryProtocol},
		{ErrSequence, CategoryProtocol},
		{ErrCRC, CategoryProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.Category())
		})
	}
}
