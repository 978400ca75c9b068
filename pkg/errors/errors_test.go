package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "type and message",
			err:  New(ErrorTypeMalformed, "response has no items"),
			want: "malformed error: response has no items",
		},
		{
			name: "with code",
			err:  &Error{Type: ErrorTypeAPI, Code: 29, Message: "Rate limit reached"},
			want: "api error (code 29): Rate limit reached",
		},
		{
			name: "with cause",
			err:  Wrap(ErrorTypeTransport, io.ErrUnexpectedEOF, "read body"),
			want: "transport error: read body: unexpected EOF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrapAndTypeOf(t *testing.T) {
	base := Wrap(ErrorTypeStorage, io.ErrShortWrite, "append row")
	wrapped := fmt.Errorf("flush: %w", base)

	assert.True(t, stderrors.Is(wrapped, io.ErrShortWrite))
	assert.Equal(t, ErrorTypeStorage, TypeOf(wrapped))
	assert.True(t, IsType(wrapped, ErrorTypeStorage))
	assert.False(t, IsType(nil, ErrorTypeStorage))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(io.EOF))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrorTypeTransport))
	assert.True(t, IsRetryable(ErrorTypeStorage))
	assert.False(t, IsRetryable(ErrorTypeAPI))
	assert.False(t, IsRetryable(ErrorTypeConfig))
	assert.False(t, IsRetryable(ErrorTypeInvalidRequest))
}

func TestIsRetryableStatusCode(t *testing.T) {
	for code, want := range map[int]bool{
		0: true, 200: false, 404: false, 429: true, 500: true, 503: true, 401: false,
	} {
		assert.Equal(t, want, IsRetryableStatusCode(code), "status %d", code)
	}
}
