package source

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, KindTimeout},
		{"url wraps timeout", &url.Error{Op: "Get", URL: "https://x", Err: timeoutErr{}}, KindTimeout},
		{"auth", &AuthError{Host: "imap.example.com", Message: "bad password"}, KindServerRejected},
		{"op error keeps kind", &OpError{Op: "discover", Kind: KindMalformedResponse}, KindMalformedResponse},
		{"plain", errors.New("connection refused"), KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap("discover", nil))

	err := Wrap("test", context.DeadlineExceeded)
	var opErr *OpError
	if assert.ErrorAs(t, err, &opErr) {
		assert.Equal(t, "test", opErr.Op)
		assert.Equal(t, KindTimeout, opErr.Kind)
	}
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Already classified errors pass through untouched.
	orig := &OpError{Op: "create", Kind: KindServerRejected}
	assert.Same(t, orig, Wrap("other", orig))
}

func TestMessage(t *testing.T) {
	assert.Empty(t, Message(nil))
	assert.Equal(t,
		"The server rejected the username or password.",
		Message(fmt.Errorf("login: %w", &AuthError{Host: "h", Message: "no"})),
	)
	assert.Equal(t, "The server did not respond in time.", Message(context.DeadlineExceeded))
	assert.Contains(t, Message(errors.New("refused")), "Network error")
}
