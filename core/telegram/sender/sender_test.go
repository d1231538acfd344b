package sender

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesTransientErrors(t *testing.T) {
	s := New(Options{MaxRetries: 2, RetryBackoff: time.Millisecond})
	calls := 0
	err := s.Do(context.Background(), "send_text", "sendMessage", func(context.Context) error {
		calls++
		if calls < 3 {
			return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Zero(t, s.ErrorCount())
}

func TestDoDoesNotRetryByDefault(t *testing.T) {
	s := New(Options{})
	calls := 0
	err := s.Do(context.Background(), "send_text", "sendMessage", func(context.Context) error {
		calls++
		return &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, uint64(1), s.ErrorCount())
}

func TestDoRedactsToken(t *testing.T) {
	cause := errors.New(`Post "https://api.telegram.org/bot123456:AAE-secret_x/sendMessage": EOF`)
	err := New(Options{}).Do(context.Background(), "send_text", "", func(context.Context) error { return cause })
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "AAE-secret_x")
	assert.Contains(t, err.Error(), "bot<redacted>")
	assert.ErrorIs(t, err, cause)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "timeout", classifyError(context.DeadlineExceeded))
	assert.Equal(t, "dial", classifyError(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.Equal(t, "dns", classifyError(&net.DNSError{Err: "no such host"}))
	assert.Equal(t, "http_4xx", classifyError(errors.New("telegram: chat not found (400)")))
	assert.Equal(t, "unknown", classifyError(errors.New("boom")))
}
