package errorx

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitExceeded_Envelope(t *testing.T) {
	e := RateLimitExceeded(250)
	assert.Equal(t, 1, e.RetryAfter)
	assert.Equal(t,
		`{"event":"pusher:error","data":"{\"code\":4200,\"message\":\"Rate limit exceeded\",\"retry_after\":1}"}`,
		string(e.Envelope()))

	assert.Equal(t, 3, RateLimitExceeded(2001).RetryAfter)
	assert.Equal(t, 1, RateLimitExceeded(0).RetryAfter)
}

func TestWireError_EnvelopeOmitsRetry(t *testing.T) {
	var env struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(ErrConnectionLimitExceeded.Envelope(), &env))
	assert.Equal(t, "pusher:error", env.Event)
	assert.JSONEq(t, `{"code":4004,"message":"Application is over connection quota"}`, env.Data)
}

func TestWireError_Is(t *testing.T) {
	wrapped := fmt.Errorf("admit: %w", ErrConnectionLimitExceeded)
	assert.True(t, errors.Is(wrapped, ErrConnectionLimitExceeded))
	assert.True(t, errors.Is(&WireError{Code: 4004}, ErrConnectionLimitExceeded))
	assert.False(t, errors.Is(wrapped, ErrPongNotReceived))
	assert.Equal(t, "[4201] Pong reply not received in time", ErrPongNotReceived.Error())
}
