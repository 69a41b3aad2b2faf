package errorx

import (
	"encoding/json"
	"fmt"

	"github.com/amoylab/pushgate/internal/common/cnst"
)

// Wire-level error codes reported in pusher:error events.
const (
	CodeAppNotFound             = 4001
	CodeOverConnectionQuota     = 4004
	CodeNotSubscribed           = 4009
	CodeRateLimitExceeded       = 4200
	CodePongNotReceived         = 4201
	CodeClientEventsDisabled    = 4301
	CodeInvalidMessage          = 4302
	CodeSubscriptionAuthFailure = 4303
)

// WireError is an error that is reported to a client with a fixed code.
type WireError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds, rate limit only
}

var (
	// ErrConnectionLimitExceeded is returned when an application is at its
	// connection quota at admission time
	ErrConnectionLimitExceeded = &WireError{Code: CodeOverConnectionQuota, Message: "Application is over connection quota"}
	// ErrPongNotReceived closes connections that stayed silent past the activity timeout
	ErrPongNotReceived = &WireError{Code: CodePongNotReceived, Message: "Pong reply not received in time"}
	// ErrAppNotFound closes connections for an unknown application key
	ErrAppNotFound = &WireError{Code: CodeAppNotFound, Message: "App key does not exist"}
	// ErrClientEventsDisabled rejects client events for applications that did not enable them
	ErrClientEventsDisabled = &WireError{Code: CodeClientEventsDisabled, Message: "The app does not have client messaging enabled"}
	// ErrClientNotSubscribed rejects client events on channels the sender has not joined
	ErrClientNotSubscribed = &WireError{Code: CodeNotSubscribed, Message: "The client is not a member of the channel"}
	// ErrClientEventChannel rejects client events on public and cache channels
	ErrClientEventChannel = &WireError{Code: CodeClientEventsDisabled, Message: "Client events are only allowed on private and presence channels"}
)

// RateLimitExceeded builds the rate-limit error for a denial that can be
// retried after msBeforeNext milliseconds.
func RateLimitExceeded(msBeforeNext int64) *WireError {
	retry := int((msBeforeNext + 999) / 1000)
	if retry < 1 {
		retry = 1
	}
	return &WireError{Code: CodeRateLimitExceeded, Message: "Rate limit exceeded", RetryAfter: retry}
}

// Error implements the error interface
func (e *WireError) Error() string {
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Is matches any WireError with the same code.
func (e *WireError) Is(target error) bool {
	t, ok := target.(*WireError)
	return ok && t.Code == e.Code
}

// Envelope renders the pusher:error event. The data field is a JSON-encoded
// string, as Pusher clients expect.
func (e *WireError) Envelope() []byte {
	data, _ := json.Marshal(e)
	out, _ := json.Marshal(struct {
		Event string `json:"event"`
		Data  string `json:"data"`
	}{Event: cnst.EventError, Data: string(data)})
	return out
}
