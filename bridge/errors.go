package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

var (
	// ErrClosed is returned by operations on a bridge after Close.
	ErrClosed = errors.New(`bridge is closed`)

	// ErrNoMethod is returned when an envelope or subscription names no method.
	ErrNoMethod = errors.New(`method must not be empty`)

	// ErrNilHandler is returned when a subscription is registered without a handler.
	ErrNilHandler = errors.New(`handler must not be nil`)

	// ErrHasID is returned when a notification carries a correlation id.
	ErrHasID = errors.New(`notifications must not carry an id`)
)

// A TimeoutError fails a call whose response did not arrive in time.
type TimeoutError struct {
	Method string
	Wait   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(`call %q timed out after %v`, e.Method, e.Wait)
}

// A RemoteError fails a call whose response carried a JSON-RPC error object.
type RemoteError struct {
	Method string
	Cause  *protocol.Error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf(`call %q failed: %v`, e.Method, e.Cause)
}

func (e *RemoteError) Unwrap() error { return e.Cause }
