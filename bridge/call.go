package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/podium-lib/bridge-go/bridge/ident"
	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// A pendingCall is the ephemeral correlation record for one in-flight call.
// At most one exists per id; it is removed from the pending store the instant
// it completes, by whichever of response arrival, timer expiry or caller
// cancellation takes it first.
type pendingCall struct {
	method string
	ch     chan outcome // buffered; only the taker of the record writes
	timer  *time.Timer
}

type outcome struct {
	response *protocol.Envelope
	err      error
}

// Call delivers a request envelope and waits for the matching response, the
// timeout, or the context, whichever comes first.  An id is assigned when the
// caller supplied none.  A response carrying an error member fails the call
// with a *RemoteError; an expired timer fails it with a *TimeoutError.  A
// response arriving after the call completed is silently dropped.
func (b *Bridge) Call(ctx context.Context, env *protocol.Envelope, options ...CallOption) (*protocol.Envelope, error) {
	if env == nil || env.Method == `` {
		return nil, ErrNoMethod
	}
	timeout := b.timeout
	for _, option := range options {
		err := option(&timeout)
		if err != nil {
			return nil, err
		}
	}
	env.Normalize()
	if !env.HasID() {
		env.ID = protocol.StringID(ident.New())
	}
	key := env.CorrelationKey()
	call := &pendingCall{method: env.Method, ch: make(chan outcome, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if _, dup := b.pending[key]; dup {
		b.mu.Unlock()
		return nil, fmt.Errorf(`call id %s is already in flight`, env.ID)
	}
	b.pending[key] = call
	b.mu.Unlock()

	call.timer = time.AfterFunc(timeout, func() {
		if b.takePending(key) == nil {
			return // a response won the race
		}
		call.ch <- outcome{err: &TimeoutError{Method: call.method, Wait: timeout}}
	})

	err := b.transport.Deliver(env)
	if err != nil {
		if b.takePending(key) != nil {
			call.timer.Stop()
		}
		return nil, fmt.Errorf(`%w while delivering call %q`, err, env.Method)
	}

	select {
	case out := <-call.ch:
		return out.response, out.err
	case <-ctx.Done():
		if b.takePending(key) != nil {
			call.timer.Stop()
		}
		return nil, ctx.Err()
	}
}

// Notify delivers a fire-and-forget notification.  An envelope carrying an id
// is rejected before any transport interaction; notifications must not expect
// correlation.
func (b *Bridge) Notify(env *protocol.Envelope) error {
	if env == nil || env.Method == `` {
		return ErrNoMethod
	}
	if len(env.ID) > 0 {
		return fmt.Errorf(`%w: notification %q carries id %s`, ErrHasID, env.Method, env.ID)
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}
	env.Normalize()
	return b.transport.Deliver(env)
}

// resolve completes the pending call matching a response envelope.  An
// unmatched response, typically one arriving after its call timed out, is
// dropped without error; the drop is deliberate and only visible at debug
// level.
func (b *Bridge) resolve(env *protocol.Envelope) {
	call := b.takePending(env.CorrelationKey())
	if call == nil {
		b.log.Debug().RawJSON(`id`, env.ID).Msg(`dropped response with no pending call`)
		return
	}
	call.timer.Stop()
	if env.Error != nil {
		call.ch <- outcome{err: &RemoteError{Method: call.method, Cause: env.Error}}
		return
	}
	call.ch <- outcome{response: env}
}

// takePending removes and returns the pending call for the key.  Removal
// under the lock is what makes completion exactly-once: only the winner gets
// a non-nil record.
func (b *Bridge) takePending(key string) *pendingCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	call := b.pending[key]
	if call != nil {
		delete(b.pending, key)
	}
	return call
}

// A CallOption adjusts a single call.
type CallOption func(*time.Duration) error

// Timeout overrides the bridge's default call timeout.
func Timeout(d time.Duration) CallOption {
	return func(timeout *time.Duration) error {
		if d <= 0 {
			return fmt.Errorf(`call timeout %v must be positive`, d)
		}
		*timeout = d
		return nil
	}
}
