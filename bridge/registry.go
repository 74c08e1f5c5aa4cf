package bridge

import (
	"sync/atomic"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// A Subscription is the handle returned by On and Once.  Cancel is the only
// way to unregister a handler; cancelling twice, or cancelling after a Once
// subscription has fired, is a no-op.
type Subscription struct {
	b      *Bridge
	method string
	fn     Handler
	once   bool
	fired  atomic.Bool
}

// Method returns the method the subscription listens for.
func (s *Subscription) Method() string { return s.method }

// Cancel removes the subscription from its bridge.
func (s *Subscription) Cancel() {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[s.method]
	for i, it := range subs {
		if it == s {
			b.topics[s.method] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// On registers a handler for inbound notifications with the given method.
// Handlers for one method are invoked in registration order, every one of
// them, once per matching envelope.
func (b *Bridge) On(method string, fn Handler) (*Subscription, error) {
	return b.subscribe(method, fn, false)
}

// Once registers a handler that fires at most once; the subscription is
// removed before the handler runs, so overlapping dispatches cannot fire it
// twice.
func (b *Bridge) Once(method string, fn Handler) (*Subscription, error) {
	return b.subscribe(method, fn, true)
}

func (b *Bridge) subscribe(method string, fn Handler, once bool) (*Subscription, error) {
	if method == `` {
		return nil, ErrNoMethod
	}
	if fn == nil {
		return nil, ErrNilHandler
	}
	sub := &Subscription{b: b, method: method, fn: fn, once: once}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.topics[method] = append(b.topics[method], sub)
	return sub, nil
}

// dispatch invokes every handler currently subscribed to the method, in
// registration order.  Unknown methods are a silent no-op.  Handlers run
// outside the bridge lock so they may subscribe, cancel or call back into the
// bridge.
func (b *Bridge) dispatch(method string, env *protocol.Envelope) {
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.topics[method]...)
	b.mu.Unlock()
	for _, sub := range subs {
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			sub.Cancel()
		}
		b.invoke(sub, env)
	}
}

// invoke isolates one handler invocation; a panicking handler must not
// prevent its siblings from running.
func (b *Bridge) invoke(sub *Subscription, env *protocol.Envelope) {
	defer func() {
		if cause := recover(); cause != nil {
			b.log.Error().Interface(`panic`, cause).Str(`method`, sub.method).Msg(`bridge handler panicked`)
		}
	}()
	sub.fn(env)
}
