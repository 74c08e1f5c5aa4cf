// Package bridge implements the message-correlation layer between a web
// document and the native host embedding it.  It turns a one-way,
// fire-and-forget envelope transport into a method-addressed
// publish/subscribe system and a call/response mechanism with timeout-based
// failure.
//
// A Bridge is an explicit instance constructed over a Transport; nothing is
// registered globally.  The inbound direction is asymmetric: the
// host may only send notifications and responses, never requests that expect
// a reply.
package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// A Handler receives one inbound envelope per matching dispatch.
type Handler func(env *protocol.Envelope)

// A Bridge correlates outbound calls with inbound responses and fans inbound
// notifications out to subscribed handlers.
type Bridge struct {
	mu      sync.Mutex
	topics  map[string][]*Subscription
	pending map[string]*pendingCall // keyed by call id, never by method
	closed  bool
	detach  func()

	transport Transport
	timeout   time.Duration
	log       zerolog.Logger
}

// New constructs a bridge over the configured transport and subscribes it to
// the transport's inbound events.  Without an Over option the bridge delivers
// into a Discard transport, which is the browser-only fallback: sends succeed
// silently and nothing ever arrives.
func New(options ...Option) (*Bridge, error) {
	b := &Bridge{
		topics:    make(map[string][]*Subscription),
		pending:   make(map[string]*pendingCall),
		transport: Discard(),
		timeout:   time.Second,
		log:       zerolog.Nop(),
	}
	for _, option := range options {
		err := option(b)
		if err != nil {
			return nil, err
		}
	}
	detach, err := b.transport.Subscribe(func(env *protocol.Envelope) {
		err := b.Receive(env)
		if err != nil {
			// There is no caller to observe a fault in an inbound envelope,
			// so the error channel is the log.
			b.log.Error().Err(err).Msg(`dropped inbound envelope`)
		}
	})
	if err != nil {
		return nil, fmt.Errorf(`%w while subscribing to transport`, err)
	}
	b.detach = detach
	return b, nil
}

// Receive classifies one inbound envelope and routes it: notifications fan
// out to subscribed handlers, responses resolve their pending call.  The
// returned error is fatal to that envelope only.
func (b *Bridge) Receive(env *protocol.Envelope) error {
	if env == nil {
		return &protocol.ViolationError{Reason: `empty envelope`}
	}
	kind, err := env.Classify()
	if err != nil {
		return err
	}
	switch kind {
	case protocol.Request:
		return &protocol.ViolationError{
			Reason: fmt.Sprintf(`inbound request %q carries an id; the inbound direction is notification-only`, env.Method),
		}
	case protocol.Notification:
		b.dispatch(env.Method, env)
		return nil
	default: // protocol.Response
		if env.Error != nil && env.NullID() {
			// The host rejected a structurally invalid request; there is no
			// pending call to resolve.
			return &protocol.ViolationError{
				Reason: fmt.Sprintf(`error response with null id: %v`, env.Error),
			}
		}
		b.resolve(env)
		return nil
	}
}

// Close empties every subscription list and detaches the bridge from its
// transport.  In-flight calls are orphaned: their timers still fire and fail
// them with a timeout.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for method := range b.topics {
		b.topics[method] = nil
	}
	detach := b.detach
	b.detach = nil
	b.mu.Unlock()
	if detach != nil {
		detach()
	}
	return nil
}

// An Option configures a Bridge during construction.
type Option func(*Bridge) error

// Over sets the transport the bridge delivers through and receives from.
func Over(t Transport) Option {
	return func(b *Bridge) error {
		if t == nil {
			return fmt.Errorf(`bridge transport must not be nil`)
		}
		b.transport = t
		return nil
	}
}

// DefaultTimeout sets the timeout used by calls that do not specify one.
// Defaults to one second.
func DefaultTimeout(d time.Duration) Option {
	return func(b *Bridge) error {
		if d <= 0 {
			return fmt.Errorf(`default timeout %v must be positive`, d)
		}
		b.timeout = d
		return nil
	}
}

// Logger sets the logger used for handler panics and dropped envelopes.
// Defaults to a no-op logger.
func Logger(log zerolog.Logger) Option {
	return func(b *Bridge) error {
		b.log = log
		return nil
	}
}
