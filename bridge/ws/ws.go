// Package ws implements the bridge transport for hosts that expose a
// websocket message channel.  Envelopes travel as one frame each: text frames
// carrying JSON by default, or binary frames carrying MessagePack when the
// Binary option is used.
package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// Dial connects to a host bridge endpoint and returns a transport over the
// websocket.  The context bounds the lifetime of the connection, not just the
// dial.
func Dial(ctx context.Context, url string, options ...Option) (*Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf(`%w while dialing %q`, err, url)
	}
	return Adopt(ctx, conn, options...), nil
}

// Adopt wraps an already established websocket connection, such as one
// accepted by the host side.
func Adopt(ctx context.Context, conn *websocket.Conn, options ...Option) *Transport {
	t := &Transport{
		conn:  conn,
		codec: protocol.JSON{},
		mtype: websocket.MessageText,
		limit: -1,
		log:   zerolog.Nop(),
		done:  make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	conn.SetReadLimit(t.limit)
	t.ctx, t.cancel = context.WithCancel(ctx)
	return t
}

// A Transport moves envelopes over a single websocket connection.
type Transport struct {
	conn  *websocket.Conn
	codec protocol.Codec
	mtype websocket.MessageType
	limit int64
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	sending  sync.Mutex // writes from concurrent callers must not interleave
	mu       sync.Mutex
	attached bool
}

// Deliver encodes one envelope and writes it as a single frame.
func (t *Transport) Deliver(env *protocol.Envelope) error {
	bin, err := t.codec.Encode(env)
	if err != nil {
		return fmt.Errorf(`%w while encoding envelope`, err)
	}
	t.sending.Lock()
	defer t.sending.Unlock()
	return t.conn.Write(t.ctx, t.mtype, bin)
}

// Subscribe starts the read pump and routes each decoded envelope to fn.  A
// transport carries exactly one subscriber for its lifetime; the returned
// cancel stops the pump.
func (t *Transport) Subscribe(fn func(env *protocol.Envelope)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attached {
		return nil, fmt.Errorf(`websocket transport already has a subscriber`)
	}
	t.attached = true
	go t.pump(fn)
	return t.cancel, nil
}

// Done is closed when the read pump exits, which happens when the peer closes
// the socket, the context ends, or the subscription is cancelled.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Close cancels the pump and closes the websocket.
func (t *Transport) Close() error {
	t.cancel()
	return t.conn.Close(websocket.StatusNormalClosure, ``)
}

func (t *Transport) pump(fn func(env *protocol.Envelope)) {
	defer close(t.done)
	for {
		mt, bin, err := t.conn.Read(t.ctx)
		if err != nil {
			if websocket.CloseStatus(err) < 0 && t.ctx.Err() == nil {
				t.log.Debug().Err(err).Msg(`bridge websocket read failed`)
			}
			return
		}
		if mt != t.mtype {
			continue
		}
		env, err := t.codec.Decode(bin)
		if err != nil {
			t.log.Warn().Err(err).Msg(`dropped undecodable bridge frame`)
			continue
		}
		fn(env)
	}
}

// An Option adjusts a websocket transport during construction.
type Option func(*Transport)

// Binary switches the transport to binary frames carrying MessagePack.
func Binary() Option {
	return func(t *Transport) {
		t.codec = protocol.Msgpack{}
		t.mtype = websocket.MessageBinary
	}
}

// ReadLimit specifies the maximum size of an inbound frame.  Defaults to -1,
// which imposes no limit.
func ReadLimit(limit int64) Option {
	return func(t *Transport) { t.limit = limit }
}

// Logger sets the logger used for dropped frames and pump failures.
func Logger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}
