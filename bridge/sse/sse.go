// Package sse implements the bridge transport for hosts that expose only a
// one-way event stream plus an HTTP ingress: inbound envelopes arrive as
// server-sent events and outbound envelopes are posted as JSON.  This pairing
// matches the bridge's asymmetric inbound contract directly, since an event
// stream can only ever carry host-to-document traffic.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tmaxmax/go-sse"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// New returns a transport that receives envelopes from the event stream at
// eventsURL and delivers outbound envelopes by posting to postURL.
func New(ctx context.Context, eventsURL, postURL string, options ...Option) *Transport {
	t := &Transport{
		events: eventsURL,
		post:   postURL,
		client: http.DefaultClient,
		log:    zerolog.Nop(),
		done:   make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	return t
}

// A Transport moves envelopes over an SSE stream and an HTTP ingress.
type Transport struct {
	events string
	post   string
	client *http.Client
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	attached bool
}

// Deliver posts one envelope to the host's ingress.
func (t *Transport) Deliver(env *protocol.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf(`%w while encoding envelope`, err)
	}
	req, err := http.NewRequestWithContext(t.ctx, http.MethodPost, t.post, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set(`Content-Type`, `application/json`)
	ret, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf(`%w while delivering envelope`, err)
	}
	defer func() { _ = ret.Body.Close() }()
	if ret.StatusCode/100 != 2 {
		return fmt.Errorf(`host ingress answered %s`, ret.Status)
	}
	return nil
}

// Subscribe connects to the event stream and routes each event's data through
// the decoder to fn.  The returned cancel tears the stream down.
func (t *Transport) Subscribe(fn func(env *protocol.Envelope)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attached {
		return nil, fmt.Errorf(`sse transport already has a subscriber`)
	}
	t.attached = true
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.events, nil)
	if err != nil {
		return nil, err
	}
	client := &sse.Client{HTTPClient: t.client}
	conn := client.NewConnection(req)
	conn.SubscribeMessages(func(event sse.Event) {
		env := new(protocol.Envelope)
		if err := json.Unmarshal([]byte(event.Data), env); err != nil {
			t.log.Warn().Err(err).Msg(`dropped undecodable bridge event`)
			return
		}
		fn(env)
	})
	go func() {
		defer close(t.done)
		err := conn.Connect()
		if err != nil && t.ctx.Err() == nil {
			t.log.Debug().Err(err).Msg(`bridge event stream ended`)
		}
	}()
	return t.cancel, nil
}

// Done is closed when the event stream ends.
func (t *Transport) Done() <-chan struct{} { return t.done }

// An Option adjusts an SSE transport during construction.
type Option func(*Transport)

// HTTPClient sets the client used for the stream and the ingress posts.
func HTTPClient(client *http.Client) Option {
	return func(t *Transport) { t.client = client }
}

// Logger sets the logger used for dropped events and stream failures.
func Logger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}
