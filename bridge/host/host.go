// Package host implements the native side of the bridge: an http.Handler
// that accepts a websocket from the document and serves its requests and
// notifications until the socket closes.  The host may send notifications
// and responses back, never requests; the document is the only side that
// calls.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/swdunlop/html-go/hog"
	"nhooyr.io/websocket"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// Handle returns a http.Handler that upgrades the connection to a websocket
// and serves bridge traffic until the connection is closed.
func Handle(options ...Option) http.Handler {
	var cfg config
	cfg.init(options...)
	return &cfg
}

// Use specifies middleware that is applied to all requests.
func Use(fn func(Handler) Handler) Option {
	return func(cfg *config) {
		cfg.handler = fn(cfg.handler)
	}
}

// ReadLimit specifies the maximum size of an inbound frame.  Defaults to -1,
// which imposes no limit.
func ReadLimit(limit int64) Option {
	return func(cfg *config) { cfg.readLimit = limit }
}

// OnConnect registers a hook that is called with each accepted connection,
// before any traffic is served.  This is how the host pushes unsolicited
// notifications: keep the Conn, use Notify, stop when Done closes.
func OnConnect(fn func(*Conn)) Option {
	return func(cfg *config) {
		cfg.onConnect = append(cfg.onConnect, fn)
	}
}

// For creates a scope for the given envelope and connection.  Generally this
// is not necessary but it can be useful for testing.
func For(ctx context.Context, env *protocol.Envelope, conn *Conn) *Scope {
	self := &Scope{Context: ctx, Method: env.Method, ID: env.ID, Params: env.Params, conn: conn}
	self.Context = context.WithValue(ctx, ctxKey{}, self)
	return self
}

// From returns the scope of the request from a Go context.  May return nil if
// there is no bridge scope in the Go context.
func From(ctx context.Context) *Scope {
	scope, _ := ctx.Value(ctxKey{}).(*Scope)
	return scope
}

type ctxKey struct{}

// A Scope describes the scope of one inbound request or notification.
type Scope struct {
	context.Context
	Method string
	ID     json.RawMessage
	Params any
	conn   *Conn
}

// Succ sends a success response to the document.
func (ctx *Scope) Succ(result any) error {
	return ctx.respond(&protocol.Envelope{Result: result})
}

// Fail sends an error response to the document.
func (ctx *Scope) Fail(code int, msg string) error {
	return ctx.respond(&protocol.Envelope{Error: &protocol.Error{Code: code, Message: msg}})
}

// Notify sends a notification to the document over the scope's connection.
func (ctx *Scope) Notify(method string, params any) error {
	return ctx.conn.Notify(method, params)
}

// Conn returns the connection the scope arrived on.
func (ctx *Scope) Conn() *Conn { return ctx.conn }

func (ctx *Scope) respond(ret *protocol.Envelope) error {
	if len(ctx.ID) == 0 {
		// Notifications have no reply channel; this is a programming error.
		return fmt.Errorf(`no response expected for notification %q`, ctx.Method)
	}
	ret.JSONRPC = protocol.Version
	ret.ID = ctx.ID
	return ctx.conn.send(ret)
}

// A Conn is one accepted document connection.
type Conn struct {
	sending sync.Mutex
	ctx     context.Context
	ws      *websocket.Conn
	done    chan struct{}
}

// Notify sends an unsolicited notification to the document.
func (c *Conn) Notify(method string, params any) error {
	return c.send(&protocol.Envelope{
		JSONRPC: protocol.Version,
		Method:  method,
		Params:  params,
	})
}

// Done is closed when the connection stops serving.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) send(env *protocol.Envelope) error {
	bin, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf(`%w while encoding envelope`, err)
	}
	c.sending.Lock()
	defer c.sending.Unlock()
	return c.ws.Write(c.ctx, websocket.MessageText, bin)
}

// An Option affects the rigging of a bridge host.
type Option func(*config)

type config struct {
	handler      Handler
	readLimit    int64
	procHandlers map[string]Handler
	callHandlers map[string]Handler
	onConnect    []func(*Conn)
}

func (cfg *config) init(options ...Option) {
	cfg.readLimit = -1
	cfg.handler = cfg.handleRequest
	cfg.procHandlers = make(map[string]Handler, len(options))
	cfg.callHandlers = make(map[string]Handler, len(options))
	for _, option := range options {
		option(cfg)
	}
}

// ServeHTTP implements http.Handler.
func (cfg *config) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := cfg.serveHTTP(w, r)
	if err != nil {
		hog.For(r).Error().Err(err).Msg(`bridge host error`)
	}
}

func (cfg *config) serveHTTP(w http.ResponseWriter, r *http.Request) error {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err
	}
	defer func() { _ = ws.CloseNow() }()
	ws.SetReadLimit(cfg.readLimit)

	ctx := r.Context()
	conn := &Conn{ctx: ctx, ws: ws, done: make(chan struct{})}
	defer close(conn.done)
	for _, fn := range cfg.onConnect {
		fn(conn)
	}

	var group sync.WaitGroup
	defer group.Wait()
	for {
		mt, bin, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) < 0 {
				return err
			}
			return nil
		}
		if mt != websocket.MessageText {
			continue
		}
		env := new(protocol.Envelope)
		err = json.Unmarshal(bin, env)
		if err != nil {
			return fmt.Errorf(`%w while decoding envelope`, err)
		}
		kind, err := env.Classify()
		if err != nil {
			hog.For(r).Warn().Err(err).Msg(`dropped inbound envelope`)
			continue
		}
		if kind == protocol.Response {
			// The host never calls the document, so nothing correlates.
			hog.For(r).Warn().RawJSON(`id`, env.ID).Msg(`dropped unexpected response`)
			continue
		}
		group.Add(1)
		go func() {
			defer group.Done()
			cfg.handler(For(ctx, env, conn))
		}()
	}
}

func (cfg *config) handleRequest(ctx *Scope) {
	var table map[string]Handler
	if len(ctx.ID) == 0 {
		table = cfg.procHandlers
	} else {
		table = cfg.callHandlers
	}
	handler := table[ctx.Method]
	if handler == nil {
		if len(ctx.ID) != 0 {
			_ = ctx.Fail(protocol.CodeMethodNotFound, fmt.Sprintf(`method %q not found`, ctx.Method))
		} else {
			hog.From(ctx).Debug().Str(`method`, ctx.Method).Msg(`no handler for notification`)
		}
		return
	}
	handler(ctx)
}

// A Proc is a function that handles a notification.
func Proc[I any](method string, fn func(*Scope, I)) Option {
	return func(cfg *config) {
		cfg.procHandlers[method] = func(ctx *Scope) {
			in, err := decodeParams[I](ctx.Params)
			if err != nil {
				hog.From(ctx).Warn().Err(err).Str(`method`, ctx.Method).Msg(`bad notification params`)
				return
			}
			fn(ctx, in)
		}
	}
}

// A Fn is a function that handles a call.
func Fn[I, O any](method string, fn func(*Scope, I) (O, error)) Option {
	return func(cfg *config) {
		cfg.callHandlers[method] = func(ctx *Scope) {
			in, err := decodeParams[I](ctx.Params)
			if err != nil {
				_ = ctx.Fail(protocol.CodeInvalidParams, fmt.Sprintf(`%v while decoding params`, err))
				return
			}
			out, err := fn(ctx, in)
			if err != nil {
				_ = ctx.Fail(protocol.CodeInternal, err.Error())
				return
			}
			_ = ctx.Succ(out)
		}
	}
}

// decodeParams converts the envelope's already-decoded params into the
// handler's input type by a JSON round trip; params pass through the bridge
// itself uninterpreted, so this is the first point with a concrete type.
func decodeParams[I any](params any) (I, error) {
	var in I
	if params == nil {
		return in, nil
	}
	bin, err := json.Marshal(params)
	if err != nil {
		return in, err
	}
	err = json.Unmarshal(bin, &in)
	return in, err
}

// A Handler is a function that handles an inbound request or notification.
type Handler func(*Scope)
