package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/swdunlop/zugzug-go"
	"github.com/swdunlop/zugzug-go/zug/parser"
	"github.com/tmaxmax/go-sse"
	"tailscale.com/tsnet"

	"github.com/podium-lib/bridge-go/bridge/host"
	"github.com/podium-lib/bridge-go/internal/devwatch"
)

func init() {
	tasks = append(tasks, zugzug.Tasks{
		{Name: "serve", Use: "Serves the demo document with a bridge host", Fn: serveDemo, Parser: parser.New(
			parser.String(&wwwDir, "www", "d", "The directory to serve as the demo document root"),
		), Settings: zugzug.Settings{
			{Var: &listenAddress, Name: `LISTEN_ADDRESS`,
				Use: "Listening address for the demo host (default: localhost:8080)"},

			{Var: &tailscaleHostname, Name: `TAILSCALE_HOSTNAME`,
				Use: "Serves on your Tailscale network under this hostname instead of a local socket"},
			{Var: &tailscaleDir, Name: `TAILSCALE_DIR`,
				Use: "State directory for Tailscale"},
			{Var: &noTailscaleTLS, Name: `NO_TAILSCALE_TLS`,
				Use: "Disables TLS for Tailscale"},
		}},
	}...)
}

func serveDemo(ctx context.Context) error {
	events := &sse.Server{}
	var pages pageSet
	pages.set = make(map[*host.Conn]struct{})

	mux := http.NewServeMux()
	mux.Handle(`GET /`, http.FileServer(http.Dir(wwwDir)))
	mux.Handle(`GET /events`, events)
	mux.Handle(`GET /bridge`, host.Handle(
		host.Use(host.Logging()),
		host.Use(host.RateLimit(64, 16)),
		host.OnConnect(pages.track),
		host.Fn(`demo/echo`, echo),
		host.Fn(`demo/time`, now),
		host.Proc(`demo/log`, note),
	))

	stop, err := devwatch.Watch(wwwDir, func(path string) {
		zlog.Ctx(ctx).Info().Str(`path`, path).Msg(`document changed`)
		pages.notify(`bridge/reload`, map[string]string{`path`: path})
		msg := &sse.Message{}
		msg.AppendData(path)
		_ = events.Publish(msg)
	}, devwatch.Include(`*.html`, `*.css`, `*.js`))
	if err != nil {
		return err
	}
	defer stop()

	lr, err := listen(ctx)
	if err != nil {
		return err
	}
	var svr http.Server
	svr.Handler = mux
	go func() {
		<-ctx.Done()
		_ = svr.Shutdown(context.Background())
	}()
	zlog.Ctx(ctx).Info().Str(`address`, lr.Addr().String()).Msg(`starting demo bridge host`)
	err = svr.Serve(lr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// listen opens either a local TCP socket or a tsnet listener, mirroring the
// demo's two deployment modes.
func listen(ctx context.Context) (net.Listener, error) {
	if tailscaleHostname != `` {
		ts := &tsnet.Server{Hostname: tailscaleHostname, Dir: tailscaleDir}
		_, err := ts.Up(ctx)
		if err != nil {
			return nil, err
		}
		if noTailscaleTLS {
			return ts.Listen(`tcp`, `:80`)
		}
		return ts.ListenTLS(`tcp`, `:443`)
	}
	if listenAddress == `` {
		listenAddress = `localhost:8080`
	}
	var lcf net.ListenConfig
	return lcf.Listen(ctx, `tcp`, listenAddress)
}

// pageSet tracks connected pages so document changes can be broadcast.
type pageSet struct {
	mu  sync.Mutex
	set map[*host.Conn]struct{}
}

func (p *pageSet) track(conn *host.Conn) {
	p.mu.Lock()
	p.set[conn] = struct{}{}
	p.mu.Unlock()
	go func() {
		<-conn.Done()
		p.mu.Lock()
		delete(p.set, conn)
		p.mu.Unlock()
	}()
}

func (p *pageSet) notify(method string, params any) {
	p.mu.Lock()
	conns := make([]*host.Conn, 0, len(p.set))
	for conn := range p.set {
		conns = append(conns, conn)
	}
	p.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Notify(method, params)
	}
}

func echo(_ *host.Scope, in struct {
	Message string `json:"message"`
}) (out struct {
	Message string `json:"message"`
}, err error) {
	out.Message = in.Message
	return
}

func now(_ *host.Scope, _ struct{}) (out struct {
	Time string `json:"time"`
}, err error) {
	out.Time = time.Now().Format(time.RFC3339)
	return
}

func note(ctx *host.Scope, in struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}) {
	zlog.Ctx(ctx).Info().Str(`level`, in.Level).Msg(fmt.Sprintf(`page: %s`, in.Message))
}

var (
	wwwDir        = `demo/www`
	listenAddress string

	tailscaleHostname string
	tailscaleDir      string
	noTailscaleTLS    bool
)
