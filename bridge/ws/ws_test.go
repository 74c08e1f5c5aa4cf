package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// echoServer accepts one websocket and echoes every frame back unchanged.
func echoServer(t *testing.T) string {
	t.Helper()
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.CloseNow() }()
		conn.SetReadLimit(-1)
		for {
			mt, bin, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			if err = conn.Write(r.Context(), mt, bin); err != nil {
				return
			}
		}
	}))
	t.Cleanup(svr.Close)
	return `ws://` + strings.TrimPrefix(svr.URL, `http://`)
}

func TestTextFramesRoundTrip(t *testing.T) {
	testRoundTrip(t)
}

func TestBinaryFramesRoundTrip(t *testing.T) {
	testRoundTrip(t, Binary())
}

func testRoundTrip(t *testing.T, options ...Option) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	tr, err := Dial(ctx, echoServer(t), options...)
	if err != nil {
		t.Fatalf(`could not dial: %v`, err)
	}
	defer func() { _ = tr.Close() }()

	got := make(chan *protocol.Envelope, 1)
	stop, err := tr.Subscribe(func(env *protocol.Envelope) { got <- env })
	if err != nil {
		t.Fatalf(`subscribe failed: %v`, err)
	}
	defer stop()

	env := &protocol.Envelope{
		JSONRPC: `2.0`,
		Method:  `foo/bar`,
		ID:      protocol.StringID(`call-1`),
		Params:  map[string]any{`greeting`: `hello`},
	}
	if err = tr.Deliver(env); err != nil {
		t.Fatalf(`deliver failed: %v`, err)
	}
	select {
	case ret := <-got:
		if ret.Method != `foo/bar` || ret.CorrelationKey() != env.CorrelationKey() {
			t.Fatalf(`lost envelope members: %+v`, ret)
		}
		params, ok := ret.Params.(map[string]any)
		if !ok || params[`greeting`] != `hello` {
			t.Fatalf(`lost params: %#v`, ret.Params)
		}
	case <-time.After(time.Second * 5):
		t.Fatalf(`the echo never arrived`)
	}
}

func TestCloseStopsThePump(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	tr, err := Dial(ctx, echoServer(t))
	if err != nil {
		t.Fatalf(`could not dial: %v`, err)
	}
	stop, err := tr.Subscribe(func(*protocol.Envelope) {})
	if err != nil {
		t.Fatalf(`subscribe failed: %v`, err)
	}
	defer stop()
	if err = tr.Close(); err != nil && websocket.CloseStatus(err) < 0 {
		t.Fatalf(`close failed: %v`, err)
	}
	select {
	case <-tr.Done():
	case <-time.After(time.Second * 5):
		t.Fatalf(`the read pump never exited`)
	}
}

func TestSecondSubscriberIsRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	tr, err := Dial(ctx, echoServer(t))
	if err != nil {
		t.Fatalf(`could not dial: %v`, err)
	}
	defer func() { _ = tr.Close() }()
	stop, err := tr.Subscribe(func(*protocol.Envelope) {})
	if err != nil {
		t.Fatalf(`subscribe failed: %v`, err)
	}
	defer stop()
	if _, err = tr.Subscribe(func(*protocol.Envelope) {}); err == nil {
		t.Fatalf(`expected the second subscriber to be rejected`)
	}
}
