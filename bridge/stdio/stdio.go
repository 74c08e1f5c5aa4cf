// Package stdio implements the bridge transport for native-messaging hosts
// that attach a byte stream to the document's native layer.  Each frame is a
// 32-bit little-endian length prefix followed by exactly that many bytes of
// JSON, the framing browsers use for native messaging hosts.
package stdio

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/podium-lib/bridge-go/bridge/protocol"
)

// DefaultMaxFrame bounds a single envelope frame in either direction.
const DefaultMaxFrame = 1 << 20 // 1 MiB

// New returns a transport over the given reader and writer, typically the
// stdin and stdout the browser attached to the native host process.
func New(r io.Reader, w io.Writer, options ...Option) *Transport {
	t := &Transport{
		r:    r,
		w:    w,
		max:  DefaultMaxFrame,
		log:  zerolog.Nop(),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// A Transport frames envelopes onto a byte stream.
type Transport struct {
	r   io.Reader
	w   io.Writer
	max uint32
	log zerolog.Logger

	sending  sync.Mutex // header and body of one frame must not interleave
	mu       sync.Mutex
	attached bool
	stop     chan struct{}
	done     chan struct{}
}

// Deliver frames one envelope onto the writer.
func (t *Transport) Deliver(env *protocol.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf(`%w while encoding envelope`, err)
	}
	if uint32(len(body)) > t.max {
		return fmt.Errorf(`envelope of %d bytes exceeds the %d byte frame limit`, len(body), t.max)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	t.sending.Lock()
	defer t.sending.Unlock()
	if _, err = t.w.Write(header[:]); err != nil {
		return err
	}
	_, err = t.w.Write(body)
	return err
}

// Subscribe starts the read pump.  The pump runs until the stream ends or the
// returned cancel is called; a cancel takes effect after the read in
// progress, since a blocked read on an arbitrary stream cannot be
// interrupted.
func (t *Transport) Subscribe(fn func(env *protocol.Envelope)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.attached {
		return nil, fmt.Errorf(`stdio transport already has a subscriber`)
	}
	t.attached = true
	go t.pump(fn)
	var once sync.Once
	return func() { once.Do(func() { close(t.stop) }) }, nil
}

// Done is closed when the read pump exits.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) pump(fn func(env *protocol.Envelope)) {
	defer close(t.done)
	var header [4]byte
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		if _, err := io.ReadFull(t.r, header[:]); err != nil {
			if err != io.EOF {
				t.log.Debug().Err(err).Msg(`bridge stream read failed`)
			}
			return
		}
		n := binary.LittleEndian.Uint32(header[:])
		if n > t.max {
			t.log.Error().Uint32(`size`, n).Msg(`inbound frame exceeds the frame limit`)
			return // the stream is no longer framed; nothing sane to resync on
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(t.r, body); err != nil {
			t.log.Debug().Err(err).Msg(`bridge stream truncated mid-frame`)
			return
		}
		env := new(protocol.Envelope)
		if err := json.Unmarshal(body, env); err != nil {
			t.log.Warn().Err(err).Msg(`dropped undecodable bridge frame`)
			continue
		}
		fn(env)
	}
}

// An Option adjusts a stdio transport during construction.
type Option func(*Transport)

// MaxFrame bounds the size of a single frame in either direction.
func MaxFrame(limit uint32) Option {
	return func(t *Transport) { t.max = limit }
}

// Logger sets the logger used for dropped frames and stream failures.
func Logger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}
