package bridge

import "github.com/podium-lib/bridge-go/bridge/protocol"

// A Transport physically moves envelopes between the document and the host.
// It is the only component allowed to serialize envelopes or touch the host
// environment's message channel.
type Transport interface {
	// Deliver hands one outbound envelope to the host side.
	Deliver(env *protocol.Envelope) error

	// Subscribe registers the single inbound consumer for the transport's
	// lifetime and returns a cancellation handle that detaches it.
	Subscribe(fn func(env *protocol.Envelope)) (cancel func(), err error)
}

// Discard returns the transport used when no host bridge is detected, such as
// a document running in a plain browser tab: delivery is a silent no-op and
// no envelope ever arrives.
func Discard() Transport { return discard{} }

type discard struct{}

func (discard) Deliver(*protocol.Envelope) error { return nil }

func (discard) Subscribe(func(*protocol.Envelope)) (func(), error) {
	return func() {}, nil
}
