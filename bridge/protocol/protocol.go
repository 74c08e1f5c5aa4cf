// Package protocol defines the wire protocol for a subset of JSON-RPC 2.0
// exchanged between a web document and the host that embeds it, with the
// ambiguities of message shape resolved into an explicit Kind at the boundary.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only protocol version the bridge speaks.  Inbound envelopes
// carrying anything else are rejected; outbound envelopes are stamped with it
// when the caller left it empty.
const Version = `2.0`

// An Envelope is the wire unit for both directions.  Method is present iff the
// envelope is a request or notification; ID is present iff a response is
// expected or being delivered.  Params and Result pass through the bridge
// uninterpreted.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// An Error is the JSON-RPC error object carried by failed responses.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf(`%s (code %d)`, e.Message, e.Code)
}

// Error codes used by the bridge and its host peer.  The -327xx range is
// reserved by JSON-RPC 2.0; -32029 is ours.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeRateLimited    = -32029
)

// A Kind is the discriminant of an envelope, resolved once when the envelope
// crosses the transport boundary so everything behind it can switch
// exhaustively instead of re-checking field presence.
type Kind int

const (
	Invalid Kind = iota
	Notification
	Request
	Response
)

func (k Kind) String() string {
	switch k {
	case Notification:
		return `notification`
	case Request:
		return `request`
	case Response:
		return `response`
	default:
		return `invalid`
	}
}

// Classify validates the envelope's version tag and resolves its Kind.
// A well-formed response carries either Result or Error; one carrying both or
// neither is still classified as a response, since peers in the wild send
// such envelopes and callers must tolerate them.
func (e *Envelope) Classify() (Kind, error) {
	if e.JSONRPC != Version {
		return Invalid, &ViolationError{Reason: fmt.Sprintf(`version %q is not %q`, e.JSONRPC, Version)}
	}
	if e.Method != `` {
		if e.HasID() {
			return Request, nil
		}
		return Notification, nil
	}
	return Response, nil
}

// Normalize stamps the version tag onto an outbound envelope if the caller
// left it empty.
func (e *Envelope) Normalize() {
	if e.JSONRPC == `` {
		e.JSONRPC = Version
	}
}

// HasID reports whether the envelope carries an identifier.  An explicit JSON
// null does not count; per JSON-RPC 2.0 a null id marks an error response for
// a request whose id could not be recovered.
func (e *Envelope) HasID() bool {
	return len(e.ID) > 0 && !e.NullID()
}

// NullID reports whether the envelope carries an explicitly null identifier.
func (e *Envelope) NullID() bool {
	return bytes.Equal(e.ID, []byte(`null`))
}

// CorrelationKey returns the string used to match a response to its pending
// call.  The raw JSON bytes of the id are used directly so string and numeric
// ids both correlate without interpretation.
func (e *Envelope) CorrelationKey() string {
	return string(e.ID)
}

// StringID renders a string identifier as envelope ID bytes.
func StringID(id string) json.RawMessage {
	bin, err := json.Marshal(id)
	if err != nil {
		panic(err) // strings always marshal
	}
	return bin
}

// A ViolationError reports an inbound envelope that breaks a protocol
// invariant.  It is fatal to that single envelope, not to the bridge.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return `protocol violation: ` + e.Reason
}
