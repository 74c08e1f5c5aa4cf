package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		want    Kind
		wantErr bool
	}{
		{name: "notification", env: Envelope{JSONRPC: `2.0`, Method: `foo/bar`}, want: Notification},
		{name: "request", env: Envelope{JSONRPC: `2.0`, Method: `foo/bar`, ID: StringID(`1`)}, want: Request},
		{name: "null id is a notification", env: Envelope{JSONRPC: `2.0`, Method: `foo/bar`, ID: json.RawMessage(`null`)}, want: Notification},
		{name: "response", env: Envelope{JSONRPC: `2.0`, ID: StringID(`1`), Result: map[string]any{`ok`: true}}, want: Response},
		{name: "response with both members stays a response", env: Envelope{JSONRPC: `2.0`, ID: StringID(`1`), Result: true, Error: &Error{Code: 1}}, want: Response},
		{name: "response with neither member stays a response", env: Envelope{JSONRPC: `2.0`, ID: StringID(`1`)}, want: Response},
		{name: "missing version", env: Envelope{Method: `foo/bar`}, wantErr: true},
		{name: "wrong version", env: Envelope{JSONRPC: `1.0`, Method: `foo/bar`}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := tc.env.Classify()
			if tc.wantErr {
				var violation *ViolationError
				if !errors.As(err, &violation) {
					t.Fatalf(`expected a violation, got kind %v, err %v`, kind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf(`unexpected error %v`, err)
			}
			if kind != tc.want {
				t.Fatalf(`expected %v, got %v`, tc.want, kind)
			}
		})
	}
}

func TestIDPresence(t *testing.T) {
	env := Envelope{JSONRPC: `2.0`}
	if env.HasID() || env.NullID() {
		t.Fatalf(`an absent id should be neither present nor null`)
	}
	env.ID = json.RawMessage(`null`)
	if env.HasID() {
		t.Fatalf(`a null id should not count as present`)
	}
	if !env.NullID() {
		t.Fatalf(`a null id should report as null`)
	}
	env.ID = StringID(`abc`)
	if !env.HasID() || env.NullID() {
		t.Fatalf(`a string id should count as present`)
	}
}

func TestNormalizeDefaultsVersion(t *testing.T) {
	env := Envelope{Method: `foo/bar`}
	env.Normalize()
	if env.JSONRPC != Version {
		t.Fatalf(`expected %q, got %q`, Version, env.JSONRPC)
	}
	env = Envelope{JSONRPC: `1.0`}
	env.Normalize()
	if env.JSONRPC != `1.0` {
		t.Fatalf(`normalize should not overwrite an explicit version`)
	}
}

func TestMsgpackCodec(t *testing.T) {
	codec := Msgpack{}
	env := &Envelope{
		JSONRPC: `2.0`,
		Method:  `foo/bar`,
		Params:  map[string]any{`greeting`: `hello`, `count`: int64(2)},
		ID:      StringID(`call-1`),
	}
	bin, err := codec.Encode(env)
	if err != nil {
		t.Fatalf(`encode failed: %v`, err)
	}
	ret, err := codec.Decode(bin)
	if err != nil {
		t.Fatalf(`decode failed: %v`, err)
	}
	if ret.JSONRPC != `2.0` || ret.Method != `foo/bar` {
		t.Fatalf(`lost envelope members: %+v`, ret)
	}
	if ret.CorrelationKey() != env.CorrelationKey() {
		t.Fatalf(`id %s does not correlate with %s`, ret.ID, env.ID)
	}
	params, ok := ret.Params.(map[string]any)
	if !ok || params[`greeting`] != `hello` {
		t.Fatalf(`lost params: %#v`, ret.Params)
	}
}

func TestMsgpackCodecErrorResponse(t *testing.T) {
	codec := Msgpack{}
	env := &Envelope{
		JSONRPC: `2.0`,
		ID:      json.RawMessage(`null`),
		Error:   &Error{Code: CodeInvalidRequest, Message: `invalid request`},
	}
	bin, err := codec.Encode(env)
	if err != nil {
		t.Fatalf(`encode failed: %v`, err)
	}
	ret, err := codec.Decode(bin)
	if err != nil {
		t.Fatalf(`decode failed: %v`, err)
	}
	if !ret.NullID() {
		t.Fatalf(`expected a null id, got %s`, ret.ID)
	}
	if ret.Error == nil || ret.Error.Code != CodeInvalidRequest {
		t.Fatalf(`lost error member: %+v`, ret.Error)
	}
}
