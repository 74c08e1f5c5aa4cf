package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/tinylib/msgp/msgp"
)

// A Codec converts envelopes to and from transport frames.  Transports that
// carry text use JSON; transports that prefer compact binary frames use
// Msgpack.
type Codec interface {
	Encode(*Envelope) ([]byte, error)
	Decode([]byte) (*Envelope, error)
}

// JSON is the default codec; frames are UTF-8 JSON documents.
type JSON struct{}

func (JSON) Encode(env *Envelope) ([]byte, error) { return json.Marshal(env) }

func (JSON) Decode(bin []byte) (*Envelope, error) {
	env := new(Envelope)
	if err := json.Unmarshal(bin, env); err != nil {
		return nil, fmt.Errorf(`%w while decoding envelope`, err)
	}
	return env, nil
}

// Msgpack encodes envelopes as MessagePack maps keyed by the JSON member
// names.  Absent members are omitted from the map, preserving the
// absent-vs-null distinction the id member depends on.
type Msgpack struct{}

func (Msgpack) Encode(env *Envelope) ([]byte, error) {
	var sz uint32 = 1 // jsonrpc
	if env.Method != `` {
		sz++
	}
	if env.Params != nil {
		sz++
	}
	if len(env.ID) > 0 {
		sz++
	}
	if env.Result != nil {
		sz++
	}
	if env.Error != nil {
		sz++
	}
	bin := msgp.AppendMapHeader(nil, sz)
	bin = msgp.AppendString(bin, `jsonrpc`)
	bin = msgp.AppendString(bin, env.JSONRPC)
	var err error
	if env.Method != `` {
		bin = msgp.AppendString(bin, `method`)
		bin = msgp.AppendString(bin, env.Method)
	}
	if env.Params != nil {
		bin = msgp.AppendString(bin, `params`)
		bin, err = msgp.AppendIntf(bin, env.Params)
		if err != nil {
			return nil, fmt.Errorf(`%w while encoding params`, err)
		}
	}
	if len(env.ID) > 0 {
		var id any
		if err = json.Unmarshal(env.ID, &id); err != nil {
			return nil, fmt.Errorf(`%w while encoding id`, err)
		}
		bin = msgp.AppendString(bin, `id`)
		bin, err = msgp.AppendIntf(bin, id)
		if err != nil {
			return nil, fmt.Errorf(`%w while encoding id`, err)
		}
	}
	if env.Result != nil {
		bin = msgp.AppendString(bin, `result`)
		bin, err = msgp.AppendIntf(bin, env.Result)
		if err != nil {
			return nil, fmt.Errorf(`%w while encoding result`, err)
		}
	}
	if env.Error != nil {
		bin = msgp.AppendString(bin, `error`)
		bin = msgp.AppendMapHeader(bin, errorSize(env.Error))
		bin = msgp.AppendString(bin, `code`)
		bin = msgp.AppendInt(bin, env.Error.Code)
		bin = msgp.AppendString(bin, `message`)
		bin = msgp.AppendString(bin, env.Error.Message)
		if env.Error.Data != nil {
			bin = msgp.AppendString(bin, `data`)
			bin, err = msgp.AppendIntf(bin, env.Error.Data)
			if err != nil {
				return nil, fmt.Errorf(`%w while encoding error data`, err)
			}
		}
	}
	return bin, nil
}

func errorSize(e *Error) uint32 {
	if e.Data != nil {
		return 3
	}
	return 2
}

func (Msgpack) Decode(bin []byte) (*Envelope, error) {
	sz, bin, err := msgp.ReadMapHeaderBytes(bin)
	if err != nil {
		return nil, fmt.Errorf(`%w while decoding envelope`, err)
	}
	env := new(Envelope)
	for i := uint32(0); i < sz; i++ {
		var key string
		key, bin, err = msgp.ReadStringBytes(bin)
		if err != nil {
			return nil, fmt.Errorf(`%w while decoding envelope key`, err)
		}
		switch key {
		case `jsonrpc`:
			env.JSONRPC, bin, err = msgp.ReadStringBytes(bin)
		case `method`:
			env.Method, bin, err = msgp.ReadStringBytes(bin)
		case `params`:
			env.Params, bin, err = msgp.ReadIntfBytes(bin)
		case `id`:
			var id any
			id, bin, err = msgp.ReadIntfBytes(bin)
			if err == nil {
				env.ID, err = json.Marshal(id) // nil becomes an explicit null
			}
		case `result`:
			env.Result, bin, err = msgp.ReadIntfBytes(bin)
		case `error`:
			var raw any
			raw, bin, err = msgp.ReadIntfBytes(bin)
			if err == nil {
				env.Error, err = decodeError(raw)
			}
		default:
			_, bin, err = msgp.ReadIntfBytes(bin) // skip unknown members
		}
		if err != nil {
			return nil, fmt.Errorf(`%w while decoding envelope member %q`, err, key)
		}
	}
	return env, nil
}

func decodeError(raw any) (*Error, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf(`error member is %T, not a map`, raw)
	}
	e := new(Error)
	switch code := obj[`code`].(type) {
	case int64:
		e.Code = int(code)
	case uint64:
		e.Code = int(code)
	case float64:
		e.Code = int(code)
	case nil:
		return nil, fmt.Errorf(`error member has no code`)
	default:
		return nil, fmt.Errorf(`error code is %T, not a number`, code)
	}
	e.Message, _ = obj[`message`].(string)
	e.Data = obj[`data`]
	return e, nil
}
