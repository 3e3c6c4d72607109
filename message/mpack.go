package message

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/wsmq-io/wsmq/buffer"
	"github.com/wsmq-io/wsmq/omap"
	"github.com/wsmq-io/wsmq/wsproto"
)

// keyRouting, keyHeaders, keyContent are the three top-level keys of the
// wire container. Encode always writes them in this order; decode accepts
// them in any order but rejects anything else, or any of the three missing
// or repeated — the schema is fixed, not extensible.
const (
	keyRouting = "routing"
	keyHeaders = "headers"
	keyContent = "content"
)

// EncodeMPACK serializes m as a MessagePack map with keys "routing",
// "headers", "content" in that order. It is the wire format carried by
// BINARY frames.
func EncodeMPACK(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeMapLen(3); err != nil {
		return nil, wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: encode map header", err)
	}
	if err := encodeStringMap(enc, keyRouting, m.Routing); err != nil {
		return nil, err
	}
	if err := encodeStringMap(enc, keyHeaders, m.Headers); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(keyContent); err != nil {
		return nil, wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: encode content key", err)
	}
	if err := enc.EncodeBytes(m.Content.Bytes()); err != nil {
		return nil, wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: encode content value", err)
	}
	return buf.Bytes(), nil
}

func encodeStringMap(enc *msgpack.Encoder, key string, m *omap.Map) error {
	if err := enc.EncodeString(key); err != nil {
		return wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: encode key "+key, err)
	}
	if err := enc.EncodeMapLen(m.Len()); err != nil {
		return wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: encode nested map header for "+key, err)
	}
	var encErr error
	m.Each(func(k, v string) {
		if encErr != nil {
			return
		}
		if err := enc.EncodeString(k); err != nil {
			encErr = err
			return
		}
		if err := enc.EncodeString(v); err != nil {
			encErr = err
		}
	})
	if encErr != nil {
		return wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: encode nested map entry for "+key, encErr)
	}
	return nil
}

// DecodeMPACK parses a MessagePack-encoded Message produced by EncodeMPACK.
// On success it returns a Message with FlagValid set. On failure it still
// returns a non-nil, partially populated Message — safe to discard — along
// with a *wsproto.Error{Code: ErrCodeCodec}.
func DecodeMPACK(data []byte) (*Message, error) {
	m := New()
	m.Format = MPACK

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return m, wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: decode map header", err)
	}
	if n != 3 {
		return m, wsproto.NewError(wsproto.ErrCodeCodec, "mpack: top-level map must have exactly 3 keys")
	}

	seen := make(map[string]bool, 3)
	for i := 0; i < 3; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return m, wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: decode top-level key", err)
		}
		switch key {
		case keyRouting:
			if err := decodeStringMap(dec, m.Routing); err != nil {
				return m, err
			}
		case keyHeaders:
			if err := decodeStringMap(dec, m.Headers); err != nil {
				return m, err
			}
		case keyContent:
			content, err := dec.DecodeBytes()
			if err != nil {
				return m, wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: decode content", err)
			}
			m.Content = buffer.FromBytes(content)
		default:
			return m, wsproto.NewError(wsproto.ErrCodeCodec, "mpack: unknown top-level key "+key)
		}
		if seen[key] {
			return m, wsproto.NewError(wsproto.ErrCodeCodec, "mpack: duplicate top-level key "+key)
		}
		seen[key] = true
	}

	if !seen[keyRouting] || !seen[keyHeaders] || !seen[keyContent] {
		return m, wsproto.NewError(wsproto.ErrCodeCodec, "mpack: top-level map must have routing, headers, and content")
	}

	m.SetFlag(FlagValid)
	return m, nil
}

func decodeStringMap(dec *msgpack.Decoder, into *omap.Map) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: decode nested map header", err)
	}
	for i := 0; i < n; i++ {
		k, err := dec.DecodeString()
		if err != nil {
			return wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: decode nested key", err)
		}
		v, err := dec.DecodeString()
		if err != nil {
			return wsproto.WrapError(wsproto.ErrCodeCodec, "mpack: decode nested value", err)
		}
		into.Set(k, v)
	}
	return nil
}
