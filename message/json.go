package message

import (
	"encoding/base64"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/wsmq-io/wsmq/buffer"
	"github.com/wsmq-io/wsmq/omap"
	"github.com/wsmq-io/wsmq/wsproto"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeJSON serializes m as a JSON object with keys "routing", "headers",
// "content" in that order; content is base64-encoded since JSON has no
// binary type. It is the wire format carried by TEXT frames.
func EncodeJSON(m *Message) ([]byte, error) {
	stream := jsoniter.NewStream(jsonAPI, nil, 256)

	stream.WriteObjectStart()

	stream.WriteObjectField(keyRouting)
	writeStringMap(stream, m.Routing)
	stream.WriteMore()

	stream.WriteObjectField(keyHeaders)
	writeStringMap(stream, m.Headers)
	stream.WriteMore()

	stream.WriteObjectField(keyContent)
	stream.WriteString(base64.StdEncoding.EncodeToString(m.Content.Bytes()))

	stream.WriteObjectEnd()

	if stream.Error != nil {
		return nil, wsproto.WrapError(wsproto.ErrCodeCodec, "json: encode", stream.Error)
	}
	out := append([]byte(nil), stream.Buffer()...)
	return out, nil
}

func writeStringMap(stream *jsoniter.Stream, m *omap.Map) {
	stream.WriteObjectStart()
	first := true
	m.Each(func(k, v string) {
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(k)
		stream.WriteString(v)
	})
	stream.WriteObjectEnd()
}

// DecodeJSON parses a JSON-encoded Message produced by EncodeJSON. On
// success it returns a Message with FlagValid set. On failure it still
// returns a non-nil, partially populated Message along with a
// *wsproto.Error{Code: ErrCodeCodec}.
func DecodeJSON(data []byte) (*Message, error) {
	m := New()
	m.Format = JSON

	seen := map[string]bool{}
	order := make([]string, 0, 3)

	iter := jsoniter.ParseBytes(jsonAPI, data)
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		switch field {
		case keyRouting:
			if !readStringMap(it, m.Routing) {
				return false
			}
		case keyHeaders:
			if !readStringMap(it, m.Headers) {
				return false
			}
		case keyContent:
			s := it.ReadString()
			if it.Error != nil {
				return false
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				it.ReportError("content", "invalid base64")
				return false
			}
			m.Content = buffer.FromBytes(raw)
		default:
			it.ReportError(field, "unknown top-level key")
			return false
		}
		seen[field] = true
		order = append(order, field)
		return true
	})

	if iter.Error != nil && iter.Error != io.EOF {
		return m, wsproto.WrapError(wsproto.ErrCodeCodec, "json: decode", iter.Error)
	}
	if len(order) != 3 || !seen[keyRouting] || !seen[keyHeaders] || !seen[keyContent] {
		return m, wsproto.NewError(wsproto.ErrCodeCodec, "json: top-level object must have exactly routing, headers, content")
	}

	m.SetFlag(FlagValid)
	return m, nil
}

func readStringMap(it *jsoniter.Iterator, into *omap.Map) bool {
	ok := true
	it.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		v := it.ReadString()
		if it.Error != nil {
			ok = false
			return false
		}
		into.Set(field, v)
		return true
	})
	return ok && it.Error == nil
}
