package message

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/wsmq-io/wsmq/buffer"
	"github.com/wsmq-io/wsmq/wsproto"
)

func TestJSONRoundTrip(t *testing.T) {
	orig := buildSample()
	wire, err := EncodeJSON(orig)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	got, err := DecodeJSON(wire)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !got.HasFlag(FlagValid) {
		t.Fatal("decoded message missing FlagValid")
	}
	if !got.Equal(orig) {
		t.Fatalf("round trip mismatch:\nwant %s\ngot  %s", spew.Sdump(orig), spew.Sdump(got))
	}
}

func TestJSONContentIsBinarySafe(t *testing.T) {
	orig := New()
	orig.Content = buffer.FromBytes([]byte{0x00, 0xFF, 0x10})
	wire, err := EncodeJSON(orig)
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	got, err := DecodeJSON(wire)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !got.Equal(orig) {
		t.Fatal("binary content was not preserved across JSON round trip")
	}
}

func TestJSONDecodeRejectsUnknownTopLevelKey(t *testing.T) {
	bad := []byte(`{"routing":{},"headers":{},"content":"","extra":true}`)
	got, err := DecodeJSON(bad)
	if err == nil {
		t.Fatal("expected an error decoding an object with an unknown top-level key")
	}
	if e, ok := wsproto.AsError(err); !ok || e.Code != wsproto.ErrCodeCodec {
		t.Fatalf("err = %v, want *wsproto.Error{Code: ErrCodeCodec}", err)
	}
	if got == nil || got.HasFlag(FlagValid) {
		t.Fatal("a failed decode must return a non-nil message without FlagValid set")
	}
}

func TestJSONDecodeRejectsMissingKey(t *testing.T) {
	bad := []byte(`{"routing":{},"headers":{}}`)
	_, err := DecodeJSON(bad)
	if err == nil {
		t.Fatal("expected an error decoding an object missing the content key")
	}
}

func TestJSONDecodeRejectsInvalidBase64(t *testing.T) {
	bad := []byte(`{"routing":{},"headers":{},"content":"not-base64!!"}`)
	_, err := DecodeJSON(bad)
	if err == nil {
		t.Fatal("expected an error decoding invalid base64 content")
	}
}
