package message

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wsmq-io/wsmq/buffer"
	"github.com/wsmq-io/wsmq/wsproto"
)

func TestMPACKRoundTrip(t *testing.T) {
	orig := buildSample()
	wire, err := EncodeMPACK(orig)
	if err != nil {
		t.Fatalf("EncodeMPACK: %v", err)
	}
	got, err := DecodeMPACK(wire)
	if err != nil {
		t.Fatalf("DecodeMPACK: %v", err)
	}
	if !got.HasFlag(FlagValid) {
		t.Fatal("decoded message missing FlagValid")
	}
	if !got.Equal(orig) {
		t.Fatalf("round trip mismatch:\nwant %s\ngot  %s", spew.Sdump(orig), spew.Sdump(got))
	}
}

func TestMPACKRoundTripEmpty(t *testing.T) {
	orig := New()
	wire, err := EncodeMPACK(orig)
	if err != nil {
		t.Fatalf("EncodeMPACK: %v", err)
	}
	got, err := DecodeMPACK(wire)
	if err != nil {
		t.Fatalf("DecodeMPACK: %v", err)
	}
	if !got.Equal(orig) {
		t.Fatal("round trip of empty message mismatched")
	}
}

func TestMPACKDecodeRejectsUnknownTopLevelKey(t *testing.T) {
	m := buildSample()
	wire, err := EncodeMPACK(m)
	if err != nil {
		t.Fatalf("EncodeMPACK: %v", err)
	}
	// Corrupt the first top-level key's first byte so it no longer reads
	// as "routing". The fixstr length byte is immediately followed by the
	// ASCII bytes; flipping a letter keeps the length intact but changes
	// the string.
	for i, b := range wire {
		if b == 'r' {
			wire[i] = 'x'
			break
		}
	}
	got, err := DecodeMPACK(wire)
	if err == nil {
		t.Fatal("expected an error decoding a corrupted top-level key")
	}
	if e, ok := wsproto.AsError(err); !ok || e.Code != wsproto.ErrCodeCodec {
		t.Fatalf("err = %v, want *wsproto.Error{Code: ErrCodeCodec}", err)
	}
	if got == nil || got.HasFlag(FlagValid) {
		t.Fatal("a failed decode must return a non-nil message without FlagValid set")
	}
}

// TestMPACKDecodeToleratesKeyOrder checks spec §4.4's "decode tolerates
// any order" rule: a map with content written before routing/headers must
// still decode successfully to the same logical message.
func TestMPACKDecodeToleratesKeyOrder(t *testing.T) {
	orig := buildSample()

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(3); err != nil {
		t.Fatalf("EncodeMapLen: %v", err)
	}
	if err := enc.EncodeString(keyContent); err != nil {
		t.Fatalf("EncodeString content key: %v", err)
	}
	if err := enc.EncodeBytes(orig.Content.Bytes()); err != nil {
		t.Fatalf("EncodeBytes content: %v", err)
	}
	if err := encodeStringMap(enc, keyHeaders, orig.Headers); err != nil {
		t.Fatalf("encodeStringMap headers: %v", err)
	}
	if err := encodeStringMap(enc, keyRouting, orig.Routing); err != nil {
		t.Fatalf("encodeStringMap routing: %v", err)
	}

	got, err := DecodeMPACK(buf.Bytes())
	if err != nil {
		t.Fatalf("DecodeMPACK of out-of-order map: %v", err)
	}
	if !got.HasFlag(FlagValid) {
		t.Fatal("decoded message missing FlagValid")
	}
	if !got.Equal(orig) {
		t.Fatalf("out-of-order decode mismatch:\nwant %s\ngot  %s", spew.Sdump(orig), spew.Sdump(got))
	}
}

func TestMPACKContentIsBinarySafe(t *testing.T) {
	orig := New()
	orig.Content = buffer.FromBytes([]byte{0x00, 0xFF, 0x10, 0x00, 0x20})
	wire, err := EncodeMPACK(orig)
	if err != nil {
		t.Fatalf("EncodeMPACK: %v", err)
	}
	got, err := DecodeMPACK(wire)
	if err != nil {
		t.Fatalf("DecodeMPACK: %v", err)
	}
	if !got.Equal(orig) {
		t.Fatal("binary content was not preserved across MPACK round trip")
	}
}
