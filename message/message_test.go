package message

import (
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/wsmq-io/wsmq/buffer"
)

func buildSample() *Message {
	m := New()
	m.Routing.Set("cid", "1234")
	m.Routing.Set("op", "echo")
	m.Headers.Set("content-type", "text/plain")
	m.Content = buffer.FromBytes([]byte("hello, world"))
	return m
}

func TestFlags(t *testing.T) {
	m := New()
	if m.HasFlag(FlagValid) {
		t.Fatal("new message should not start with FlagValid set")
	}
	m.SetFlag(FlagValid)
	if !m.HasFlag(FlagValid) {
		t.Fatal("SetFlag did not set FlagValid")
	}
	m.SetFlag(FlagPriority)
	if !m.HasFlag(FlagValid) || !m.HasFlag(FlagPriority) {
		t.Fatal("SetFlag cleared an unrelated flag")
	}
	m.ClearFlag(FlagValid)
	if m.HasFlag(FlagValid) {
		t.Fatal("ClearFlag did not clear FlagValid")
	}
	if !m.HasFlag(FlagPriority) {
		t.Fatal("ClearFlag cleared an unrelated flag")
	}
}

func TestEqual(t *testing.T) {
	a := buildSample()
	b := buildSample()
	if !a.Equal(b) {
		t.Fatalf("expected equal messages, got:\n%s\n%s", spew.Sdump(a), spew.Sdump(b))
	}
	b.Headers.Set("content-type", "application/octet-stream")
	if a.Equal(b) {
		t.Fatal("messages with different headers compared equal")
	}
}
