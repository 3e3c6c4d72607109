package buffer

import (
	"bytes"
	"testing"
)

func TestAppendAndBytes(t *testing.T) {
	b := New()
	b.Append([]byte("hello"))
	b.Append([]byte(", world"))
	if got := b.Bytes(); !bytes.Equal(got, []byte("hello, world")) {
		t.Fatalf("Bytes() = %q, want %q", got, "hello, world")
	}
	if b.Len() != len("hello, world") {
		t.Fatalf("Len() = %d, want %d", b.Len(), len("hello, world"))
	}
}

func TestDrain(t *testing.T) {
	b := New()
	b.Append([]byte("0123456789"))
	b.Drain(4)
	if got := string(b.Bytes()); got != "456789" {
		t.Fatalf("after Drain(4) = %q, want %q", got, "456789")
	}
	b.Drain(0)
	if got := string(b.Bytes()); got != "456789" {
		t.Fatalf("after Drain(0) = %q, want %q", got, "456789")
	}
	b.Drain(b.Len())
	if b.Len() != 0 {
		t.Fatalf("after draining all, Len() = %d, want 0", b.Len())
	}
}

func TestDrainOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic draining more than Len()")
		}
	}()
	b := New()
	b.Append([]byte("ab"))
	b.Drain(3)
}

func TestClear(t *testing.T) {
	b := New()
	b.Append([]byte("data"))
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("after Clear, Len() = %d, want 0", b.Len())
	}
}

func TestTake(t *testing.T) {
	b := New()
	b.Append([]byte("payload"))
	out := b.Take()
	if !bytes.Equal(out, []byte("payload")) {
		t.Fatalf("Take() = %q, want %q", out, "payload")
	}
	if b.Len() != 0 {
		t.Fatalf("after Take, Len() = %d, want 0", b.Len())
	}
}

func TestFromBytesCopies(t *testing.T) {
	src := []byte("original")
	b := FromBytes(src)
	src[0] = 'X'
	if string(b.Bytes()) != "original" {
		t.Fatalf("FromBytes aliased caller's slice: got %q", b.Bytes())
	}
}

func TestInterleavedAppendDrain(t *testing.T) {
	b := New()
	for i := 0; i < 3; i++ {
		b.Append([]byte("msg"))
		b.Drain(1)
	}
	if got := string(b.Bytes()); got != "msgmsg" {
		t.Fatalf("got %q, want %q", got, "msgmsg")
	}
}
