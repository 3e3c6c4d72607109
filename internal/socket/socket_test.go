package socket

import (
	"net"
	"testing"
	"time"
)

func TestWrapReadWriteTimeout(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sa := Wrap(a)
	sb := Wrap(b)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 5)
		n, err := sb.ReadTimeout(buf, time.Second)
		if err != nil || n != 5 || string(buf) != "hello" {
			t.Errorf("ReadTimeout got (%d, %v, %q), want (5, nil, hello)", n, err, buf[:n])
		}
	}()

	if _, err := sa.WriteTimeout([]byte("hello"), time.Second); err != nil {
		t.Fatalf("WriteTimeout: %v", err)
	}
	<-done
}

func TestReadTimeoutExpires(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	sb := Wrap(b)
	buf := make([]byte, 5)
	_, err := sb.ReadTimeout(buf, 20*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !IsTimeout(err) {
		t.Fatalf("IsTimeout(%v) = false, want true", err)
	}
}

func TestCloseUnblocksPeer(t *testing.T) {
	a, b := net.Pipe()
	sa := Wrap(a)
	sb := Wrap(b)

	if err := sa.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	buf := make([]byte, 1)
	if _, err := sb.ReadTimeout(buf, time.Second); err == nil {
		t.Fatal("expected a read error after the peer closed")
	}
}
