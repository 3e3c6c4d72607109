package omap

import (
	"reflect"
	"testing"
)

func TestSetGetOrder(t *testing.T) {
	m := New()
	m.Set("to", "mike")
	m.Set("id", "test")
	m.Set("to", "steve") // update, position unchanged

	if got := m.Keys(); !reflect.DeepEqual(got, []string{"to", "id"}) {
		t.Fatalf("Keys() = %v, want [to id]", got)
	}
	v, ok := m.Get("to")
	if !ok || v != "steve" {
		t.Fatalf("Get(to) = (%q, %v), want (steve, true)", v, ok)
	}
}

func TestRemove(t *testing.T) {
	m := New()
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("c", "3")
	m.Remove("b")
	if got := m.Keys(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Fatalf("Keys() after remove = %v, want [a c]", got)
	}
	if _, ok := m.Get("b"); ok {
		t.Fatal("Get(b) still present after Remove")
	}
	m.Remove("nonexistent") // no-op, must not panic
}

func TestEachOrder(t *testing.T) {
	m := New()
	order := []string{"z", "a", "m"}
	for _, k := range order {
		m.Set(k, k+k)
	}
	var seen []string
	m.Each(func(k, v string) {
		if v != k+k {
			t.Fatalf("value for %q = %q, want %q", k, v, k+k)
		}
		seen = append(seen, k)
	})
	if !reflect.DeepEqual(seen, order) {
		t.Fatalf("Each order = %v, want %v", seen, order)
	}
}

func TestEqualIgnoresInsertionOrder(t *testing.T) {
	a := New()
	a.Set("x", "1")
	a.Set("y", "2")

	b := New()
	b.Set("y", "2")
	b.Set("x", "1")

	if !a.Equal(b) {
		t.Fatal("expected maps with same pairs in different order to be Equal")
	}

	b.Set("z", "3")
	if a.Equal(b) {
		t.Fatal("expected maps with different sizes to not be Equal")
	}
}

func TestGetFold(t *testing.T) {
	m := New()
	m.Set("Sec-WebSocket-Key", "abc")
	if got := m.GetFold("sec-websocket-key"); got != "abc" {
		t.Fatalf("GetFold(lowercase) = %q, want abc", got)
	}
	if got := m.GetFold("missing"); got != "" {
		t.Fatalf("GetFold(missing) = %q, want empty string", got)
	}
}

func TestClone(t *testing.T) {
	a := New()
	a.Set("k", "v")
	b := a.Clone()
	b.Set("k", "changed")
	if v, _ := a.Get("k"); v != "v" {
		t.Fatalf("Clone shares state with original: a[k] = %q", v)
	}
}
