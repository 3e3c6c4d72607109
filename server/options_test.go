package server

import "testing"

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.NumWorkers != DefaultNumWorkers {
		t.Fatalf("NumWorkers = %d, want %d", o.NumWorkers, DefaultNumWorkers)
	}
	if o.Backlog != DefaultBacklog {
		t.Fatalf("Backlog = %d, want %d", o.Backlog, DefaultBacklog)
	}
	if o.MaxConnections != 0 {
		t.Fatalf("MaxConnections = %d, want 0 (unlimited)", o.MaxConnections)
	}
	if o.AcceptRate != 0 {
		t.Fatalf("AcceptRate = %v, want 0 (unlimited)", o.AcceptRate)
	}
	if o.Logger == nil {
		t.Fatal("Logger should default to a non-nil logger")
	}
}

func TestOptionsRespectsExplicitValues(t *testing.T) {
	o := Options{NumWorkers: 3, Backlog: 7, MaxConnections: 50}.withDefaults()
	if o.NumWorkers != 3 || o.Backlog != 7 || o.MaxConnections != 50 {
		t.Fatalf("explicit values were overridden: %+v", o)
	}
}
