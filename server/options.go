package server

import (
	"time"

	"github.com/wsmq-io/wsmq/internal/logging"
)

// Default tuning values used whenever the corresponding Options field is
// left at its zero value, mirroring the teacher's "0 means use internal
// default" Options convention.
const (
	DefaultNumWorkers       = 10
	DefaultBacklog          = 128
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultIdleTimeout      = 2 * time.Minute
	DefaultHighWaterMark    = 4 << 20 // 4 MiB of unconsumed ingress before read-readiness is disabled
	DefaultLowWaterMark     = 1 << 20
	DefaultShutdownGrace    = 2 * time.Second
)

// Options configures a Server. A zero value is valid; every field left at
// its zero value resolves to the Default* constant above when New builds
// the Server, except MaxConnections and AcceptRate, for which zero means
// unlimited.
type Options struct {
	// NumWorkers is the number of worker goroutines dequeuing from the
	// sharded request channels. 0 means DefaultNumWorkers.
	NumWorkers int

	// Backlog is the listen() backlog passed to the kernel. 0 means
	// DefaultBacklog.
	Backlog int

	// MaxConnections caps concurrently open connections. 0 means
	// unlimited.
	MaxConnections int

	// AcceptRate, if positive, limits how many new connections per second
	// the I/O thread will accept. 0 means unlimited.
	AcceptRate float64

	// HandshakeTimeout is the time allowed for a connection in HTTP_WAIT.
	// 0 means DefaultHandshakeTimeout. The value is resolved but the
	// server does not enforce it: no connection is torn down for staying
	// in HTTP_WAIT.
	HandshakeTimeout time.Duration

	// IdleTimeout is the idle period allowed once past the handshake. 0
	// means DefaultIdleTimeout; a negative value is kept as is. The value
	// is resolved but the server does not enforce it: no connection is
	// torn down for being idle.
	IdleTimeout time.Duration

	// HighWaterMark/LowWaterMark bound per-connection ingress buffering:
	// read-readiness is disabled once buffered-and-unconsumed bytes exceed
	// HighWaterMark, and re-enabled once it falls back to LowWaterMark. 0
	// means the Default* constants.
	HighWaterMark int
	LowWaterMark  int

	// ShutdownGrace bounds how long Stop waits for in-flight CLOSE replies
	// before forcing socket teardown. 0 means DefaultShutdownGrace.
	ShutdownGrace time.Duration

	// Logger receives lifecycle, protocol, and per-message logging. A nil
	// Logger uses logging.Default().
	Logger *logging.Logger
}

func (o Options) withDefaults() Options {
	if o.NumWorkers <= 0 {
		o.NumWorkers = DefaultNumWorkers
	}
	if o.Backlog <= 0 {
		o.Backlog = DefaultBacklog
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.HighWaterMark <= 0 {
		o.HighWaterMark = DefaultHighWaterMark
	}
	if o.LowWaterMark <= 0 {
		o.LowWaterMark = DefaultLowWaterMark
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	return o
}
