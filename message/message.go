// Package message implements the structured "VRTQL message": a routing map,
// a headers map, and a binary content payload, serializable to two
// interchangeable wire encodings (MessagePack and JSON). The container
// schema (exactly three top-level keys, in order "routing", "headers",
// "content") is specified here; the primitive encodings themselves are
// delegated to github.com/vmihailenco/msgpack/v5 and
// github.com/json-iterator/go.
package message

import (
	"github.com/wsmq-io/wsmq/buffer"
	"github.com/wsmq-io/wsmq/omap"
)

// Format records which wire encoding produced (or should reproduce) a
// Message. It becomes the default for re-encoding on the same connection,
// and is selected by transport opcode: BINARY <-> MPACK, TEXT <-> JSON.
type Format int

const (
	MPACK Format = iota
	JSON
)

func (f Format) String() string {
	if f == JSON {
		return "json"
	}
	return "mpack"
}

// Flag is a bit in a Message's status bitset.
type Flag uint8

const (
	// FlagValid is set after a successful decode and cleared after a
	// failed one. A freshly constructed Message also starts without it
	// set, since it has not been round-tripped through a codec yet.
	FlagValid Flag = 1 << iota
	FlagPriority
	FlagOutOfBand
)

// Message is the structured message container: routing and header maps
// plus a binary payload. It is created by its owner (client or server),
// mutated only by that owner, and carries no finalizer — Go's garbage
// collector reclaims it once unreferenced, which is what the spec's
// "destroyed by explicit free" lifecycle note reduces to in a GC'd host
// language.
type Message struct {
	Routing *omap.Map
	Headers *omap.Map
	Content *buffer.Buffer
	Flags   Flag
	Format  Format
}

// New returns an empty Message with empty routing/header maps and content,
// and no flags set.
func New() *Message {
	return &Message{
		Routing: omap.New(),
		Headers: omap.New(),
		Content: buffer.New(),
	}
}

// HasFlag reports whether f is set.
func (m *Message) HasFlag(f Flag) bool {
	return m.Flags&f != 0
}

// SetFlag sets f.
func (m *Message) SetFlag(f Flag) {
	m.Flags |= f
}

// ClearFlag clears f.
func (m *Message) ClearFlag(f Flag) {
	m.Flags &^= f
}

// Equal reports whether m and other carry the same routing, headers, and
// content; Format and Flags are metadata about how a message arrived, not
// part of its identity, and are not compared.
func (m *Message) Equal(other *Message) bool {
	if m == nil || other == nil {
		return m == other
	}
	if !m.Routing.Equal(other.Routing) || !m.Headers.Equal(other.Headers) {
		return false
	}
	a, b := m.Content, other.Content
	if a == nil || b == nil {
		return a == b
	}
	return string(a.Bytes()) == string(b.Bytes())
}
