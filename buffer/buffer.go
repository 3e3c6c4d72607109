// Package buffer implements a growable byte buffer used for per-connection
// ingress/egress accumulation. Unlike bytes.Buffer it exposes Drain, which
// removes a prefix without requiring the caller to have consumed it via Read,
// and Take, which transfers ownership of the backing array out of the buffer.
package buffer

// Buffer is a contiguous byte array with a logical size that can be smaller
// than its capacity. It is not safe for concurrent use; callers that share a
// Buffer across goroutines must provide their own synchronization.
type Buffer struct {
	data []byte
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// FromBytes returns a Buffer that owns a copy of p.
func FromBytes(p []byte) *Buffer {
	b := &Buffer{data: make([]byte, len(p))}
	copy(b.data, p)
	return b
}

// Append copies p onto the end of the buffer, growing the backing array as
// needed.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Drain removes the first n bytes from the buffer. It panics if n is
// negative or greater than Len, since that indicates a caller accounting
// bug rather than a recoverable condition.
func (b *Buffer) Drain(n int) {
	if n < 0 || n > len(b.data) {
		panic("buffer: drain out of range")
	}
	if n == 0 {
		return
	}
	remaining := len(b.data) - n
	copy(b.data, b.data[n:])
	b.data = b.data[:remaining]
}

// Clear empties the buffer without releasing its backing array.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
}

// Take transfers ownership of the buffer's current contents to the caller
// and resets the buffer to empty. The returned slice must not be mutated by
// the buffer's owner afterward unless it re-appends via Append.
func (b *Buffer) Take() []byte {
	out := b.data
	b.data = nil
	return out
}

// Bytes returns the buffer's current contents. The returned slice aliases
// the buffer's backing array and is only valid until the next Append, Drain,
// Clear, or Take call.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int {
	return len(b.data)
}
