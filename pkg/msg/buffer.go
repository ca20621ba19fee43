package msg

import "encoding/binary"

// Buffer is a growable byte sequence used as encode scratch space.
// Reset keeps the allocated capacity so one Buffer can serve many messages.
type Buffer struct {
	data []byte
}

// NewBuffer returns a Buffer with the given initial capacity.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Reserve guarantees at least n bytes of spare capacity, preserving content.
func (b *Buffer) Reserve(n int) {
	if cap(b.data)-len(b.data) >= n {
		return
	}
	newCap := 2 * cap(b.data)
	if newCap < len(b.data)+n {
		newCap = len(b.data) + n
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Reset sets the logical length to zero without releasing capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

// Bytes returns the encoded content. The slice is only valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of encoded bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Cap returns the allocated capacity.
func (b *Buffer) Cap() int {
	return cap(b.data)
}

func (b *Buffer) appendInt64(v int64) {
	b.Reserve(8)
	b.data = binary.LittleEndian.AppendUint64(b.data, uint64(v))
}

func (b *Buffer) appendString(s string) {
	b.Reserve(len(s))
	b.data = append(b.data, s...)
}
