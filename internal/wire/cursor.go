package wire

import "encoding/binary"

// ReadCursor is a bounds-checked view over a caller-owned byte slice.
// Every read advances pos monotonically and never past len(inner); a read
// that would run past the end returns a NotEnoughBytesError instead of
// panicking.
type ReadCursor struct {
	inner []byte
	pos   int
}

// NewReadCursor wraps bytes for sequential decoding. The cursor borrows the
// slice; callers must not mutate it while the cursor is in use.
func NewReadCursor(bytes []byte) *ReadCursor {
	return &ReadCursor{inner: bytes}
}

// Len returns the number of unread bytes.
func (c *ReadCursor) Len() int {
	return len(c.inner) - c.pos
}

// IsEmpty reports whether every byte has been consumed.
func (c *ReadCursor) IsEmpty() bool {
	return c.Len() == 0
}

// Pos returns the current byte offset from the start of the slab.
func (c *ReadCursor) Pos() int {
	return c.pos
}

// Remaining returns the unread tail of the slab without advancing.
func (c *ReadCursor) Remaining() []byte {
	return c.inner[c.pos:]
}

// EnsureSize fails with NotEnoughBytesError unless at least n bytes remain.
//
// ensure_size is used as an inclusive lower bound almost everywhere in this
// package: a field that needs n bytes succeeds when exactly n remain. A few
// fixed-part checks instead want exact equality (no trailing padding is
// tolerated); those call EnsureExactSize explicitly and document why.
func (c *ReadCursor) EnsureSize(context string, n int) error {
	if c.Len() < n {
		return NotEnoughBytes(context, c.Len(), n)
	}
	return nil
}

// EnsureExactSize fails unless exactly n bytes remain in the slab. Used for
// fixed-part envelopes where trailing bytes would indicate a length field
// that disagrees with the payload actually present.
func (c *ReadCursor) EnsureExactSize(context string, n int) error {
	if c.Len() != n {
		return NotEnoughBytes(context, c.Len(), n)
	}
	return nil
}

// Advance skips n bytes without reading them (used after validating a
// fixed-size field read through a helper that does not itself move pos).
func (c *ReadCursor) Advance(n int) {
	c.pos += n
}

// ReadSlice consumes and returns the next n bytes. Caller must have already
// called EnsureSize for n.
func (c *ReadCursor) ReadSlice(n int) []byte {
	b := c.inner[c.pos : c.pos+n]
	c.pos += n
	return b
}

// ReadRemaining consumes and returns every unread byte.
func (c *ReadCursor) ReadRemaining() []byte {
	return c.ReadSlice(c.Len())
}

// PeekSlice returns the next n bytes without advancing the cursor.
func (c *ReadCursor) PeekSlice(n int) []byte {
	return c.inner[c.pos : c.pos+n]
}

// TryReadU8 reads one byte, little/big-endian being irrelevant at this width.
func (c *ReadCursor) TryReadU8(context string) (uint8, error) {
	if err := c.EnsureSize(context, 1); err != nil {
		return 0, err
	}
	return c.ReadSlice(1)[0], nil
}

// TryReadU16 reads a little-endian uint16.
func (c *ReadCursor) TryReadU16(context string) (uint16, error) {
	if err := c.EnsureSize(context, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(c.ReadSlice(2)), nil
}

// TryReadU16BE reads a big-endian uint16.
func (c *ReadCursor) TryReadU16BE(context string) (uint16, error) {
	if err := c.EnsureSize(context, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(c.ReadSlice(2)), nil
}

// TryReadU32 reads a little-endian uint32.
func (c *ReadCursor) TryReadU32(context string) (uint32, error) {
	if err := c.EnsureSize(context, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(c.ReadSlice(4)), nil
}

// TryReadU32BE reads a big-endian uint32.
func (c *ReadCursor) TryReadU32BE(context string) (uint32, error) {
	if err := c.EnsureSize(context, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(c.ReadSlice(4)), nil
}

// TryPeekU8 reads one byte without advancing the cursor.
func (c *ReadCursor) TryPeekU8(context string) (uint8, error) {
	if err := c.EnsureSize(context, 1); err != nil {
		return 0, err
	}
	return c.PeekSlice(1)[0], nil
}

// TryPeekU16 peeks a little-endian uint16 without advancing.
func (c *ReadCursor) TryPeekU16(context string) (uint16, error) {
	if err := c.EnsureSize(context, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(c.PeekSlice(2)), nil
}

// WriteCursor is a bounds-checked view over a caller-owned mutable byte
// slice used when encoding into a fixed-capacity buffer. Growable encodes
// (the common case in this module) instead append to a slice directly and
// use WriteCursor only where a pre-sized buffer is required.
type WriteCursor struct {
	inner []byte
	pos   int
}

// NewWriteCursor wraps a pre-allocated output buffer.
func NewWriteCursor(bytes []byte) *WriteCursor {
	return &WriteCursor{inner: bytes}
}

// Len returns the number of bytes still writable.
func (c *WriteCursor) Len() int {
	return len(c.inner) - c.pos
}

// Pos returns the number of bytes written so far.
func (c *WriteCursor) Pos() int {
	return c.pos
}

// EnsureSize fails with NotEnoughBytesError unless n bytes of capacity
// remain in the output buffer.
func (c *WriteCursor) EnsureSize(context string, n int) error {
	if c.Len() < n {
		return NotEnoughBytes(context, c.Len(), n)
	}
	return nil
}

// WriteSlice copies b into the buffer and advances the cursor.
func (c *WriteCursor) WriteSlice(b []byte) {
	n := copy(c.inner[c.pos:], b)
	c.pos += n
}

// WriteU8 writes a single byte.
func (c *WriteCursor) WriteU8(v uint8) {
	c.inner[c.pos] = v
	c.pos++
}

// WriteU16 writes a little-endian uint16.
func (c *WriteCursor) WriteU16(v uint16) {
	binary.LittleEndian.PutUint16(c.inner[c.pos:c.pos+2], v)
	c.pos += 2
}

// WriteU16BE writes a big-endian uint16.
func (c *WriteCursor) WriteU16BE(v uint16) {
	binary.BigEndian.PutUint16(c.inner[c.pos:c.pos+2], v)
	c.pos += 2
}

// WriteU32 writes a little-endian uint32.
func (c *WriteCursor) WriteU32(v uint32) {
	binary.LittleEndian.PutUint32(c.inner[c.pos:c.pos+4], v)
	c.pos += 4
}

// WriteU32BE writes a big-endian uint32.
func (c *WriteCursor) WriteU32BE(v uint32) {
	binary.BigEndian.PutUint32(c.inner[c.pos:c.pos+4], v)
	c.pos += 4
}

// Filled returns the bytes written so far.
func (c *WriteCursor) Filled() []byte {
	return c.inner[:c.pos]
}

// PDU is the capability set every wire structure in this module implements:
// bit-exact encode/decode plus a self-reported size used to validate the
// size law (len(encode(x)) == x.Size()).
type PDU interface {
	Name() string
	Size() int
	Encode(w *WriteCursor) error
	// Decode is implemented per concrete type as Decode(r *ReadCursor) (T, error)
	// rather than a method here, since Go has no Self return type; the PDU
	// interface documents the contract every decoder follows.
}
