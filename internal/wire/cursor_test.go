package wire

import (
	"errors"
	"testing"
)

func TestReadCursorMonotonic(t *testing.T) {
	c := NewReadCursor([]byte{0x01, 0x02, 0x03, 0x04})

	b, err := c.TryReadU8("first byte")
	if err != nil || b != 0x01 {
		t.Fatalf("unexpected read: %v %v", b, err)
	}
	if c.Pos() != 1 {
		t.Fatalf("expected pos 1, got %d", c.Pos())
	}

	u16, err := c.TryReadU16("u16 field")
	if err != nil || u16 != 0x0302 {
		t.Fatalf("unexpected u16: %#x %v", u16, err)
	}
	if c.Pos() != 3 {
		t.Fatalf("expected pos 3, got %d", c.Pos())
	}
}

func TestReadCursorNotEnoughBytes(t *testing.T) {
	c := NewReadCursor([]byte{0x01})
	_, err := c.TryReadU16("truncated field")
	if err == nil {
		t.Fatal("expected NotEnoughBytesError")
	}
	var nb *NotEnoughBytesError
	if !errors.As(err, &nb) {
		t.Fatalf("expected NotEnoughBytesError, got %T", err)
	}
	if nb.Received != 1 || nb.Expected != 2 {
		t.Fatalf("unexpected fields: %+v", nb)
	}
	if c.Pos() != 0 {
		t.Fatalf("failed read must not advance cursor, pos=%d", c.Pos())
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	c := NewReadCursor([]byte{0xAA, 0xBB})
	v, err := c.TryPeekU8("peek")
	if err != nil || v != 0xAA {
		t.Fatalf("unexpected peek: %v %v", v, err)
	}
	if c.Pos() != 0 {
		t.Fatalf("peek must not advance cursor, pos=%d", c.Pos())
	}
}

func TestWriteCursorRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriteCursor(buf)
	w.WriteU8(0x7F)
	w.WriteU16(0x1234)
	w.WriteU32(0xDEADBEEF)

	r := NewReadCursor(w.Filled())
	b, _ := r.TryReadU8("b")
	u16, _ := r.TryReadU16("u16")
	u32, _ := r.TryReadU32("u32")

	if b != 0x7F || u16 != 0x1234 || u32 != 0xDEADBEEF {
		t.Fatalf("round trip mismatch: %#x %#x %#x", b, u16, u32)
	}
	if w.Pos() != 7 {
		t.Fatalf("expected 7 bytes written, got %d", w.Pos())
	}
}

func TestWriteCursorOverflow(t *testing.T) {
	w := NewWriteCursor(make([]byte, 1))
	if err := w.EnsureSize("two bytes", 2); err == nil {
		t.Fatal("expected NotEnoughBytesError on undersized output buffer")
	}
}
