package mppc

import "testing"

// encodeLiterals packs each byte < 0x80 as "0" + 7 bits, MSB-first, mirroring
// the wire encoding the decompressor's literal branch expects.
func encodeLiterals(values []byte) []byte {
	var out []byte
	var bitbuf uint64
	var bitlen uint

	for _, v := range values {
		pattern := uint64(v & 0x7F) // 8 bits total: leading 0 + 7 bit value
		bitbuf = (bitbuf << 8) | pattern
		bitlen += 8
		for bitlen >= 8 {
			out = append(out, byte(bitbuf>>(bitlen-8)))
			bitlen -= 8
			bitbuf &= (1 << bitlen) - 1
		}
	}
	if bitlen > 0 {
		out = append(out, byte(bitbuf<<(8-bitlen)))
	}
	return out
}

func TestMPPCLiteralsOnly(t *testing.T) {
	data := []byte("Hello, MPPC!")
	compressed := encodeLiterals(data)

	d := New(TypeK8)
	out, err := d.Decompress(FlagCompressed, TypeK8, compressed)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != string(data) {
		t.Fatalf("got %q, want %q", out, data)
	}
}

func TestMPPCPassthroughWhenUncompressed(t *testing.T) {
	d := New(TypeK64)
	input := []byte{0x01, 0x02, 0x03}
	out, err := d.Decompress(0, TypeK64, input)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if string(out) != string(input) {
		t.Fatalf("passthrough mismatch: %v vs %v", out, input)
	}
}

func TestMPPCFlushedZeroesHistoryAndResetsWritePos(t *testing.T) {
	d := New(TypeK8)
	compressed := encodeLiterals([]byte("abc"))
	if _, err := d.Decompress(FlagCompressed, TypeK8, compressed); err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if d.writePos == 0 {
		t.Fatal("expected write position to advance after first PDU")
	}

	if _, err := d.Decompress(FlagCompressed|FlagFlushed, TypeK8, compressed); err != nil {
		t.Fatalf("decompress after flush: %v", err)
	}
	if d.writePos != 3 {
		t.Fatalf("expected write position 3 after flush+decompress, got %d", d.writePos)
	}
	for i := 3; i < len(d.history); i++ {
		if d.history[i] != 0 {
			t.Fatalf("expected history zeroed past write position, found %#x at %d", d.history[i], i)
		}
	}
}

func TestMPPCAtFrontResetsOnlyWritePos(t *testing.T) {
	d := New(TypeK8)
	compressed := encodeLiterals([]byte("xyz"))
	if _, err := d.Decompress(FlagCompressed, TypeK8, compressed); err != nil {
		t.Fatalf("decompress: %v", err)
	}

	if _, err := d.Decompress(FlagCompressed|FlagAtFront, TypeK8, compressed); err != nil {
		t.Fatalf("decompress at front: %v", err)
	}
	if d.writePos != 3 {
		t.Fatalf("expected write position 3, got %d", d.writePos)
	}
}

func TestMPPCConfigChangeForcesReset(t *testing.T) {
	d := New(TypeK8)
	if len(d.history) != 8192 {
		t.Fatalf("expected 8K history, got %d", len(d.history))
	}
	compressed := encodeLiterals([]byte{0x41})
	if _, err := d.Decompress(FlagCompressed, TypeK64, compressed); err != nil {
		t.Fatalf("decompress with new type: %v", err)
	}
	if len(d.history) != 65536 {
		t.Fatalf("expected history resized to 64K, got %d", len(d.history))
	}
}

func TestMPPCDeterministicAcrossRepeats(t *testing.T) {
	d1 := New(TypeK8)
	d2 := New(TypeK8)
	compressed := encodeLiterals([]byte("determinism"))

	out1, err1 := d1.Decompress(FlagCompressed, TypeK8, compressed)
	out2, err2 := d2.Decompress(FlagCompressed, TypeK8, compressed)
	if err1 != nil || err2 != nil {
		t.Fatalf("decompress errors: %v %v", err1, err2)
	}
	if string(out1) != string(out2) {
		t.Fatalf("nondeterministic decompression: %q vs %q", out1, out2)
	}
}
