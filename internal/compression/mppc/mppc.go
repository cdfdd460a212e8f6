// Package mppc implements the decompressor side of Microsoft Point-to-Point
// Compression (RFC 2118 variant) used for RDP bulk compression of slow-path
// share-data PDUs, per [MS-RDPBCGR] 3.1.8.2.
//
// The decompressor is stateful: history is retained across calls so that
// later PDUs can reference data emitted by earlier ones. Callers drive reset
// behavior through CompressionFlags exactly as the header compression flags
// of the PDU they are decompressing dictate.
package mppc

import "errors"

// CompressionType selects the RDP bulk compression history window and
// variant, taken from the compressionType field of the header compression
// flags ([MS-RDPBCGR] 2.2.9.1.1.3.1.1).
type CompressionType uint8

const (
	TypeK8  CompressionType = 0x0 // RDP4, 8 KiB history
	TypeK64 CompressionType = 0x1 // RDP5, 64 KiB history
	Rdp6    CompressionType = 0x2 // RDP6, 64 KiB history, MPPC framing
	Rdp61   CompressionType = 0x3 // RDP 6.1, 64 KiB history, XCRUSH framing
)

// CompressionFlags are the per-PDU header compression flags that accompany
// a CompressionType.
type CompressionFlags uint8

const (
	FlagCompressed CompressionFlags = 0x20
	FlagAtFront    CompressionFlags = 0x40
	FlagFlushed    CompressionFlags = 0x80
)

func (f CompressionFlags) has(bit CompressionFlags) bool { return f&bit != 0 }

// Config derives the history size and RDP4/RDP5 copy-offset table selection
// from a CompressionType.
type Config struct {
	HistorySize int
	RDP5        bool
}

func configFor(ct CompressionType) Config {
	switch ct {
	case TypeK8:
		return Config{HistorySize: 8192, RDP5: false}
	case TypeK64, Rdp6, Rdp61:
		return Config{HistorySize: 65536, RDP5: true}
	default:
		return Config{HistorySize: 65536, RDP5: true}
	}
}

// Decompressor holds the retained history buffer for one session's worth of
// slow-path bulk-compressed PDUs. It must not be entered concurrently and
// must not be re-allocated on reset — resets overwrite the existing buffer.
type Decompressor struct {
	history  []byte
	writePos int
	cfg      Config
}

// New allocates a decompressor for the given compression type. The history
// buffer is heap-allocated; RDP5's 64 KiB window and RDP4's 8 KiB window are
// both too large to carry on the stack across a long-lived session.
func New(ct CompressionType) *Decompressor {
	cfg := configFor(ct)
	return &Decompressor{
		history: make([]byte, cfg.HistorySize),
		cfg:     cfg,
	}
}

// Reset reinitializes the decompressor for a (possibly new) compression
// type. The backing array is resized only if the history size changed;
// otherwise it is zeroed in place.
func (d *Decompressor) Reset(ct CompressionType) {
	cfg := configFor(ct)
	if len(d.history) != cfg.HistorySize {
		d.history = make([]byte, cfg.HistorySize)
	} else {
		for i := range d.history {
			d.history[i] = 0
		}
	}
	d.writePos = 0
	d.cfg = cfg
}

func (d *Decompressor) atFront() { d.writePos = 0 }

func (d *Decompressor) flush() {
	for i := range d.history {
		d.history[i] = 0
	}
	d.writePos = 0
}

// Decompress decompresses a single MPPC-compressed PDU payload against the
// retained history, honoring AT_FRONT/FLUSHED/COMPRESSED exactly as
// [MS-RDPBCGR] specifies, and returns the newly produced plaintext slice.
//
// A change in CompressionType between calls forces a full reset before the
// flags are applied — mid-session renegotiation of the bulk compression
// scheme is rare but must not silently decompress against a stale history
// window.
func (d *Decompressor) Decompress(flags CompressionFlags, ct CompressionType, input []byte) ([]byte, error) {
	desired := configFor(ct)
	if desired.HistorySize != d.cfg.HistorySize || desired.RDP5 != d.cfg.RDP5 {
		d.Reset(ct)
	}

	if flags.has(FlagAtFront) {
		d.atFront()
	}
	if flags.has(FlagFlushed) {
		d.flush()
	}

	if !flags.has(FlagCompressed) {
		out := make([]byte, len(input))
		copy(out, input)
		return out, nil
	}

	br := newBitReader(input)
	start := d.writePos
	endIndex := len(d.history) - 1

	for br.bitsRemaining() >= 8 {
		acc := br.peek32()

		// Literal < 0x80: "0" + 7 bits of payload.
		if acc&0x80000000 == 0 {
			lit := byte((acc & 0x7F000000) >> 24)
			if d.writePos > endIndex {
				return nil, errors.New("mppc: history overflow")
			}
			d.history[d.writePos] = lit
			d.writePos++
			br.shift(8)
			continue
		}

		// Literal >= 0x80: "10" + 7 bits of (value - 0x80).
		if acc&0xC0000000 == 0x80000000 {
			lit := byte((acc&0x3F800000)>>23) + 0x80
			if d.writePos > endIndex {
				return nil, errors.New("mppc: history overflow")
			}
			d.history[d.writePos] = lit
			d.writePos++
			br.shift(9)
			continue
		}

		offset, offsetBits, err := decodeCopyOffset(acc, d.cfg.RDP5)
		if err != nil {
			return nil, err
		}
		br.shift(offsetBits)

		acc = br.peek32()
		length, lengthBits, err := decodeMatchLength(acc, d.cfg.RDP5)
		if err != nil {
			return nil, err
		}
		br.shift(lengthBits)

		if d.writePos+length-1 > endIndex {
			return nil, errors.New("mppc: history overflow")
		}
		histMask := 0x1FFF
		if d.cfg.RDP5 {
			histMask = len(d.history) - 1
		}
		srcIdx := (d.writePos + len(d.history) - offset) & histMask
		for i := 0; i < length; i++ {
			b := d.history[srcIdx]
			d.history[d.writePos] = b
			d.writePos++
			srcIdx = (srcIdx + 1) & histMask
		}
	}

	out := make([]byte, d.writePos-start)
	copy(out, d.history[start:d.writePos])
	return out, nil
}

// decodeCopyOffset reads the copy-offset prefix from the 32-bit window,
// returning the offset value and how many bits of the window it consumed.
func decodeCopyOffset(acc uint32, rdp5 bool) (offset int, bits int, err error) {
	if rdp5 {
		switch {
		case acc&0xF8000000 == 0xF8000000: // 11111 + 6 bits
			return int((acc >> 21) & 0x3F), 11, nil
		case acc&0xF8000000 == 0xF0000000: // 11110 + 8 bits (+64)
			return int((acc>>19)&0xFF) + 64, 13, nil
		case acc&0xF0000000 == 0xE0000000: // 1110 + 11 bits (+320)
			return int((acc>>17)&0x7FF) + 320, 15, nil
		case acc&0xE0000000 == 0xC0000000: // 110 + 16 bits (+2368)
			return int((acc>>13)&0xFFFF) + 2368, 19, nil
		default:
			return 0, 0, errors.New("mppc: invalid copy offset")
		}
	}
	switch {
	case acc&0xF0000000 == 0xF0000000: // 1111 + 6 bits
		return int((acc >> 22) & 0x3F), 10, nil
	case acc&0xF0000000 == 0xE0000000: // 1110 + 8 bits (+64)
		return int((acc>>20)&0xFF) + 64, 12, nil
	case acc&0xE0000000 == 0xC0000000: // 110 + 13 bits (+320)
		return int((acc>>16)&0x1FFF) + 320, 16, nil
	default:
		return 0, 0, errors.New("mppc: invalid copy offset")
	}
}

// decodeMatchLength reads the unary-escalating length-of-match prefix.
func decodeMatchLength(acc uint32, rdp5 bool) (length int, bits int, err error) {
	switch {
	case acc&0x80000000 == 0:
		return 3, 1, nil
	case acc&0xC0000000 == 0x80000000:
		return int((acc>>28)&0x3) + 0x4, 4, nil
	case acc&0xE0000000 == 0xC0000000:
		return int((acc>>26)&0x7) + 0x8, 6, nil
	case acc&0xF0000000 == 0xE0000000:
		return int((acc>>24)&0xF) + 0x10, 8, nil
	case acc&0xF8000000 == 0xF0000000:
		return int((acc>>22)&0x1F) + 0x20, 10, nil
	case acc&0xFC000000 == 0xF8000000:
		return int((acc>>20)&0x3F) + 0x40, 12, nil
	case acc&0xFE000000 == 0xFC000000:
		return int((acc>>18)&0x7F) + 0x80, 14, nil
	case acc&0xFF000000 == 0xFE000000:
		return int((acc>>16)&0xFF) + 0x100, 16, nil
	case acc&0xFF800000 == 0xFF000000:
		return int((acc>>14)&0x1FF) + 0x200, 18, nil
	case acc&0xFFC00000 == 0xFF800000:
		return int((acc>>12)&0x3FF) + 0x400, 20, nil
	case acc&0xFFE00000 == 0xFFC00000:
		return int((acc>>10)&0x7FF) + 0x800, 22, nil
	case acc&0xFFF00000 == 0xFFE00000:
		return int((acc>>8)&0xFFF) + 0x1000, 24, nil
	case rdp5 && acc&0xFFFE0000 == 0xFFFC0000:
		// RDP5-only 15-bit escape: 32768..65535.
		return int((acc>>2)&0x7FFF) + 0x8000, 30, nil
	default:
		return 0, 0, errors.New("mppc: invalid length-of-match")
	}
}

// bitReader exposes a 32-bit big-endian window over a byte slice for
// MSB-first prefix decoding, always peeking a few extra bytes so that
// peek32 can be read unconditionally near the end of the input.
type bitReader struct {
	data []byte
	byte int
	bit  uint8 // bits already consumed within data[byte], 0..7
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) bitsRemaining() int {
	remaining := len(r.data) - r.byte
	if remaining < 0 {
		remaining = 0
	}
	return remaining*8 - int(r.bit)
}

func (r *bitReader) at(i int) uint64 {
	if i < 0 || i >= len(r.data) {
		return 0
	}
	return uint64(r.data[i])
}

// peek32 returns the next 32 bits of stream, MSB-aligned, without advancing.
func (r *bitReader) peek32() uint32 {
	val := (r.at(r.byte) << 32) | (r.at(r.byte+1) << 24) | (r.at(r.byte+2) << 16) | (r.at(r.byte+3) << 8) | r.at(r.byte+4)
	return uint32((val << r.bit) >> 8)
}

func (r *bitReader) shift(n int) {
	total := int(r.bit) + n
	r.byte += total / 8
	r.bit = uint8(total % 8)
}
