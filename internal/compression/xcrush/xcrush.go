// Package xcrush implements the RDP 6.1 two-level ("XCRUSH") bulk
// compression scheme: a chunk-matching level 1 over a 2 MB history window
// followed by an MPPC/RDP5 level 2 pass, per [MS-RDPBCGR] 3.1.8.3 and
// FreeRDP's libfreerdp/codec/xcrush.c.
//
// Only the decompression path is implemented: the level-1 chunk/signature
// tables exist so the context shape and reset invariants match a real
// XCRUSH session, but replaying a compressed stream only needs the history
// buffer and the inner MPPC context — chunk matching is a compress-side
// concern.
package xcrush

import (
	"errors"

	"github.com/go-rdp/rdpgo/internal/compression/mppc"
)

const (
	// HistoryBufferSize is the 2 MB sliding history window XCRUSH keeps,
	// far larger than MPPC's 8K/64K windows.
	HistoryBufferSize = 2_000_000
	// BlockBufferSize is the scratch buffer used while assembling literals.
	BlockBufferSize = 16384
	// MaxSignatureCount bounds the rolling-hash signature ring.
	MaxSignatureCount = 1000
	// MaxChunks bounds the chunk descriptor table.
	MaxChunks = 65534
	// NextChunksSize is the hash-to-chunk-head lookup table size.
	NextChunksSize = 65536
	// MaxMatchCount bounds a single compression pass's match list.
	MaxMatchCount = 1000
)

// Level-1 compression flags, [MS-RDPBCGR] 2.2.9.1.1.3.1.2.
const (
	Level1FlagCompressed uint8 = 0x20
	Level1FlagAtFront    uint8 = 0x40
	Level1FlagFlushed    uint8 = 0x80
)

// matchInfo describes one chunk-level match found during level-1 matching.
type matchInfo struct {
	matchOffset uint32
	chunkOffset uint32
	matchLength uint32
}

// chunk is a chunk descriptor chained through the hash table.
type chunk struct {
	offset uint32
	next   uint32
}

// signature is a rolling-hash chunk boundary descriptor.
type signature struct {
	seed uint16
	size uint16
}

// MatchDetails is one entry of an Rdp61CompressedData match_details array.
type MatchDetails struct {
	Length        uint16
	OutputOffset  uint16
	HistoryOffset uint32
}

// CompressedData is the parsed Rdp61CompressedData wire layout:
// {level1Flags, level2Flags, matchCount, matchDetails[matchCount], literals}.
type CompressedData struct {
	Level1Flags  uint8
	Level2Flags  uint8
	MatchCount   uint16
	MatchDetails []MatchDetails
	Literals     []byte
}

// Context holds XCRUSH's 2 MB history, its chunk/signature tables, and an
// inner MPPC/RDP5 context for level 2. All large arrays are heap-allocated
// (via make, never fixed-size stack arrays) so a context can be retained for
// the life of a session without risking stack overflow.
type Context struct {
	compressor bool
	mppc       *mppc.Decompressor

	historyOffset     int
	historyBufferSize int
	historyBuffer     []byte
	blockBuffer       []byte

	compressionFlags uint32

	signatureIndex int
	signatureCount int
	signatures     []signature

	chunkHead uint32
	chunkTail uint32
	chunks    []chunk
	nextChunk []uint16

	originalMatchCount  int
	optimizedMatchCount int
	originalMatches     []matchInfo
	optimizedMatches    []matchInfo
}

// New allocates an XCRUSH context. compressor is carried for symmetry with
// the compress-side API this package does not implement; decompression
// ignores it beyond tagging the context.
func New(compressor bool) *Context {
	ctx := &Context{
		compressor:        compressor,
		mppc:              mppc.New(mppc.TypeK64), // XCRUSH always runs RDP5/64K MPPC at level 2
		historyBufferSize: HistoryBufferSize,
		historyBuffer:     make([]byte, HistoryBufferSize),
		blockBuffer:       make([]byte, BlockBufferSize),
		signatureCount:    MaxSignatureCount,
		signatures:        make([]signature, MaxSignatureCount),
		chunks:            make([]chunk, MaxChunks),
		nextChunk:         make([]uint16, NextChunksSize),
		originalMatches:   make([]matchInfo, MaxMatchCount),
		optimizedMatches:  make([]matchInfo, MaxMatchCount),
	}
	ctx.Reset(false)
	return ctx
}

// Reset clears the signature, chunk, and match tables. When flush is true,
// historyOffset becomes historyBufferSize+1 — a sentinel telling the next
// operation the history must wrap before it can be reused; otherwise it
// resets to 0. A flush reset also flushes the inner MPPC context (history
// zeroed, write position 0); a non-flush reset leaves the inner context as
// it is.
func (c *Context) Reset(flush bool) {
	c.signatureIndex = 0
	c.signatureCount = MaxSignatureCount
	for i := range c.signatures {
		c.signatures[i] = signature{}
	}
	c.compressionFlags = 0
	c.chunkHead = 1
	c.chunkTail = 1
	for i := range c.chunks {
		c.chunks[i] = chunk{}
	}
	for i := range c.nextChunk {
		c.nextChunk[i] = 0
	}
	for i := range c.originalMatches {
		c.originalMatches[i] = matchInfo{}
	}
	for i := range c.optimizedMatches {
		c.optimizedMatches[i] = matchInfo{}
	}
	c.originalMatchCount = 0
	c.optimizedMatchCount = 0

	if flush {
		c.historyOffset = c.historyBufferSize + 1
	} else {
		c.historyOffset = 0
	}

	mppcFlags := mppc.CompressionFlags(0)
	if flush {
		mppcFlags = mppc.FlagFlushed
	}
	_, _ = c.mppc.Decompress(mppcFlags, mppc.TypeK64, nil)
}

// HistoryOffset reports the current write offset into the history buffer
// (exported for tests asserting the reset sentinel).
func (c *Context) HistoryOffset() int { return c.historyOffset }

// Decompress replays an Rdp61CompressedData payload: level 2 (MPPC) first
// reconstitutes the level-1 literal/match stream, then level-1 match
// details are resolved against the history buffer to produce the final
// plaintext. The newly produced bytes are appended to the history buffer,
// matching real sessions where later PDUs reference earlier ones.
func (c *Context) Decompress(data *CompressedData) ([]byte, error) {
	if c.historyOffset > c.historyBufferSize {
		// Flush sentinel: wrap to the start before continuing.
		c.historyOffset = 0
	}

	flags := mppc.CompressionFlags(0)
	if data.Level2Flags&uint8(mppc.FlagCompressed) != 0 {
		flags |= mppc.FlagCompressed
	}
	if data.Level2Flags&uint8(mppc.FlagAtFront) != 0 {
		flags |= mppc.FlagAtFront
	}
	if data.Level2Flags&uint8(mppc.FlagFlushed) != 0 {
		flags |= mppc.FlagFlushed
	}

	literals, err := c.mppc.Decompress(flags, mppc.TypeK64, data.Literals)
	if err != nil {
		return nil, err
	}

	outLen := len(literals)
	for _, m := range data.MatchDetails {
		end := int(m.OutputOffset) + int(m.Length)
		if end > outLen {
			outLen = end
		}
	}

	out := make([]byte, outLen)
	copy(out, literals)

	for _, m := range data.MatchDetails {
		srcStart := int(m.HistoryOffset)
		srcEnd := srcStart + int(m.Length)
		if srcEnd > len(c.historyBuffer) {
			return nil, errors.New("xcrush: match references out-of-range history offset")
		}
		dstStart := int(m.OutputOffset)
		copy(out[dstStart:dstStart+int(m.Length)], c.historyBuffer[srcStart:srcEnd])
	}

	c.appendHistory(out)
	return out, nil
}

func (c *Context) appendHistory(data []byte) {
	for _, b := range data {
		if c.historyOffset >= len(c.historyBuffer) {
			c.historyOffset = 0
		}
		c.historyBuffer[c.historyOffset] = b
		c.historyOffset++
	}
}
