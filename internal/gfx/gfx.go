// Package gfx implements the MS-RDPEGFX graphics pipeline: the outer GFX
// PDU envelope carried over the Microsoft::Windows::RDS::Graphics dynamic
// virtual channel, decompressed with drdynvc.ZGFXDecompressor, and the
// surface command set built on top of it. Every PDU here is read and
// written through internal/wire's bounds-checked cursors rather than ad-hoc
// slicing, per the module's wire-format convention.
package gfx

import (
	"fmt"

	"github.com/go-rdp/rdpgo/internal/wire"
)

// PDU types (MS-RDPEGFX 2.2.2).
const (
	PDUTypeWireToSurface1        uint16 = 0x0001
	PDUTypeWireToSurface2        uint16 = 0x0002
	PDUTypeDeleteEncodingContext uint16 = 0x0003
	PDUTypeSolidFill             uint16 = 0x0004
	PDUTypeSurfaceToSurface      uint16 = 0x0005
	PDUTypeSurfaceToCache        uint16 = 0x0006
	PDUTypeCacheToSurface        uint16 = 0x0007
	PDUTypeEvictCacheEntry       uint16 = 0x0008
	PDUTypeCreateSurface         uint16 = 0x0009
	PDUTypeDeleteSurface         uint16 = 0x000A
	PDUTypeStartFrame            uint16 = 0x000B
	PDUTypeEndFrame              uint16 = 0x000C
	PDUTypeFrameAcknowledge      uint16 = 0x000D
	PDUTypeResetGraphics         uint16 = 0x000E
	PDUTypeMapSurfaceToOutput    uint16 = 0x000F
	PDUTypeCacheImportReply      uint16 = 0x0010
	PDUTypeCapsAdvertise         uint16 = 0x0011
	PDUTypeCapsConfirm           uint16 = 0x0012
	PDUTypeMapSurfaceToWindow    uint16 = 0x0017
)

// ResetGraphicsFixedSize is the exact wire size of RDPGFX_RESET_GRAPHICS_PDU
// (MS-RDPEGFX 2.2.2.17): width(4) + height(4) + monitorCount(4) + 16 reserved
// monitor-layout slots of 20 bytes each, padded to a fixed 340-byte PDU
// regardless of how many monitors are actually reported.
const ResetGraphicsFixedSize = 340

// headerLen is the fixed size of Header (MS-RDPEGFX 2.2.1.1).
const headerLen = 8

// Header is the outer RDPGFX_HEADER (MS-RDPEGFX 2.2.1.1): every PDU inside
// a decompressed GFX stream starts with one of these. Header implements
// wire.PDU; its decode counterpart is ParseHeader, which also hands back
// the PDU's own body sliced to PDULen.
type Header struct {
	PDUType uint16
	Flags   uint16
	PDULen  uint32
}

// Name implements wire.PDU.
func (h Header) Name() string { return "RDPGFX_HEADER" }

// Size implements wire.PDU.
func (h Header) Size() int { return headerLen }

// Encode implements wire.PDU.
func (h Header) Encode(w *wire.WriteCursor) error {
	if err := w.EnsureSize(h.Name(), headerLen); err != nil {
		return err
	}
	w.WriteU16(h.PDUType)
	w.WriteU16(h.Flags)
	w.WriteU32(h.PDULen)
	return nil
}

// ParseHeader reads one Header off the front of data and returns the
// remaining bytes (the PDU's own fields, PDULen - headerLen of them).
func ParseHeader(data []byte) (Header, []byte, error) {
	r := wire.NewReadCursor(data)
	if err := r.EnsureSize("gfx header", headerLen); err != nil {
		return Header{}, nil, err
	}
	pduType, _ := r.TryReadU16("gfx header pduType")
	flags, _ := r.TryReadU16("gfx header flags")
	pduLen, _ := r.TryReadU32("gfx header pduLen")
	h := Header{PDUType: pduType, Flags: flags, PDULen: pduLen}

	if int(h.PDULen) < headerLen {
		return Header{}, nil, fmt.Errorf("gfx: pduLen %d shorter than header", h.PDULen)
	}
	if int(h.PDULen) > len(data) {
		return Header{}, nil, fmt.Errorf("gfx: pduLen %d exceeds available %d bytes", h.PDULen, len(data))
	}
	return h, data[headerLen:h.PDULen], nil
}

// Rect16 is RDPGFX_RECT16 (MS-RDPEGFX 2.2.1.2): left/top inclusive,
// right/bottom exclusive.
type Rect16 struct {
	Left, Top, Right, Bottom uint16
}

func readRect16(r *wire.ReadCursor) (Rect16, error) {
	if err := r.EnsureSize("gfx rect16", 8); err != nil {
		return Rect16{}, err
	}
	left, _ := r.TryReadU16("rect16 left")
	top, _ := r.TryReadU16("rect16 top")
	right, _ := r.TryReadU16("rect16 right")
	bottom, _ := r.TryReadU16("rect16 bottom")
	return Rect16{Left: left, Top: top, Right: right, Bottom: bottom}, nil
}

// WireToSurface1 is RDPGFX_WIRE_TO_SURFACE_PDU_1 (MS-RDPEGFX 2.2.2.1).
type WireToSurface1 struct {
	SurfaceID  uint16
	CodecID    uint16
	PixelFmt   uint8
	Rect       Rect16
	BitmapData []byte
}

// SolidFill is RDPGFX_SOLID_FILL_PDU (MS-RDPEGFX 2.2.2.4).
type SolidFill struct {
	SurfaceID uint16
	Color     [4]byte
	Rects     []Rect16
}

// SurfaceToSurface is RDPGFX_SURFACE_TO_SURFACE_PDU (MS-RDPEGFX 2.2.2.5).
type SurfaceToSurface struct {
	SourceSurfaceID uint16
	DestSurfaceID   uint16
	RectSrc         Rect16
	DestPts         []struct{ X, Y uint16 }
}

// CreateSurface is RDPGFX_CREATE_SURFACE_PDU (MS-RDPEGFX 2.2.2.8).
type CreateSurface struct {
	SurfaceID    uint16
	Width, Height uint16
	PixelFormat  uint8
}

// DeleteSurface is RDPGFX_DELETE_SURFACE_PDU (MS-RDPEGFX 2.2.2.9).
type DeleteSurface struct {
	SurfaceID uint16
}

// MapSurfaceToOutput is RDPGFX_MAP_SURFACE_TO_OUTPUT_PDU (MS-RDPEGFX 2.2.2.15).
type MapSurfaceToOutput struct {
	SurfaceID                   uint16
	OutputOriginX, OutputOriginY uint32
}

// StartFrame is RDPGFX_START_FRAME_PDU (MS-RDPEGFX 2.2.2.2).
type StartFrame struct {
	Timestamp uint32
	FrameID   uint32
}

// EndFrame is RDPGFX_END_FRAME_PDU (MS-RDPEGFX 2.2.2.3).
type EndFrame struct {
	FrameID uint32
}

// CapsConfirm is RDPGFX_CAPS_CONFIRM_PDU (MS-RDPEGFX 2.2.2.13).
type CapsConfirm struct {
	CapsVersion uint32
	CapsData    []byte
}

// FrameAcknowledge is RDPGFX_FRAME_ACKNOWLEDGE_PDU (MS-RDPEGFX 2.2.2.16),
// sent client-to-server to echo a frame's completion back. FrameAcknowledge
// implements wire.PDU.
type FrameAcknowledge struct {
	QueueDepth         uint32
	FrameID            uint32
	TotalFramesDecoded uint32
}

const frameAcknowledgeBodyLen = 12

// Name implements wire.PDU.
func (f *FrameAcknowledge) Name() string { return "RDPGFX_FRAME_ACKNOWLEDGE_PDU" }

// Size implements wire.PDU: the full wire PDU including its Header.
func (f *FrameAcknowledge) Size() int { return headerLen + frameAcknowledgeBodyLen }

// Encode implements wire.PDU, writing the full PDU (header included).
func (f *FrameAcknowledge) Encode(w *wire.WriteCursor) error {
	if err := w.EnsureSize(f.Name(), f.Size()); err != nil {
		return err
	}
	header := Header{PDUType: PDUTypeFrameAcknowledge, PDULen: uint32(f.Size())}
	if err := header.Encode(w); err != nil {
		return err
	}
	w.WriteU32(f.QueueDepth)
	w.WriteU32(f.FrameID)
	w.WriteU32(f.TotalFramesDecoded)
	return nil
}

// Serialize encodes a FrameAcknowledge as a full GFX PDU (header included),
// ready to be wrapped in a DYNVC_DATA_COMPRESSED PDU.
func (f *FrameAcknowledge) Serialize() []byte {
	buf := make([]byte, f.Size())
	w := wire.NewWriteCursor(buf)
	_ = f.Encode(w)
	return w.Filled()
}

// ResetGraphics is RDPGFX_RESET_GRAPHICS_PDU (MS-RDPEGFX 2.2.2.17).
type ResetGraphics struct {
	Width, Height uint32
	MonitorCount  uint32
}

// ParseResetGraphics validates and decodes a Reset Graphics PDU body. The
// PDU is defined with a fixed total size regardless of monitor count, so any
// other length is a protocol violation rather than a truncated read, hence
// EnsureExactSize rather than EnsureSize.
func ParseResetGraphics(body []byte) (ResetGraphics, error) {
	r := wire.NewReadCursor(body)
	if err := r.EnsureExactSize("gfx reset graphics", ResetGraphicsFixedSize-headerLen); err != nil {
		return ResetGraphics{}, fmt.Errorf("gfx: reset graphics body must be %d bytes, got %d", ResetGraphicsFixedSize-headerLen, len(body))
	}
	width, _ := r.TryReadU32("reset graphics width")
	height, _ := r.TryReadU32("reset graphics height")
	monitorCount, _ := r.TryReadU32("reset graphics monitorCount")
	return ResetGraphics{Width: width, Height: height, MonitorCount: monitorCount}, nil
}

// Command is the parsed form of one surface command PDU, tagged by the
// header's PDUType so a dispatcher can type-switch on the concrete value
// stored in Value.
type Command struct {
	Type  uint16
	Value interface{}
}

// Dispatch parses one decompressed GFX PDU (header + body) into a Command.
// Commands this package does not model in detail (cache operations,
// encoding-context teardown) are passed through with Value set to the raw
// body so a caller can still see that they arrived.
func Dispatch(data []byte) (Command, []byte, error) {
	h, body, err := ParseHeader(data)
	if err != nil {
		return Command{}, nil, err
	}
	rest := data[h.PDULen:]

	switch h.PDUType {
	case PDUTypeWireToSurface1:
		v, err := parseWireToSurface1(body)
		return Command{Type: h.PDUType, Value: v}, rest, err
	case PDUTypeSolidFill:
		v, err := parseSolidFill(body)
		return Command{Type: h.PDUType, Value: v}, rest, err
	case PDUTypeSurfaceToSurface:
		v, err := parseSurfaceToSurface(body)
		return Command{Type: h.PDUType, Value: v}, rest, err
	case PDUTypeCreateSurface:
		v, err := parseCreateSurface(body)
		return Command{Type: h.PDUType, Value: v}, rest, err
	case PDUTypeDeleteSurface:
		r := wire.NewReadCursor(body)
		if err := r.EnsureSize("gfx delete surface", 2); err != nil {
			return Command{}, nil, fmt.Errorf("gfx: delete surface truncated")
		}
		surfaceID, _ := r.TryReadU16("delete surface surfaceID")
		return Command{Type: h.PDUType, Value: DeleteSurface{SurfaceID: surfaceID}}, rest, nil
	case PDUTypeResetGraphics:
		v, err := ParseResetGraphics(body)
		return Command{Type: h.PDUType, Value: v}, rest, err
	case PDUTypeMapSurfaceToOutput:
		v, err := parseMapSurfaceToOutput(body)
		return Command{Type: h.PDUType, Value: v}, rest, err
	case PDUTypeStartFrame:
		r := wire.NewReadCursor(body)
		if err := r.EnsureSize("gfx start frame", 8); err != nil {
			return Command{}, nil, fmt.Errorf("gfx: start frame truncated")
		}
		timestamp, _ := r.TryReadU32("start frame timestamp")
		frameID, _ := r.TryReadU32("start frame frameID")
		return Command{Type: h.PDUType, Value: StartFrame{Timestamp: timestamp, FrameID: frameID}}, rest, nil
	case PDUTypeEndFrame:
		r := wire.NewReadCursor(body)
		if err := r.EnsureSize("gfx end frame", 4); err != nil {
			return Command{}, nil, fmt.Errorf("gfx: end frame truncated")
		}
		frameID, _ := r.TryReadU32("end frame frameID")
		return Command{Type: h.PDUType, Value: EndFrame{FrameID: frameID}}, rest, nil
	case PDUTypeCapsConfirm:
		r := wire.NewReadCursor(body)
		if err := r.EnsureSize("gfx caps confirm", 4); err != nil {
			return Command{}, nil, fmt.Errorf("gfx: caps confirm truncated")
		}
		version, _ := r.TryReadU32("caps confirm version")
		return Command{Type: h.PDUType, Value: CapsConfirm{CapsVersion: version, CapsData: r.ReadRemaining()}}, rest, nil
	default:
		return Command{Type: h.PDUType, Value: body}, rest, nil
	}
}

func parseWireToSurface1(body []byte) (WireToSurface1, error) {
	r := wire.NewReadCursor(body)
	if err := r.EnsureSize("gfx wire-to-surface-1", 13); err != nil {
		return WireToSurface1{}, fmt.Errorf("gfx: wire-to-surface-1 truncated")
	}
	surfaceID, _ := r.TryReadU16("wire-to-surface-1 surfaceID")
	codecID, _ := r.TryReadU16("wire-to-surface-1 codecID")
	pixelFmt, _ := r.TryReadU8("wire-to-surface-1 pixelFmt")
	rect, err := readRect16(r)
	if err != nil {
		return WireToSurface1{}, err
	}
	return WireToSurface1{
		SurfaceID:  surfaceID,
		CodecID:    codecID,
		PixelFmt:   pixelFmt,
		Rect:       rect,
		BitmapData: r.ReadRemaining(),
	}, nil
}

func parseSolidFill(body []byte) (SolidFill, error) {
	r := wire.NewReadCursor(body)
	if err := r.EnsureSize("gfx solid fill", 8); err != nil {
		return SolidFill{}, fmt.Errorf("gfx: solid fill truncated")
	}
	surfaceID, _ := r.TryReadU16("solid fill surfaceID")
	sf := SolidFill{SurfaceID: surfaceID}
	copy(sf.Color[:], r.ReadSlice(4))
	count, _ := r.TryReadU16("solid fill rectCount")
	for i := 0; i < int(count); i++ {
		rect, err := readRect16(r)
		if err != nil {
			return SolidFill{}, fmt.Errorf("gfx: solid fill rect %d truncated", i)
		}
		sf.Rects = append(sf.Rects, rect)
	}
	return sf, nil
}

func parseSurfaceToSurface(body []byte) (SurfaceToSurface, error) {
	r := wire.NewReadCursor(body)
	if err := r.EnsureSize("gfx surface-to-surface", 4+8+2); err != nil {
		return SurfaceToSurface{}, fmt.Errorf("gfx: surface-to-surface truncated")
	}
	sourceID, _ := r.TryReadU16("surface-to-surface sourceID")
	destID, _ := r.TryReadU16("surface-to-surface destID")
	rect, err := readRect16(r)
	if err != nil {
		return SurfaceToSurface{}, err
	}
	s := SurfaceToSurface{SourceSurfaceID: sourceID, DestSurfaceID: destID, RectSrc: rect}

	count, _ := r.TryReadU16("surface-to-surface destPtsCount")
	for i := 0; i < int(count); i++ {
		if err := r.EnsureSize("surface-to-surface destPt", 4); err != nil {
			return SurfaceToSurface{}, fmt.Errorf("gfx: surface-to-surface dest point %d truncated", i)
		}
		x, _ := r.TryReadU16("surface-to-surface destPt.x")
		y, _ := r.TryReadU16("surface-to-surface destPt.y")
		s.DestPts = append(s.DestPts, struct{ X, Y uint16 }{X: x, Y: y})
	}
	return s, nil
}

func parseCreateSurface(body []byte) (CreateSurface, error) {
	r := wire.NewReadCursor(body)
	if err := r.EnsureSize("gfx create surface", 7); err != nil {
		return CreateSurface{}, fmt.Errorf("gfx: create surface truncated")
	}
	surfaceID, _ := r.TryReadU16("create surface surfaceID")
	width, _ := r.TryReadU16("create surface width")
	height, _ := r.TryReadU16("create surface height")
	pixelFormat, _ := r.TryReadU8("create surface pixelFormat")
	return CreateSurface{SurfaceID: surfaceID, Width: width, Height: height, PixelFormat: pixelFormat}, nil
}

func parseMapSurfaceToOutput(body []byte) (MapSurfaceToOutput, error) {
	r := wire.NewReadCursor(body)
	if err := r.EnsureSize("gfx map-surface-to-output", 10); err != nil {
		return MapSurfaceToOutput{}, fmt.Errorf("gfx: map-surface-to-output truncated")
	}
	surfaceID, _ := r.TryReadU16("map-surface-to-output surfaceID")
	originX, _ := r.TryReadU32("map-surface-to-output originX")
	originY, _ := r.TryReadU32("map-surface-to-output originY")
	return MapSurfaceToOutput{SurfaceID: surfaceID, OutputOriginX: originX, OutputOriginY: originY}, nil
}
