// Package session implements the active-stage processor: once the
// connection sequence (see internal/connector) reaches Finalized, inbound
// fast-path and slow-path PDUs are classified into a small set of outputs a
// caller can act on without knowing the wire format, mirroring
// Client.GetUpdate's dispatch in internal/rdp/get_update.go.
package session

import (
	"encoding/binary"
	"fmt"
)

// Action classifies which framing an inbound PDU arrived in, matching
// internal/transport/framed.Action.
type Action int

const (
	ActionX224 Action = iota
	ActionFastPath
)

// Fast-path/slow-path update codes (MS-RDPBCGR 2.2.9.1.2.1, 2.2.9.1.1.3).
const (
	UpdateCodeOrders      uint8 = 0x00
	UpdateCodeBitmap      uint8 = 0x01
	UpdateCodePalette     uint8 = 0x02
	UpdateCodeSynchronize uint8 = 0x03
	UpdateCodePointerPos  uint8 = 0x08
	UpdateCodePointerNull uint8 = 0x09
	UpdateCodePointerDflt uint8 = 0x0A
	UpdateCodePointerColor uint8 = 0x0B
	UpdateCodePointerLarge uint8 = 0x0E
)

// OutputKind tags which variant of ActiveStageOutput is populated.
type OutputKind int

const (
	OutputResponseFrame OutputKind = iota
	OutputGraphicsUpdate
	OutputPointerDefault
	OutputPointerHidden
	OutputPointerPosition
	OutputPointerBitmap
	OutputTerminate
	OutputDeactivateAll
)

// Rect is a pixel rectangle in destination coordinates.
type Rect struct {
	Left, Top, Right, Bottom uint16
}

// PointerPosition is a PDU's reported cursor location.
type PointerPosition struct {
	X, Y uint16
}

// PointerBitmap carries a decoded cursor image.
type PointerBitmap struct {
	Width, Height int
	XorMask       []byte
	AndMask       []byte
}

// ActiveStageOutput is one unit of work produced by processing an inbound
// PDU during the active session.
type ActiveStageOutput struct {
	Kind            OutputKind
	ResponseFrame   []byte
	GraphicsUpdate  Rect
	PointerPosition PointerPosition
	PointerBitmap   *PointerBitmap
	TerminateReason error
}

// ActiveStage processes PDUs arriving after connection finalization.
type ActiveStage struct{}

// New creates an ActiveStage processor.
func New() *ActiveStage {
	return &ActiveStage{}
}

// ProcessFastPathUpdate classifies a single fast-path update PDU's payload
// (the bytes following the fast-path update header) by its update code.
func (s *ActiveStage) ProcessFastPathUpdate(updateCode uint8, data []byte) ([]ActiveStageOutput, error) {
	switch updateCode {
	case UpdateCodeBitmap:
		rect, err := parseBitmapUpdateExtent(data)
		if err != nil {
			return nil, err
		}
		return []ActiveStageOutput{{Kind: OutputGraphicsUpdate, GraphicsUpdate: rect}}, nil

	case UpdateCodePointerNull:
		return []ActiveStageOutput{{Kind: OutputPointerHidden}}, nil

	case UpdateCodePointerDflt:
		return []ActiveStageOutput{{Kind: OutputPointerDefault}}, nil

	case UpdateCodePointerPos:
		if len(data) < 4 {
			return nil, fmt.Errorf("session: pointer position update too short: %d bytes", len(data))
		}
		pos := PointerPosition{
			X: binary.LittleEndian.Uint16(data[0:2]),
			Y: binary.LittleEndian.Uint16(data[2:4]),
		}
		return []ActiveStageOutput{{Kind: OutputPointerPosition, PointerPosition: pos}}, nil

	case UpdateCodePointerColor, UpdateCodePointerLarge:
		bmp, err := parsePointerBitmap(data)
		if err != nil {
			return nil, err
		}
		return []ActiveStageOutput{{Kind: OutputPointerBitmap, PointerBitmap: bmp}}, nil

	case UpdateCodePalette, UpdateCodeSynchronize, UpdateCodeOrders:
		// Acknowledged implicitly; nothing for a caller to act on.
		return nil, nil

	default:
		return nil, fmt.Errorf("session: unknown fast-path update code 0x%02X", updateCode)
	}
}

// parseBitmapUpdateExtent reads just enough of a Bitmap Update (MS-RDPBCGR
// 2.2.9.1.1.3.1.2) to report the bounding rectangle of the first bitmap
// data rectangle, which is what a caller needs to know where to redraw.
func parseBitmapUpdateExtent(data []byte) (Rect, error) {
	if len(data) < 2 {
		return Rect{}, fmt.Errorf("session: bitmap update too short")
	}
	numberRectangles := binary.LittleEndian.Uint16(data[0:2])
	if numberRectangles == 0 {
		return Rect{}, fmt.Errorf("session: bitmap update declares zero rectangles")
	}
	if len(data) < 2+9 {
		return Rect{}, fmt.Errorf("session: bitmap update missing first rectangle")
	}
	r := data[2:]
	return Rect{
		Left:   binary.LittleEndian.Uint16(r[0:2]),
		Top:    binary.LittleEndian.Uint16(r[2:4]),
		Right:  binary.LittleEndian.Uint16(r[4:6]),
		Bottom: binary.LittleEndian.Uint16(r[6:8]),
	}, nil
}

// parsePointerBitmap parses a Color/Large Pointer Update's fixed header
// (MS-RDPBCGR 2.2.9.1.1.4.4) enough to hand back mask dimensions; full mask
// decompression (RLE or raw) is a display-layer concern left to the caller,
// which already has the decoded plane buffer via internal/codec.
func parsePointerBitmap(data []byte) (*PointerBitmap, error) {
	// cacheIndex(2) + hotSpot(4) + width(2) + height(2) + lengthAndMask(2) + lengthXorMask(2)
	const headerLen = 14
	if len(data) < headerLen {
		return nil, fmt.Errorf("session: pointer bitmap update too short")
	}
	width := int(binary.LittleEndian.Uint16(data[6:8]))
	height := int(binary.LittleEndian.Uint16(data[8:10]))
	lengthAndMask := int(binary.LittleEndian.Uint16(data[10:12]))
	lengthXorMask := int(binary.LittleEndian.Uint16(data[12:14]))

	offset := headerLen
	if offset+lengthXorMask+lengthAndMask > len(data) {
		return nil, fmt.Errorf("session: pointer bitmap masks overflow update")
	}
	xor := data[offset : offset+lengthXorMask]
	offset += lengthXorMask
	and := data[offset : offset+lengthAndMask]

	return &PointerBitmap{Width: width, Height: height, XorMask: xor, AndMask: and}, nil
}

// ProcessDeactivateAll reports that the server sent Deactivate All: the
// caller must reactivate the connection (connector.Machine.ReenterAtCapabilitiesExchange)
// before any further PDUs are processed.
func (s *ActiveStage) ProcessDeactivateAll() ActiveStageOutput {
	return ActiveStageOutput{Kind: OutputDeactivateAll}
}

// ProcessTerminate reports that the session ended, successfully or not.
func (s *ActiveStage) ProcessTerminate(reason error) ActiveStageOutput {
	return ActiveStageOutput{Kind: OutputTerminate, TerminateReason: reason}
}
