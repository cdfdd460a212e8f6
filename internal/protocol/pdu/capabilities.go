package pdu

import (
	"bytes"
	"encoding/binary"
	"io"
)

// CapabilitySetType identifies the kind of capability set carried by a
// CapabilitySet, per the CAPSTYPE_* constants in MS-RDPBCGR 2.2.1.13.1.1.1.
type CapabilitySetType uint16

const (
	CapabilitySetTypeGeneral                CapabilitySetType = 0x01
	CapabilitySetTypeBitmap                 CapabilitySetType = 0x02
	CapabilitySetTypeOrder                  CapabilitySetType = 0x03
	CapabilitySetTypeBitmapCache             CapabilitySetType = 0x04
	CapabilitySetTypeControl                CapabilitySetType = 0x05
	CapabilitySetTypeWindowActivation        CapabilitySetType = 0x07
	CapabilitySetTypePointer                CapabilitySetType = 0x08
	CapabilitySetTypeShare                  CapabilitySetType = 0x09
	CapabilitySetTypeColorCache              CapabilitySetType = 0x0A
	CapabilitySetTypeSound                  CapabilitySetType = 0x0C
	CapabilitySetTypeInput                  CapabilitySetType = 0x0D
	CapabilitySetTypeFont                   CapabilitySetType = 0x0E
	CapabilitySetTypeBrush                  CapabilitySetType = 0x0F
	CapabilitySetTypeGlyphCache              CapabilitySetType = 0x10
	CapabilitySetTypeOffscreenBitmapCache    CapabilitySetType = 0x11
	CapabilitySetTypeBitmapCacheHostSupport CapabilitySetType = 0x12
	CapabilitySetTypeBitmapCacheRev2        CapabilitySetType = 0x13
	CapabilitySetTypeVirtualChannel          CapabilitySetType = 0x14
	CapabilitySetTypeDrawNineGridCache       CapabilitySetType = 0x15
	CapabilitySetTypeDrawGDIPlus             CapabilitySetType = 0x16
	CapabilitySetTypeRail                   CapabilitySetType = 0x17
	CapabilitySetTypeWindow                 CapabilitySetType = 0x18
	CapabilitySetTypeDesktopComposition      CapabilitySetType = 0x19
	CapabilitySetTypeLargePointer            CapabilitySetType = 0x1A
	CapabilitySetTypeMultifragmentUpdate     CapabilitySetType = 0x1B
	CapabilitySetTypeSurfaceCommands         CapabilitySetType = 0x1C
	CapabilitySetTypeBitmapCodecs            CapabilitySetType = 0x1D
	CapabilitySetTypeFrameAcknowledge        CapabilitySetType = 0x1E
)

// CapabilitySet is a tagged union over every capability set advertised in a
// Demand Active or Confirm Active PDU (MS-RDPBCGR 2.2.1.13.1.1.1): exactly
// one of its pointer fields is populated, chosen by CapabilitySetType.
type CapabilitySet struct {
	CapabilitySetType CapabilitySetType

	GeneralCapabilitySet                *GeneralCapabilitySet
	BitmapCapabilitySet                 *BitmapCapabilitySet
	OrderCapabilitySet                  *OrderCapabilitySet
	BitmapCacheCapabilitySetRev1        *BitmapCacheCapabilitySetRev1
	BitmapCacheCapabilitySetRev2        *BitmapCacheCapabilitySetRev2
	BitmapCacheHostSupportCapabilitySet *BitmapCacheHostSupportCapabilitySet
	ControlCapabilitySet                *ControlCapabilitySet
	WindowActivationCapabilitySet       *WindowActivationCapabilitySet
	PointerCapabilitySet                *PointerCapabilitySet
	ShareCapabilitySet                  *ShareCapabilitySet
	ColorCacheCapabilitySet             *ColorCacheCapabilitySet
	SoundCapabilitySet                  *SoundCapabilitySet
	InputCapabilitySet                  *InputCapabilitySet
	FontCapabilitySet                   *FontCapabilitySet
	BrushCapabilitySet                  *BrushCapabilitySet
	GlyphCacheCapabilitySet             *GlyphCacheCapabilitySet
	OffscreenBitmapCacheCapabilitySet   *OffscreenBitmapCacheCapabilitySet
	VirtualChannelCapabilitySet         *VirtualChannelCapabilitySet
	DrawNineGridCacheCapabilitySet      *DrawNineGridCacheCapabilitySet
	DrawGDIPlusCapabilitySet            *DrawGDIPlusCapabilitySet
	RailCapabilitySet                   *RailCapabilitySet
	WindowListCapabilitySet             *WindowListCapabilitySet
	LargePointerCapabilitySet           *LargePointerCapabilitySet
	DesktopCompositionCapabilitySet     *DesktopCompositionCapabilitySet
	MultifragmentUpdateCapabilitySet    *MultifragmentUpdateCapabilitySet
	SurfaceCommandsCapabilitySet        *SurfaceCommandsCapabilitySet
	BitmapCodecsCapabilitySet           *BitmapCodecsCapabilitySet
	FrameAcknowledgeCapabilitySet       *FrameAcknowledgeCapabilitySet
}

// capabilitySetBody is satisfied by every individual capability set type.
type capabilitySetBody interface {
	Serialize() []byte
}

// body returns the populated sub-type's serializer, or nil if none is set
// (an unrecognized type deserialized via Deserialize).
func (c *CapabilitySet) body() capabilitySetBody {
	switch {
	case c.GeneralCapabilitySet != nil:
		return c.GeneralCapabilitySet
	case c.BitmapCapabilitySet != nil:
		return c.BitmapCapabilitySet
	case c.OrderCapabilitySet != nil:
		return c.OrderCapabilitySet
	case c.BitmapCacheCapabilitySetRev1 != nil:
		return c.BitmapCacheCapabilitySetRev1
	case c.BitmapCacheCapabilitySetRev2 != nil:
		return c.BitmapCacheCapabilitySetRev2
	case c.ControlCapabilitySet != nil:
		return c.ControlCapabilitySet
	case c.WindowActivationCapabilitySet != nil:
		return c.WindowActivationCapabilitySet
	case c.PointerCapabilitySet != nil:
		return c.PointerCapabilitySet
	case c.ShareCapabilitySet != nil:
		return c.ShareCapabilitySet
	case c.ColorCacheCapabilitySet != nil:
		return c.ColorCacheCapabilitySet
	case c.SoundCapabilitySet != nil:
		return c.SoundCapabilitySet
	case c.InputCapabilitySet != nil:
		return c.InputCapabilitySet
	case c.FontCapabilitySet != nil:
		return c.FontCapabilitySet
	case c.BrushCapabilitySet != nil:
		return c.BrushCapabilitySet
	case c.GlyphCacheCapabilitySet != nil:
		return c.GlyphCacheCapabilitySet
	case c.OffscreenBitmapCacheCapabilitySet != nil:
		return c.OffscreenBitmapCacheCapabilitySet
	case c.VirtualChannelCapabilitySet != nil:
		return c.VirtualChannelCapabilitySet
	case c.DrawNineGridCacheCapabilitySet != nil:
		return c.DrawNineGridCacheCapabilitySet
	case c.DrawGDIPlusCapabilitySet != nil:
		return c.DrawGDIPlusCapabilitySet
	case c.RailCapabilitySet != nil:
		return c.RailCapabilitySet
	case c.WindowListCapabilitySet != nil:
		return c.WindowListCapabilitySet
	case c.LargePointerCapabilitySet != nil:
		return c.LargePointerCapabilitySet
	case c.DesktopCompositionCapabilitySet != nil:
		return c.DesktopCompositionCapabilitySet
	case c.MultifragmentUpdateCapabilitySet != nil:
		return c.MultifragmentUpdateCapabilitySet
	case c.SurfaceCommandsCapabilitySet != nil:
		return c.SurfaceCommandsCapabilitySet
	case c.BitmapCodecsCapabilitySet != nil:
		return c.BitmapCodecsCapabilitySet
	case c.FrameAcknowledgeCapabilitySet != nil:
		return c.FrameAcknowledgeCapabilitySet
	case c.BitmapCacheHostSupportCapabilitySet != nil:
		return c.BitmapCacheHostSupportCapabilitySet
	default:
		return nil
	}
}

// Serialize encodes the capability set: a 4-byte header (type, total length
// including the header) followed by the populated sub-type's body.
func (c *CapabilitySet) Serialize() []byte {
	var body []byte
	if b := c.body(); b != nil {
		body = b.Serialize()
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, c.CapabilitySetType)
	_ = binary.Write(buf, binary.LittleEndian, uint16(4+len(body)))
	buf.Write(body)

	return buf.Bytes()
}

// Deserialize reads one capability set's 4-byte header and dispatches its
// body to the matching sub-type. An unrecognized CapabilitySetType is not an
// error: the body is consumed and every pointer field is left nil.
func (c *CapabilitySet) Deserialize(wire io.Reader) error {
	var (
		capabilitySetType CapabilitySetType
		lengthCapability  uint16
	)

	if err := binary.Read(wire, binary.LittleEndian, &capabilitySetType); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &lengthCapability); err != nil {
		return err
	}

	c.CapabilitySetType = capabilitySetType

	if lengthCapability < 4 {
		return nil
	}

	body := make([]byte, lengthCapability-4)
	if _, err := io.ReadFull(wire, body); err != nil {
		return err
	}
	bodyReader := bytes.NewReader(body)

	switch capabilitySetType {
	case CapabilitySetTypeGeneral:
		c.GeneralCapabilitySet = &GeneralCapabilitySet{}
		return c.GeneralCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeBitmap:
		c.BitmapCapabilitySet = &BitmapCapabilitySet{}
		return c.BitmapCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeOrder:
		c.OrderCapabilitySet = &OrderCapabilitySet{}
		return c.OrderCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeBitmapCache:
		c.BitmapCacheCapabilitySetRev1 = &BitmapCacheCapabilitySetRev1{}
		return c.BitmapCacheCapabilitySetRev1.Deserialize(bodyReader)
	case CapabilitySetTypeBitmapCacheRev2:
		c.BitmapCacheCapabilitySetRev2 = &BitmapCacheCapabilitySetRev2{}
		return c.BitmapCacheCapabilitySetRev2.Deserialize(bodyReader)
	case CapabilitySetTypeBitmapCacheHostSupport:
		c.BitmapCacheHostSupportCapabilitySet = &BitmapCacheHostSupportCapabilitySet{}
		return c.BitmapCacheHostSupportCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeControl:
		c.ControlCapabilitySet = &ControlCapabilitySet{}
		return c.ControlCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeWindowActivation:
		c.WindowActivationCapabilitySet = &WindowActivationCapabilitySet{}
		return c.WindowActivationCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypePointer:
		c.PointerCapabilitySet = &PointerCapabilitySet{lengthCapability: lengthCapability - 4}
		return c.PointerCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeShare:
		c.ShareCapabilitySet = &ShareCapabilitySet{}
		return c.ShareCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeColorCache:
		c.ColorCacheCapabilitySet = &ColorCacheCapabilitySet{}
		return c.ColorCacheCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeSound:
		c.SoundCapabilitySet = &SoundCapabilitySet{}
		return c.SoundCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeInput:
		c.InputCapabilitySet = &InputCapabilitySet{}
		return c.InputCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeFont:
		c.FontCapabilitySet = &FontCapabilitySet{}
		return c.FontCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeBrush:
		c.BrushCapabilitySet = &BrushCapabilitySet{}
		return c.BrushCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeGlyphCache:
		c.GlyphCacheCapabilitySet = &GlyphCacheCapabilitySet{}
		return c.GlyphCacheCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeOffscreenBitmapCache:
		c.OffscreenBitmapCacheCapabilitySet = &OffscreenBitmapCacheCapabilitySet{}
		return c.OffscreenBitmapCacheCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeVirtualChannel:
		c.VirtualChannelCapabilitySet = &VirtualChannelCapabilitySet{}
		return c.VirtualChannelCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeDrawNineGridCache:
		c.DrawNineGridCacheCapabilitySet = &DrawNineGridCacheCapabilitySet{}
		return c.DrawNineGridCacheCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeDrawGDIPlus:
		c.DrawGDIPlusCapabilitySet = &DrawGDIPlusCapabilitySet{}
		return c.DrawGDIPlusCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeRail:
		c.RailCapabilitySet = &RailCapabilitySet{}
		return binary.Read(bodyReader, binary.LittleEndian, &c.RailCapabilitySet.RailSupportLevel)
	case CapabilitySetTypeWindow:
		c.WindowListCapabilitySet = &WindowListCapabilitySet{}
		return c.WindowListCapabilitySet.deserialize(bodyReader)
	case CapabilitySetTypeLargePointer:
		c.LargePointerCapabilitySet = &LargePointerCapabilitySet{}
		return c.LargePointerCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeDesktopComposition:
		c.DesktopCompositionCapabilitySet = &DesktopCompositionCapabilitySet{}
		return c.DesktopCompositionCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeMultifragmentUpdate:
		c.MultifragmentUpdateCapabilitySet = &MultifragmentUpdateCapabilitySet{}
		return c.MultifragmentUpdateCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeSurfaceCommands:
		c.SurfaceCommandsCapabilitySet = &SurfaceCommandsCapabilitySet{}
		return c.SurfaceCommandsCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeBitmapCodecs:
		c.BitmapCodecsCapabilitySet = &BitmapCodecsCapabilitySet{}
		return c.BitmapCodecsCapabilitySet.Deserialize(bodyReader)
	case CapabilitySetTypeFrameAcknowledge:
		c.FrameAcknowledgeCapabilitySet = &FrameAcknowledgeCapabilitySet{}
		return c.FrameAcknowledgeCapabilitySet.Deserialize(bodyReader)
	default:
		return nil
	}
}

// DeserializeQuick reads a capability set's header and advances past its
// body without dispatching to a sub-type, recovering only CapabilitySetType.
func (c *CapabilitySet) DeserializeQuick(wire io.Reader) error {
	var (
		capabilitySetType CapabilitySetType
		lengthCapability  uint16
	)

	if err := binary.Read(wire, binary.LittleEndian, &capabilitySetType); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &lengthCapability); err != nil {
		return err
	}

	c.CapabilitySetType = capabilitySetType

	if lengthCapability < 4 {
		return nil
	}

	_, err := io.CopyN(io.Discard, wire, int64(lengthCapability-4))
	return err
}

// WindowListCapabilitySet.Deserialize is not defined in cap_surface.go
// (only Serialize is); deserialize fills it in following the same field
// order as Serialize.
func (s *WindowListCapabilitySet) deserialize(wire io.Reader) error {
	if err := binary.Read(wire, binary.LittleEndian, &s.WndSupportLevel); err != nil {
		return err
	}
	if err := binary.Read(wire, binary.LittleEndian, &s.NumIconCaches); err != nil {
		return err
	}
	return binary.Read(wire, binary.LittleEndian, &s.NumIconCacheEntries)
}
