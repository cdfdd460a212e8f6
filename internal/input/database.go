// Package input implements a deterministic keyboard/mouse state machine
// that folds a batch of input transactions into the minimal set of
// fast-path wire events needed to bring the server's idea of input state
// in sync with the client's, per [MS-RDPBCGR] 2.2.8.1.2.
package input

import (
	"github.com/go-rdp/rdpgo/internal/protocol/pdu"
)

// MouseButton identifies one of the five buttons this database tracks:
// left, right, middle, and the two X buttons.
type MouseButton int

const (
	ButtonLeft MouseButton = iota
	ButtonRight
	ButtonMiddle
	ButtonX1
	ButtonX2
	buttonCount
)

// Scancode is a PS/2 set-1 scancode plus the extended-key flag that
// distinguishes, e.g., the right Ctrl from the left one sharing the same
// low byte.
type Scancode struct {
	Code     uint8
	Extended bool
}

// Idx maps a scancode to its slot in the 512-entry keyboard bitset: the
// base code occupies [0,256) and the extended variant occupies [256,512),
// so the mapping is injective by construction.
func (s Scancode) Idx() int {
	idx := int(s.Code)
	if s.Extended {
		idx += 256
	}
	return idx
}

const keyboardBits = 512

// TransactionKind tags one entry of a batch applied to the Database.
type TransactionKind int

const (
	KeyPressed TransactionKind = iota
	KeyReleased
	MouseButtonPressed
	MouseButtonReleased
	MouseMove
	WheelRotations
)

// Transaction is one user-input action to fold into the database.
type Transaction struct {
	Kind       TransactionKind
	Scancode   Scancode
	Button     MouseButton
	X, Y       uint16
	IsVertical bool
	Units      int16
}

// Database is the authoritative record of which keys and mouse buttons the
// client believes are currently pressed, plus the last reported pointer
// position. Apply folds a batch of transactions against this state and
// returns the minimal set of fast-path events a server needs to reach the
// same state.
type Database struct {
	keyboard     [keyboardBits]bool
	mouseButtons [buttonCount]bool
	mouseX       uint16
	mouseY       uint16
	havePosition bool
}

// New returns an empty input database: no keys or buttons pressed, no
// reported pointer position yet.
func New() *Database {
	return &Database{}
}

// Apply folds transaction into the database and returns zero or more wire
// events needed to reflect it. Idempotent presses/releases on the mouse are
// suppressed entirely; on the keyboard a redundant press instead emits an
// implicit release+press pair so the server's auto-repeat detection sees an
// unambiguous edge.
func (d *Database) Apply(txs []Transaction) []*pdu.InputEvent {
	var events []*pdu.InputEvent
	for _, tx := range txs {
		events = append(events, d.applyOne(tx)...)
	}
	return events
}

func (d *Database) applyOne(tx Transaction) []*pdu.InputEvent {
	switch tx.Kind {
	case KeyPressed:
		return d.keyPressed(tx.Scancode)
	case KeyReleased:
		return d.keyReleased(tx.Scancode)
	case MouseButtonPressed:
		return d.buttonPressed(tx.Button)
	case MouseButtonReleased:
		return d.buttonReleased(tx.Button)
	case MouseMove:
		return d.mouseMove(tx.X, tx.Y)
	case WheelRotations:
		return []*pdu.InputEvent{wheelEvent(tx.IsVertical, tx.Units)}
	default:
		return nil
	}
}

func (d *Database) keyPressed(s Scancode) []*pdu.InputEvent {
	idx := s.Idx()
	if d.keyboard[idx] {
		// Already pressed: emit an implicit release+press pair so the
		// server observes a fresh edge instead of silently ignoring a
		// repeat, honoring auto-repeat detection.
		release := keyEvent(s, true)
		press := keyEvent(s, false)
		return []*pdu.InputEvent{release, press}
	}
	d.keyboard[idx] = true
	return []*pdu.InputEvent{keyEvent(s, false)}
}

func (d *Database) keyReleased(s Scancode) []*pdu.InputEvent {
	idx := s.Idx()
	if !d.keyboard[idx] {
		return nil
	}
	d.keyboard[idx] = false
	return []*pdu.InputEvent{keyEvent(s, true)}
}

func (d *Database) buttonPressed(b MouseButton) []*pdu.InputEvent {
	if d.mouseButtons[b] {
		return nil
	}
	d.mouseButtons[b] = true
	return []*pdu.InputEvent{buttonEvent(b, true)}
}

func (d *Database) buttonReleased(b MouseButton) []*pdu.InputEvent {
	if !d.mouseButtons[b] {
		return nil
	}
	d.mouseButtons[b] = false
	return []*pdu.InputEvent{buttonEvent(b, false)}
}

func (d *Database) mouseMove(x, y uint16) []*pdu.InputEvent {
	if d.havePosition && d.mouseX == x && d.mouseY == y {
		return nil
	}
	d.mouseX, d.mouseY = x, y
	d.havePosition = true
	return []*pdu.InputEvent{pdu.NewMouseEvent(pdu.PTRFlagsMove, x, y)}
}

// ReleaseAll emits a release for every currently-set key and mouse button,
// then clears both bitsets. Pointer position is left untouched: a release
// is not a move.
func (d *Database) ReleaseAll() []*pdu.InputEvent {
	var events []*pdu.InputEvent

	for i := 0; i < keyboardBits; i++ {
		if !d.keyboard[i] {
			continue
		}
		d.keyboard[i] = false
		s := Scancode{Code: uint8(i % 256), Extended: i >= 256}
		events = append(events, keyEvent(s, true))
	}

	for b := MouseButton(0); b < buttonCount; b++ {
		if !d.mouseButtons[b] {
			continue
		}
		d.mouseButtons[b] = false
		events = append(events, buttonEvent(b, false))
	}

	return events
}

func keyEvent(s Scancode, release bool) *pdu.InputEvent {
	flags := uint8(0)
	if release {
		flags |= pdu.KBDFlagsRelease
	}
	if s.Extended {
		flags |= pdu.KBDFlagsExtended
	}
	return pdu.NewKeyboardEvent(flags, s.Code)
}

// buttonFlag maps a tracked button to its fast-path pointer/pointerX flag
// and reports whether the X-button (extended mouse) event family applies.
func buttonFlag(b MouseButton) (flag uint16, extended bool) {
	switch b {
	case ButtonLeft:
		return pdu.PTRFlagsButton1, false
	case ButtonRight:
		return pdu.PTRFlagsButton2, false
	case ButtonMiddle:
		return pdu.PTRFlagsButton3, false
	case ButtonX1:
		return pdu.PTRXFlagsButton1, true
	case ButtonX2:
		return pdu.PTRXFlagsButton2, true
	default:
		return 0, false
	}
}

func buttonEvent(b MouseButton, down bool) *pdu.InputEvent {
	flag, extended := buttonFlag(b)
	if down {
		flag |= pdu.PTRFlagsDown
	}
	if extended {
		if down {
			flag |= pdu.PTRXFlagsDown
		}
		return pdu.NewExtendedMouseEvent(flag, 0, 0)
	}
	return pdu.NewMouseEvent(flag, 0, 0)
}

// wheelRotationMask bounds the magnitude carried in a wheel event's low
// byte, per [MS-RDPBCGR] 2.2.8.1.1.3.1.1.3.
const wheelRotationMask = 0x01FF

func wheelEvent(vertical bool, units int16) *pdu.InputEvent {
	flag := uint16(pdu.PTRFlagsWheel)
	if !vertical {
		flag = pdu.PTRFlagsHWheel
	}

	magnitude := units
	if magnitude < 0 {
		flag |= pdu.PTRFlagsWheelNegative
		magnitude = -magnitude
	}
	flag |= uint16(magnitude) & wheelRotationMask

	return pdu.NewMouseEvent(flag, 0, 0)
}
