package rdp

import (
	"github.com/go-rdp/rdpgo/internal/input"
	"github.com/go-rdp/rdpgo/internal/protocol/fastpath"
	"github.com/go-rdp/rdpgo/internal/protocol/pdu"
)

// SendInputEvent sends a pre-serialized FastPath input event (mouse, keyboard, etc.) to the server.
func (c *Client) SendInputEvent(data []byte) error {
	return c.fastPath.Send(fastpath.NewInputEventPDU(data))
}

// ApplyInput folds txs through the client's input database and sends the
// resulting minimal set of wire events as a single FastPath input PDU.
// The database is lazily created so clients that never call this keep
// paying nothing for it.
func (c *Client) ApplyInput(txs []input.Transaction) error {
	if c.inputDB == nil {
		c.inputDB = input.New()
	}
	return c.sendInputEvents(c.inputDB.Apply(txs))
}

// ReleaseAllInput forces every tracked key and mouse button to its released
// state, e.g. when the browser tab loses focus and can no longer report
// key-up events for keys that were down when focus was lost.
func (c *Client) ReleaseAllInput() error {
	if c.inputDB == nil {
		return nil
	}
	return c.sendInputEvents(c.inputDB.ReleaseAll())
}

func (c *Client) sendInputEvents(events []*pdu.InputEvent) error {
	if len(events) == 0 {
		return nil
	}
	var data []byte
	for _, e := range events {
		data = append(data, e.Serialize()...)
	}
	eventPDU := fastpath.NewInputEventPDU(data)
	eventPDU.SetNumEvents(uint8(len(events)))
	return c.fastPath.Send(eventPDU)
}
