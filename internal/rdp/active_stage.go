package rdp

import (
	"encoding/binary"
	"fmt"

	"github.com/go-rdp/rdpgo/internal/session"
)

// activeStage is shared across updates; it carries no per-connection state
// so a single instance suffices for every Client.
var activeStage = session.New()

// ActiveStageOutputs classifies an Update's fastpath-framed payload
// ([updateHeader(1)][size(2 LE)][data...], the format GetUpdate already
// normalizes slow-path updates into) into the active-stage's output
// vocabulary, so a caller can react to a pointer move or graphics update
// without parsing wire bytes itself.
func (c *Client) ActiveStageOutputs(update *Update) ([]session.ActiveStageOutput, error) {
	if update == nil || len(update.Data) < 3 {
		return nil, fmt.Errorf("rdp: update too short to carry a fast-path header")
	}

	updateCode := update.Data[0] & 0x0F
	size := binary.LittleEndian.Uint16(update.Data[1:3])
	if int(size) > len(update.Data)-3 {
		return nil, fmt.Errorf("rdp: update declares %d bytes but only %d available", size, len(update.Data)-3)
	}

	return activeStage.ProcessFastPathUpdate(updateCode, update.Data[3:3+int(size)])
}
