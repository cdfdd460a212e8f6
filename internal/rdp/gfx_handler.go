package rdp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-rdp/rdpgo/internal/channel"
	"github.com/go-rdp/rdpgo/internal/gfx"
	"github.com/go-rdp/rdpgo/internal/protocol/drdynvc"
)

// GraphicsChannelName is the dynamic virtual channel MS-RDPEGFX runs over.
const GraphicsChannelName = "Microsoft::Windows::RDS::Graphics"

// GFXHandler manages the graphics pipeline dynamic channel, decompressing
// RDPGFX PDUs with the same ZGFXDecompressor the display-control channel
// uses and dispatching each one through internal/gfx.
type GFXHandler struct {
	client           *Client
	drdynvcChannelID uint16
	dvc              *channel.DynamicChannelSet
	gfxChannelID     uint32
	ready            bool
	mu               sync.Mutex

	zgfxDecompressor *drdynvc.ZGFXDecompressor

	frameID     uint32
	framesAcked uint32
}

// NewGFXHandler creates a new graphics pipeline handler.
func NewGFXHandler(client *Client) *GFXHandler {
	return &GFXHandler{
		client:           client,
		dvc:              channel.NewDynamicChannelSet(),
		zgfxDecompressor: drdynvc.NewZGFXDecompressor(),
	}
}

// Initialize records the drdynvc static channel ID this handler sends on.
func (h *GFXHandler) Initialize(drdynvcChannelID uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drdynvcChannelID = drdynvcChannelID
	h.ready = false
}

// IsReady reports whether the graphics dynamic channel has been created.
func (h *GFXHandler) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// RequestGraphicsChannel requests creation of the GFX dynamic channel.
func (h *GFXHandler) RequestGraphicsChannel() error {
	h.mu.Lock()
	channelID := uint32(2) // distinct from DisplayControlHandler's channel 1
	h.gfxChannelID = channelID
	h.dvc.Open(channelID, GraphicsChannelName)
	h.mu.Unlock()

	req := &drdynvc.CreateRequestPDU{
		ChannelID:   channelID,
		ChannelName: GraphicsChannelName,
	}
	return h.sendDRDYNVC(req.Serialize())
}

// HandleDRDYNVC processes DRDYNVC channel data addressed to the graphics
// channel; commands for other dynamic channels are ignored.
func (h *GFXHandler) HandleDRDYNVC(data []byte) ([]gfx.Command, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("gfx: empty DRDYNVC data")
	}

	cmd, cbChID, remaining, err := drdynvc.ParsePDU(data)
	if err != nil {
		return nil, err
	}

	switch cmd {
	case drdynvc.CmdCreate:
		return nil, h.handleCreateResponse(cbChID, remaining)
	case drdynvc.CmdDataFirstCmp, drdynvc.CmdDataCmp:
		return h.handleCompressedData(cbChID, remaining, cmd == drdynvc.CmdDataFirstCmp)
	case drdynvc.CmdClose:
		return nil, h.handleClose(cbChID, remaining)
	default:
		return nil, nil
	}
}

func (h *GFXHandler) handleCreateResponse(cbChID uint8, data []byte) error {
	resp := &drdynvc.CreateResponsePDU{}
	if err := resp.Deserialize(bytes.NewReader(data), cbChID); err != nil {
		return fmt.Errorf("gfx: parse create response: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if resp.IsSuccess() {
		h.gfxChannelID = resp.ChannelID
		h.dvc.Open(resp.ChannelID, GraphicsChannelName)
		h.ready = true
	}
	return nil
}

func (h *GFXHandler) handleClose(cbChID uint8, data []byte) error {
	channelID, _, err := drdynvc.ReadChannelID(data, cbChID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if channelID == h.gfxChannelID {
		h.ready = false
		h.gfxChannelID = 0
		h.dvc.Close(channelID)
	}
	return nil
}

// handleCompressedData decompresses one DYNVC_DATA_COMPRESSED fragment and
// dispatches every RDPGFX PDU it contains, returning them in wire order. On
// RDPGFX_CMDID_ENDFRAME it also sends a Frame Acknowledge back to the
// server, matching how the display-control channel round-trips Soft-Sync.
func (h *GFXHandler) handleCompressedData(cbChID uint8, data []byte, isFirst bool) ([]gfx.Command, error) {
	compressed := &drdynvc.DataCompressedPDU{}
	if err := compressed.Deserialize(data, cbChID, isFirst); err != nil {
		return nil, fmt.Errorf("gfx: parse compressed data: %w", err)
	}

	h.mu.Lock()
	if _, open := h.dvc.Get(compressed.ChannelID); !open {
		h.mu.Unlock()
		return nil, nil
	}
	decompressor := h.zgfxDecompressor
	h.mu.Unlock()

	decompressed, err := compressed.Decompress(decompressor)
	if err != nil {
		return nil, fmt.Errorf("gfx: decompress: %w", err)
	}

	var commands []gfx.Command
	for len(decompressed) > 0 {
		cmd, rest, err := gfx.Dispatch(decompressed)
		if err != nil {
			return commands, fmt.Errorf("gfx: dispatch: %w", err)
		}
		commands = append(commands, cmd)
		decompressed = rest

		if cmd.Type == gfx.PDUTypeEndFrame {
			if ef, ok := cmd.Value.(gfx.EndFrame); ok {
				if err := h.acknowledgeFrame(ef.FrameID); err != nil {
					return commands, err
				}
			}
		}
	}
	return commands, nil
}

func (h *GFXHandler) acknowledgeFrame(frameID uint32) error {
	h.mu.Lock()
	h.framesAcked++
	acked := h.framesAcked
	h.mu.Unlock()

	ack := &gfx.FrameAcknowledge{QueueDepth: 1, FrameID: frameID, TotalFramesDecoded: acked}
	return h.sendGFXData(ack.Serialize())
}

// sendGFXData wraps an already-framed RDPGFX PDU in a DRDYNVC data PDU and
// sends it on the drdynvc static channel.
func (h *GFXHandler) sendGFXData(data []byte) error {
	h.mu.Lock()
	channelID := h.gfxChannelID
	h.mu.Unlock()

	if channelID == 0 {
		return fmt.Errorf("gfx: channel not established")
	}

	dataPDU := &drdynvc.DataPDU{ChannelID: channelID, Data: data}
	return h.sendDRDYNVC(dataPDU.Serialize())
}

func (h *GFXHandler) sendDRDYNVC(data []byte) error {
	h.mu.Lock()
	channelID := h.drdynvcChannelID
	client := h.client
	h.mu.Unlock()

	if channelID == 0 {
		return fmt.Errorf("gfx: DRDYNVC channel not initialized")
	}

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(data)))
	_ = binary.Write(buf, binary.LittleEndian, uint32(ChannelFlagFirst|ChannelFlagLast))
	buf.Write(data)

	return client.sendChannelData(channelID, buf.Bytes())
}
