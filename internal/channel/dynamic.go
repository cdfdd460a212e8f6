package channel

import "fmt"

// DynamicChannel tracks one open DVC: its negotiated name and ID, plus any
// in-progress fragment reassembly started by a DataFirst PDU.
type DynamicChannel struct {
	ID   uint32
	Name string

	reassembling bool
	totalSize    int
	buf          []byte
}

// DynamicChannelSet manages the set of currently open dynamic channels,
// keyed by channel ID as assigned in the DYNVC_CREATE_REQ/RSP exchange.
type DynamicChannelSet struct {
	channels map[uint32]*DynamicChannel
}

// NewDynamicChannelSet creates an empty registry.
func NewDynamicChannelSet() *DynamicChannelSet {
	return &DynamicChannelSet{channels: make(map[uint32]*DynamicChannel)}
}

// Open registers a newly created dynamic channel.
func (s *DynamicChannelSet) Open(id uint32, name string) *DynamicChannel {
	ch := &DynamicChannel{ID: id, Name: name}
	s.channels[id] = ch
	return ch
}

// Close discards a dynamic channel and any partial reassembly state it held.
func (s *DynamicChannelSet) Close(id uint32) {
	delete(s.channels, id)
}

// Get returns the open channel for id, if any.
func (s *DynamicChannelSet) Get(id uint32) (*DynamicChannel, bool) {
	ch, ok := s.channels[id]
	return ch, ok
}

// DataFirst begins reassembly of a fragmented message of totalSize bytes,
// with chunk as its first fragment. A reassembly already in progress is
// discarded in favor of the new one: DYNVC_DATA_FIRST always starts a fresh
// message, per MS-RDPEDYC 2.2.3.1.
func (c *DynamicChannel) DataFirst(totalSize int, chunk []byte) error {
	if totalSize < len(chunk) {
		return fmt.Errorf("channel %d: data-first total size %d smaller than first chunk %d", c.ID, totalSize, len(chunk))
	}
	c.reassembling = true
	c.totalSize = totalSize
	c.buf = make([]byte, 0, totalSize)
	c.buf = append(c.buf, chunk...)
	if len(c.buf) == c.totalSize {
		return nil
	}
	return nil
}

// Data appends a continuation fragment. If no DataFirst opened a reassembly,
// or the accumulated size would exceed the declared total, the fragment is
// discarded and an error is returned — MS-RDPEDYC gives no mechanism to
// resynchronize a channel whose fragments disagree with its own length
// prefix, so the channel must be torn down by the caller.
func (c *DynamicChannel) Data(chunk []byte) error {
	if !c.reassembling {
		return fmt.Errorf("channel %d: DATA fragment with no DATA_FIRST in progress", c.ID)
	}
	if len(c.buf)+len(chunk) > c.totalSize {
		c.reassembling = false
		c.buf = nil
		return fmt.Errorf("channel %d: reassembled data exceeds declared total size %d", c.ID, c.totalSize)
	}
	c.buf = append(c.buf, chunk...)
	return nil
}

// Complete reports whether a fully assembled message is ready, returning it
// and resetting reassembly state so the next DataFirst starts clean. If no
// reassembly is in progress, or it has fewer bytes than the declared total,
// ok is false.
func (c *DynamicChannel) Complete() (data []byte, ok bool) {
	if !c.reassembling || len(c.buf) < c.totalSize {
		return nil, false
	}
	data = c.buf
	c.reassembling = false
	c.buf = nil
	c.totalSize = 0
	return data, true
}

// SingleFragment wraps a complete, unfragmented DYNVC_DATA payload for
// callers that want a uniform "message ready" path regardless of whether the
// data arrived as DATA_FIRST+DATA or a single DATA PDU.
func SingleFragment(chunk []byte) []byte {
	out := make([]byte, len(chunk))
	copy(out, chunk)
	return out
}
