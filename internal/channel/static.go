// Package channel implements static virtual channel bookkeeping (MS-RDPBCGR
// 2.2.1.3.4) and dynamic virtual channel fragment reassembly (MS-RDPEDYC
// 2.2.3), grounded on the static channel negotiation performed during
// connect and on the DRDYNVC PDU codec.
package channel

import "fmt"

// StaticChannelSet tracks the static channels negotiated at connection time:
// insertion order is preserved (channel IDs are assigned base+index, per
// MS-RDPBCGR 2.2.1.3.4.1) and names are unique and case-sensitive, matching
// how the server echoes back the client's channel list verbatim.
type StaticChannelSet struct {
	baseChannelID uint16
	order         []string
	ids           map[string]uint16
}

// NewStaticChannelSet creates an empty set. baseChannelID is the channel ID
// assigned to the first registered channel; subsequent channels get
// baseChannelID+1, +2, and so on.
func NewStaticChannelSet(baseChannelID uint16) *StaticChannelSet {
	return &StaticChannelSet{
		baseChannelID: baseChannelID,
		ids:           make(map[string]uint16),
	}
}

// Add registers a static channel name and returns its assigned channel ID.
// Re-adding an already-registered name returns its existing ID unchanged
// rather than creating a duplicate slot.
func (s *StaticChannelSet) Add(name string) uint16 {
	if id, ok := s.ids[name]; ok {
		return id
	}
	id := s.baseChannelID + uint16(len(s.order))
	s.order = append(s.order, name)
	s.ids[name] = id
	return id
}

// Lookup returns the channel ID registered for name, if any.
func (s *StaticChannelSet) Lookup(name string) (uint16, bool) {
	id, ok := s.ids[name]
	return id, ok
}

// Names returns the registered channel names in insertion order.
func (s *StaticChannelSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// NameByID reverse-looks-up a channel name by ID, for dispatch on inbound
// PDUs that carry only the numeric channel ID.
func (s *StaticChannelSet) NameByID(id uint16) (string, error) {
	for _, name := range s.order {
		if s.ids[name] == id {
			return name, nil
		}
	}
	return "", fmt.Errorf("channel: no static channel registered for id %d", id)
}
