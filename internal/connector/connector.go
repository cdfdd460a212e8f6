// Package connector models the RDP connection sequence (MS-RDPBCGR 1.3.1.1)
// as an explicit, resumable state machine instead of one long blocking call
// chain, so a caller can step it one phase at a time and re-enter it at the
// capability-exchange phase after a server-initiated Deactivate All.
package connector

import "fmt"

// State names one phase of the connection sequence.
type State int

const (
	StateNegotiationRequest State = iota
	StateNegotiationResponse
	StateBasicSettingsExchange
	StateChannelConnection
	StateSecureSettingsExchange
	StateLicensing
	StateCapabilitiesExchange
	StateConnectionFinalization
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateNegotiationRequest:
		return "NegotiationRequest"
	case StateNegotiationResponse:
		return "NegotiationResponse"
	case StateBasicSettingsExchange:
		return "BasicSettingsExchange"
	case StateChannelConnection:
		return "ChannelConnection"
	case StateSecureSettingsExchange:
		return "SecureSettingsExchange"
	case StateLicensing:
		return "Licensing"
	case StateCapabilitiesExchange:
		return "CapabilitiesExchange"
	case StateConnectionFinalization:
		return "ConnectionFinalization"
	case StateFinalized:
		return "Finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// sequence is the fixed phase order a connection runs through once. It
// mirrors Client.Connect's call order, just broken into single steps.
var sequence = []State{
	StateNegotiationRequest,
	StateNegotiationResponse,
	StateBasicSettingsExchange,
	StateChannelConnection,
	StateSecureSettingsExchange,
	StateLicensing,
	StateCapabilitiesExchange,
	StateConnectionFinalization,
	StateFinalized,
}

// reactivationSequence is where a connection re-enters after a server sends
// Deactivate All mid-session (MS-RDPBCGR 1.3.1.3): capability exchange and
// finalization run again, negotiation and channel setup do not.
var reactivationSequence = []State{
	StateCapabilitiesExchange,
	StateConnectionFinalization,
	StateFinalized,
}

// StepFunc runs the work for one state. StateFinalized has no StepFunc — it
// marks completion.
type StepFunc func() error

// Machine steps a connection through its states one at a time. Each
// Step call runs exactly one phase, so a caller driving
// an event loop never blocks longer than one phase's I/O.
type Machine struct {
	steps   map[State]StepFunc
	seq     []State
	pos     int
	current State
}

// New builds a machine over the full connection sequence. steps must have an
// entry for every state except StateFinalized.
func New(steps map[State]StepFunc) *Machine {
	return &Machine{
		steps: steps,
		seq:   sequence,
		pos:   0,
	}
}

// Current reports the state the next Step call will run.
func (m *Machine) Current() State {
	if m.pos >= len(m.seq) {
		return StateFinalized
	}
	return m.seq[m.pos]
}

// Done reports whether the machine has reached StateFinalized.
func (m *Machine) Done() bool {
	return m.pos >= len(m.seq)
}

// Step runs exactly one phase and advances to the next. Calling Step after
// Done is a no-op returning nil, so callers can poll Done/Step in a loop
// without special-casing the last iteration.
func (m *Machine) Step() error {
	if m.Done() {
		return nil
	}

	state := m.seq[m.pos]
	m.current = state

	if state == StateFinalized {
		m.pos++
		return nil
	}

	fn, ok := m.steps[state]
	if !ok {
		return fmt.Errorf("connector: no step registered for state %s", state)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("connector: %s: %w", state, err)
	}

	m.pos++
	return nil
}

// Run drives the machine to completion, returning the first error.
func (m *Machine) Run() error {
	for !m.Done() {
		if err := m.Step(); err != nil {
			return err
		}
	}
	return nil
}

// ReenterAtCapabilitiesExchange resets the machine to replay capability
// exchange and finalization, as required after a server Deactivate All PDU
// (MS-RDPBCGR 1.3.1.3): the session returns to the Capability Exchange phase
// without repeating negotiation, MCS connect, or licensing.
func (m *Machine) ReenterAtCapabilitiesExchange() {
	m.seq = reactivationSequence
	m.pos = 0
}
