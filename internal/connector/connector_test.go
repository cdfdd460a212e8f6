package connector

import (
	"errors"
	"testing"
)

func newRecordingMachine(t *testing.T) (*Machine, *[]State) {
	t.Helper()
	var ran []State
	steps := map[State]StepFunc{}
	for _, s := range sequence {
		if s == StateFinalized {
			continue
		}
		state := s
		steps[state] = func() error {
			ran = append(ran, state)
			return nil
		}
	}
	return New(steps), &ran
}

func TestMachineRunsEveryStateInOrder(t *testing.T) {
	m, ran := newRecordingMachine(t)

	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !m.Done() {
		t.Fatalf("expected machine done after Run")
	}

	want := sequence[:len(sequence)-1] // exclude StateFinalized, which has no step
	if len(*ran) != len(want) {
		t.Fatalf("expected %d states run, got %d: %v", len(want), len(*ran), *ran)
	}
	for i, s := range want {
		if (*ran)[i] != s {
			t.Fatalf("state %d: got %s, want %s", i, (*ran)[i], s)
		}
	}
}

func TestStepAdvancesOneStateAtATime(t *testing.T) {
	m, ran := newRecordingMachine(t)

	if err := m.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if len(*ran) != 1 || (*ran)[0] != StateNegotiationRequest {
		t.Fatalf("expected only NegotiationRequest to have run, got %v", *ran)
	}
	if m.Current() != StateNegotiationResponse {
		t.Fatalf("expected current state NegotiationResponse, got %s", m.Current())
	}
}

func TestStepPropagatesStepError(t *testing.T) {
	boom := errors.New("boom")
	steps := map[State]StepFunc{
		StateNegotiationRequest: func() error { return boom },
	}
	m := New(steps)

	err := m.Step()
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom error, got %v", err)
	}
}

func TestStepAfterDoneIsNoOp(t *testing.T) {
	m, _ := newRecordingMachine(t)
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := m.Step(); err != nil {
		t.Fatalf("Step after done should be a no-op, got %v", err)
	}
}

func TestReenterAtCapabilitiesExchangeSkipsEarlyPhases(t *testing.T) {
	var ran []State
	steps := map[State]StepFunc{}
	for _, s := range sequence {
		if s == StateFinalized {
			continue
		}
		state := s
		steps[state] = func() error {
			ran = append(ran, state)
			return nil
		}
	}
	m := New(steps)
	m.ReenterAtCapabilitiesExchange()

	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []State{StateCapabilitiesExchange, StateConnectionFinalization}
	if len(ran) != len(want) {
		t.Fatalf("expected capabilities exchange and connection finalization to run, got %v", ran)
	}
	for i, s := range want {
		if ran[i] != s {
			t.Fatalf("state %d: got %s, want %s", i, ran[i], s)
		}
	}
}
