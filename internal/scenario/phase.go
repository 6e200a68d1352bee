package scenario

import (
	"errors"
	"fmt"

	"github.com/ibeckermayer/docprobe/internal/types"
)

// ErrInvalidTransition is returned when a scenario moves between phases
// out of order.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Phase is the step a scenario is in.
type Phase int

const (
	Init Phase = iota
	Navigating
	Probing
	Verifying
	Finalized
)

func (p Phase) String() string {
	switch p {
	case Init:
		return "init"
	case Navigating:
		return "navigating"
	case Probing:
		return "probing"
	case Verifying:
		return "verifying"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Scenarios may navigate again after probing or verifying (multi-page
// checks), and may finalize from any phase.
var transitions = map[Phase][]Phase{
	Init:       {Navigating, Finalized},
	Navigating: {Navigating, Probing, Verifying, Finalized},
	Probing:    {Probing, Navigating, Verifying, Finalized},
	Verifying:  {Verifying, Probing, Navigating, Finalized},
}

// Machine tracks a scenario's phase and terminal status. It is used from
// the scenario's goroutine only.
type Machine struct {
	phase  Phase
	status types.Status
}

func (m *Machine) Phase() Phase { return m.phase }

// Status is empty until the machine is finalized.
func (m *Machine) Status() types.Status { return m.status }

// To moves to phase p.
func (m *Machine) To(p Phase) error {
	if p == Finalized {
		return fmt.Errorf("%w: use Finalize", ErrInvalidTransition)
	}
	for _, next := range transitions[m.phase] {
		if next == p {
			m.phase = p
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.phase, p)
}

// Finalize ends the machine with a terminal status.
func (m *Machine) Finalize(s types.Status) error {
	if m.phase == Finalized {
		return fmt.Errorf("%w: already finalized as %s", ErrInvalidTransition, m.status)
	}
	switch s {
	case types.StatusPass, types.StatusFail, types.StatusSkip:
	default:
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidTransition, s)
	}
	m.phase = Finalized
	m.status = s
	return nil
}
