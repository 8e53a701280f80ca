package fsm

import (
	"github.com/librescoot/librefsm"
)

// NewDefinition creates the mode FSM definition.
// The actions parameter provides the implementation for state entry/exit
// and guards. Guarded transitions for the same event are tried in
// declaration order; the unguarded one is the fallback.
func NewDefinition(actions Actions) *librefsm.Definition {
	return librefsm.NewDefinition().
		State(StateOff,
			librefsm.WithOnEnter(actions.EnterOff),
		).
		State(StateRadio,
			librefsm.WithOnEnter(actions.EnterRadio),
		).
		State(StateBluetooth,
			librefsm.WithOnEnter(actions.EnterBluetooth),
		).
		State(StatePhoneCall,
			librefsm.WithOnEnter(actions.EnterPhoneCall),
			librefsm.WithOnExit(actions.ExitPhoneCall),
		).
		State(StatePhonebook,
			librefsm.WithOnEnter(actions.EnterPhonebook),
			librefsm.WithOnExit(actions.ExitPhonebook),
		).

		// === Transitions ===

		// Power control. Power-on resumes the last persisted listening mode.
		Transition(StateOff, EvPowerOn, StateBluetooth,
			librefsm.WithGuard(actions.ResumesBluetooth),
		).
		Transition(StateOff, EvPowerOn, StateRadio).
		Transition(StateRadio, EvPowerOff, StateOff).
		Transition(StateBluetooth, EvPowerOff, StateOff).
		Transition(StatePhonebook, EvPowerOff, StateOff).
		Transition(StatePhoneCall, EvPowerOff, StateOff).

		// Listening mode selection
		Transition(StateRadio, EvSelectBluetooth, StateBluetooth).
		Transition(StateBluetooth, EvSelectRadio, StateRadio).
		Transition(StateRadio, EvStreamStarted, StateBluetooth). // stream start steals focus
		Transition(StateOff, EvStreamStarted, StateBluetooth).   // and powers on
		Transition(StatePhonebook, EvStreamStarted, StateBluetooth).

		// Phonebook overlays a listening mode and returns to it
		Transition(StateRadio, EvPhonebookOpen, StatePhonebook).
		Transition(StateBluetooth, EvPhonebookOpen, StatePhonebook).
		Transition(StatePhonebook, EvPhonebookClose, StateRadio,
			librefsm.WithGuard(actions.ClosesToRadio),
		).
		Transition(StatePhonebook, EvPhonebookClose, StateBluetooth).

		// Incoming call preempts everything, including Off
		Transition(StateOff, EvCallStarted, StatePhoneCall,
			librefsm.WithAction(actions.OnAutoPowerOn),
		).
		Transition(StateRadio, EvCallStarted, StatePhoneCall).
		Transition(StateBluetooth, EvCallStarted, StatePhoneCall).
		Transition(StatePhonebook, EvCallStarted, StatePhoneCall).

		// Call teardown restores whatever the call preempted
		Transition(StatePhoneCall, EvCallEnded, StateOff,
			librefsm.WithGuard(actions.RestoresToOff),
		).
		Transition(StatePhoneCall, EvCallEnded, StateRadio,
			librefsm.WithGuard(actions.RestoresToRadio),
		).
		Transition(StatePhoneCall, EvCallEnded, StatePhonebook,
			librefsm.WithGuard(actions.RestoresToPhonebook),
		).
		Transition(StatePhoneCall, EvCallEnded, StateBluetooth).

		// Initial state
		Initial(StateOff)
}
