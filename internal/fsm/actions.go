package fsm

import "github.com/librescoot/librefsm"

// Actions defines the interface for mode state machine actions.
// StereoSystem implements this interface to handle state entry/exit
// and provide guards for conditional transitions.
type Actions interface {
	// State entry actions
	EnterOff(c *librefsm.Context) error
	EnterRadio(c *librefsm.Context) error
	EnterBluetooth(c *librefsm.Context) error
	EnterPhoneCall(c *librefsm.Context) error
	EnterPhonebook(c *librefsm.Context) error

	// State exit actions
	ExitPhoneCall(c *librefsm.Context) error
	ExitPhonebook(c *librefsm.Context) error

	// Guards for conditional transitions
	ResumesBluetooth(c *librefsm.Context) bool    // last persisted listening mode was Bluetooth
	RestoresToOff(c *librefsm.Context) bool       // call arrived while powered off
	RestoresToRadio(c *librefsm.Context) bool     // mode before the call was Radio
	RestoresToPhonebook(c *librefsm.Context) bool // mode before the call was Phonebook
	ClosesToRadio(c *librefsm.Context) bool       // mode the phonebook overlaid was Radio

	// Transition actions
	OnAutoPowerOn(c *librefsm.Context) error // call arrived while off
}
