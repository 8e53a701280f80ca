package fsm

import "github.com/librescoot/librefsm"

// Operating modes
const (
	StateOff       librefsm.StateID = "off"
	StateRadio     librefsm.StateID = "radio"
	StateBluetooth librefsm.StateID = "bluetooth"
	StatePhoneCall librefsm.StateID = "phone-call"
	StatePhonebook librefsm.StateID = "phonebook"
)

// Mode events
const (
	// User input
	EvPowerOn         librefsm.EventID = "power-on"
	EvPowerOff        librefsm.EventID = "power-off"
	EvSelectRadio     librefsm.EventID = "select-radio"
	EvSelectBluetooth librefsm.EventID = "select-bluetooth"
	EvPhonebookOpen   librefsm.EventID = "phonebook-open"
	EvPhonebookClose  librefsm.EventID = "phonebook-close"

	// External notifications (from the Bluetooth stack)
	EvCallStarted   librefsm.EventID = "call-started"
	EvCallEnded     librefsm.EventID = "call-ended"
	EvStreamStarted librefsm.EventID = "stream-started"
)
