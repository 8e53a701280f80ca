package core

import (
	"context"

	"github.com/librescoot/librefsm"

	"stereo-service/internal/fsm"
	"stereo-service/internal/types"
)

// Ensure StereoSystem implements fsm.Actions
var _ fsm.Actions = (*StereoSystem)(nil)

func stateIDToMode(id librefsm.StateID) types.OperatingMode {
	switch id {
	case fsm.StateOff:
		return types.ModeOff
	case fsm.StateRadio:
		return types.ModeRadio
	case fsm.StateBluetooth:
		return types.ModeBluetooth
	case fsm.StatePhoneCall:
		return types.ModePhoneCall
	case fsm.StatePhonebook:
		return types.ModePhonebook
	default:
		return types.OperatingMode(string(id))
	}
}

func modeToStateID(m types.OperatingMode) librefsm.StateID {
	switch m {
	case types.ModeOff:
		return fsm.StateOff
	case types.ModeRadio:
		return fsm.StateRadio
	case types.ModeBluetooth:
		return fsm.StateBluetooth
	case types.ModePhoneCall:
		return fsm.StatePhoneCall
	case types.ModePhonebook:
		return fsm.StatePhonebook
	default:
		return librefsm.StateID(string(m))
	}
}

// initFSM initializes and starts the librefsm machine
func (s *StereoSystem) initFSM(ctx context.Context) error {
	def := fsm.NewDefinition(s)
	machine, err := def.Build()
	if err != nil {
		return err
	}
	s.machine = machine

	// Sync the mode field and publish on every transition
	s.machine.OnStateChange(func(from, to librefsm.StateID) {
		oldMode := stateIDToMode(from)
		newMode := stateIDToMode(to)

		s.setMode(newMode)
		s.logger.Infof("Mode transition: %s -> %s", oldMode, newMode)

		if err := s.redis.PublishMode(newMode); err != nil {
			s.logger.Errorf("Failed to publish mode: %v", err)
		}
		if (oldMode == types.ModeOff) != (newMode == types.ModeOff) {
			if err := s.redis.PublishPower(newMode != types.ModeOff); err != nil {
				s.logger.Errorf("Failed to publish power state: %v", err)
			}
		}
	})

	if err := s.machine.Start(ctx); err != nil {
		return err
	}

	s.logger.Infof("librefsm state machine started")
	return nil
}

// === State Entry Actions ===

func (s *StereoSystem) EnterOff(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterOff")

	s.cancelBrowse()
	s.mu.Lock()
	playing := s.a2dp.Playing
	s.a2dp.Playing = false
	s.autoPoweredOn = false
	s.voiceActive = false
	s.mu.Unlock()

	if playing {
		if err := s.redis.RequestPlayback("pause"); err != nil {
			s.logger.Warnf("Failed to pause playback on power off: %v", err)
		}
	}

	s.saveState()
	return nil
}

func (s *StereoSystem) EnterRadio(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterRadio")

	s.mu.RLock()
	band, freq := s.radio.Band, s.radio.Frequency
	station := s.radio.StationName
	s.mu.RUnlock()

	if err := s.redis.SetTunerBand(band); err != nil {
		s.logger.Warnf("Failed to set tuner band: %v", err)
	}
	if err := s.redis.TuneFrequency(freq); err != nil {
		s.logger.Warnf("Failed to tune: %v", err)
	}

	// Coming from Bluetooth, stop the stream from playing over the radio.
	if stateIDToMode(c.FromState) == types.ModeBluetooth {
		s.mu.Lock()
		playing := s.a2dp.Playing
		s.a2dp.Playing = false
		s.mu.Unlock()
		if playing {
			if err := s.redis.RequestPlayback("pause"); err != nil {
				s.logger.Warnf("Failed to pause stream: %v", err)
			}
		}
	}

	s.notify(types.Notification{
		Category: types.NotifyModeChange,
		Text:     "Radio",
		Subtext:  radioSubtext(station, band, freq),
	})
	return nil
}

func radioSubtext(station string, band types.Band, freq float64) string {
	if station != "" {
		return station
	}
	return formatFrequency(band, freq)
}

func (s *StereoSystem) EnterBluetooth(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterBluetooth")

	s.cancelBrowse()
	s.mu.RLock()
	vol := s.a2dp.Volume
	connected := s.connected
	s.mu.RUnlock()

	if connected {
		if err := s.redis.SetBluetoothVolume("a2dp", vol); err != nil {
			s.logger.Warnf("Failed to sync A2DP volume: %v", err)
		}
	}

	subtext := "No device"
	if connected {
		subtext = ""
	}
	s.notify(types.Notification{
		Category: types.NotifyModeChange,
		Text:     "Bluetooth",
		Subtext:  subtext,
	})
	return nil
}

func (s *StereoSystem) EnterPhoneCall(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterPhoneCall")

	s.cancelBrowse()
	s.mu.Lock()
	s.hfp.CallActive = true
	caller := s.hfp.CallerID
	spk, mic := s.hfp.SpeakerVolume, s.hfp.MicVolume
	s.mu.Unlock()

	if err := s.redis.SetBluetoothVolume("hfp-speaker", spk); err != nil {
		s.logger.Warnf("Failed to set HFP speaker volume: %v", err)
	}
	if err := s.redis.SetBluetoothVolume("hfp-mic", mic); err != nil {
		s.logger.Warnf("Failed to set HFP mic volume: %v", err)
	}

	if caller == "" {
		caller = "Unknown Caller"
	}
	s.notify(types.Notification{
		Category: types.NotifyCallActive,
		Text:     "Call",
		Subtext:  caller,
		Priority: 10,
	})
	return nil
}

func (s *StereoSystem) EnterPhonebook(c *librefsm.Context) error {
	s.logger.Debugf("FSM: EnterPhonebook")

	s.mu.Lock()
	s.phonebookIndex = 0
	s.mu.Unlock()

	s.notify(types.Notification{
		Category: types.NotifyModeChange,
		Text:     "Phonebook",
	})
	return nil
}

// === State Exit Actions ===

func (s *StereoSystem) ExitPhoneCall(c *librefsm.Context) error {
	s.logger.Debugf("FSM: ExitPhoneCall")
	s.mu.Lock()
	s.hfp.CallActive = false
	s.hfp.CallerID = ""
	s.mu.Unlock()
	return nil
}

func (s *StereoSystem) ExitPhonebook(c *librefsm.Context) error {
	s.logger.Debugf("FSM: ExitPhonebook")
	return nil
}

// === Guards ===

func (s *StereoSystem) ResumesBluetooth(c *librefsm.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resumeMode == types.ModeBluetooth
}

func (s *StereoSystem) RestoresToOff(c *librefsm.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoPoweredOn
}

// RestoresToRadio and RestoresToPhonebook arbitrate call teardown;
// ClosesToRadio arbitrates phonebook close. They must not look at the
// transition context: guards are evaluated before the machine leaves the
// current state, so only the remembered prior modes identify the target.
func (s *StereoSystem) RestoresToRadio(c *librefsm.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priorMode == types.ModeRadio
}

func (s *StereoSystem) RestoresToPhonebook(c *librefsm.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priorMode == types.ModePhonebook
}

func (s *StereoSystem) ClosesToRadio(c *librefsm.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priorListening == types.ModeRadio
}

// === Transition Actions ===

func (s *StereoSystem) OnAutoPowerOn(c *librefsm.Context) error {
	s.logger.Infof("FSM: Incoming call while off, powering on")
	s.mu.Lock()
	s.autoPoweredOn = true
	s.priorMode = types.ModeOff
	s.mu.Unlock()
	return nil
}
