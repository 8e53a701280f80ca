package core

import (
	"time"

	"stereo-service/internal/fsm"
	"stereo-service/internal/types"
)

// External notifications arrive on Redis callback goroutines. Every handler
// enqueues a closure so the state mutation happens on the consumer
// goroutine, then returns immediately.

func (s *StereoSystem) handleCallStatus(status, callerID string) error {
	s.enqueue(func() {
		switch status {
		case "incoming", "active":
			mode := s.Mode()
			if mode == types.ModePhoneCall {
				// Caller ID update for the call we are already in.
				s.mu.Lock()
				s.hfp.CallerID = callerID
				s.mu.Unlock()
				return
			}

			s.mu.Lock()
			s.hfp.CallerID = callerID
			if mode != types.ModeOff {
				s.priorMode = mode
			}
			s.mu.Unlock()

			if err := s.sendEvent(fsm.EvCallStarted); err != nil {
				s.logger.Errorf("Failed to enter call mode: %v", err)
				return
			}

			if status == "incoming" {
				s.logger.Infof("Auto-answering incoming call")
				if err := s.redis.RequestCall("answer"); err != nil {
					s.logger.Errorf("Failed to answer call: %v", err)
				}
			}

		default:
			if s.Mode() != types.ModePhoneCall {
				return
			}
			if err := s.sendEvent(fsm.EvCallEnded); err != nil {
				s.logger.Errorf("Failed to leave call mode: %v", err)
			}
		}
	})
	return nil
}

func (s *StereoSystem) handleStreamStatus(active bool) error {
	s.enqueue(func() {
		s.mu.Lock()
		s.a2dp.Playing = active
		s.mu.Unlock()

		// A stream starting steals focus from the radio or the phonebook,
		// and powers the system on if it was off. Calls stay untouched.
		if !active {
			return
		}
		switch s.Mode() {
		case types.ModeOff, types.ModeRadio, types.ModePhonebook:
			s.logger.Infof("A2DP stream started, switching to Bluetooth")
			if err := s.sendEvent(fsm.EvStreamStarted); err != nil {
				s.logger.Errorf("Failed to switch to Bluetooth: %v", err)
			}
		}
	})
	return nil
}

func (s *StereoSystem) handleDeviceStatus(connected bool, mac string) error {
	s.enqueue(func() {
		if connected {
			s.deviceConnected(mac)
		} else {
			s.deviceDisconnected()
		}
	})
	return nil
}

func (s *StereoSystem) deviceConnected(macStr string) {
	mac, err := ParseMAC(macStr)
	if err != nil {
		s.logger.Errorf("Ignoring device connect: %v", err)
		return
	}

	// An unknown device keeps the current volumes and gets no profile yet;
	// its slot is created by the disconnect snapshot. Creating it here
	// would let a device that merely brushed past evict a stored profile.
	s.mu.Lock()
	s.currentMAC = mac
	s.connected = true
	p := s.profiles.Lookup(mac)
	if p != nil {
		s.logger.Infof("Known device %s, restoring volumes a2dp=%d spk=%d mic=%d",
			macStr, p.A2DPVolume, p.HFPSpeakerVolume, p.HFPMicVolume)
		s.a2dp.Volume = p.A2DPVolume
		s.hfp.SpeakerVolume = p.HFPSpeakerVolume
		s.hfp.MicVolume = p.HFPMicVolume
		p.LastSeen = time.Now()
	} else {
		s.logger.Infof("New device %s, keeping current volumes", macStr)
	}
	known := p != nil
	vol, spk, mic := s.a2dp.Volume, s.hfp.SpeakerVolume, s.hfp.MicVolume
	s.mu.Unlock()

	if err := s.redis.SetBluetoothVolume("a2dp", vol); err != nil {
		s.logger.Warnf("Failed to push A2DP volume: %v", err)
	}
	if known {
		if err := s.redis.SetBluetoothVolume("hfp-speaker", spk); err != nil {
			s.logger.Warnf("Failed to push HFP speaker volume: %v", err)
		}
		if err := s.redis.SetBluetoothVolume("hfp-mic", mic); err != nil {
			s.logger.Warnf("Failed to push HFP mic volume: %v", err)
		}
	}

	s.notify(types.Notification{
		Category: types.NotifyModeChange,
		Text:     "Device connected",
		Duration: 3 * time.Second,
	})
}

func (s *StereoSystem) deviceDisconnected() {
	var zero [6]byte

	s.mu.Lock()
	mac := s.currentMAC
	if mac != zero {
		// Capture the levels the departing device was used with.
		s.profiles.Remember(mac, s.a2dp.Volume, s.hfp.SpeakerVolume, s.hfp.MicVolume, time.Now())
	}
	s.currentMAC = zero
	s.connected = false
	s.a2dp.Playing = false
	s.a2dp.Track = ""
	s.a2dp.Artist = ""
	blobs := s.profiles.Encode()
	s.mu.Unlock()

	if mac != zero {
		if err := s.redis.SaveDeviceProfiles(blobs); err != nil {
			s.logger.Warnf("Failed to persist device profiles: %v", err)
		}
	}

	s.notify(types.Notification{
		Category: types.NotifyModeChange,
		Text:     "Device disconnected",
		Duration: 3 * time.Second,
	})
}

func (s *StereoSystem) handleTrackMetadata(title, artist string) error {
	s.enqueue(func() {
		s.mu.Lock()
		s.a2dp.Track = types.Truncate(title, types.MaxNotificationText)
		s.a2dp.Artist = types.Truncate(artist, types.MaxNotificationSubtext)
		s.mu.Unlock()

		if s.Mode() == types.ModeBluetooth {
			s.notify(types.Notification{
				Category: types.NotifyTrack,
				Text:     title,
				Subtext:  artist,
			})
		}
	})
	return nil
}

func (s *StereoSystem) handleRdsUpdate(station, song string) error {
	s.enqueue(func() {
		s.mu.Lock()
		s.radio.StationName = types.Truncate(station, types.MaxNotificationText)
		s.radio.SongInfo = types.Truncate(song, types.MaxNotificationSubtext)
		s.mu.Unlock()

		if s.Mode() == types.ModeRadio && !s.isBrowsing() {
			s.notify(types.Notification{
				Category: types.NotifyRadioStation,
				Text:     station,
				Subtext:  song,
			})
		}
	})
	return nil
}

func (s *StereoSystem) handleControlRequest(value string) error {
	s.enqueue(func() {
		s.logger.Infof("Control request: %s", value)
		var err error
		switch value {
		case "power:on":
			err = s.sendEvent(fsm.EvPowerOn)
		case "power:off":
			err = s.sendEvent(fsm.EvPowerOff)
		case "mode:radio":
			err = s.sendEvent(fsm.EvSelectRadio)
		case "mode:bluetooth":
			err = s.sendEvent(fsm.EvSelectBluetooth)
		case "phonebook:open":
			mode := s.Mode()
			if mode == types.ModeRadio || mode == types.ModeBluetooth {
				s.mu.Lock()
				s.priorListening = mode
				s.mu.Unlock()
				err = s.sendEvent(fsm.EvPhonebookOpen)
			}
		case "phonebook:close":
			err = s.sendEvent(fsm.EvPhonebookClose)
		case "save":
			s.saveState()
		}
		if err != nil {
			s.logger.Warnf("Control request %s not applicable: %v", value, err)
		}
	})
	return nil
}
