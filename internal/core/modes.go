package core

import (
	"fmt"
	"math"
	"time"

	"stereo-service/internal/fsm"
	"stereo-service/internal/types"
)

// handleButtonEvent dispatches one debounced gesture to the active mode.
// Runs on the consumer goroutine.
func (s *StereoSystem) handleButtonEvent(ev types.ButtonEvent) {
	s.logger.Debugf("Button event: %s %s", ev.Button, ev.Kind)

	mode := s.Mode()

	// Off ignores everything except a rotary tap.
	if mode == types.ModeOff {
		if ev.Button == types.ButtonRotary && ev.Kind == types.EventRelease {
			if err := s.sendEvent(fsm.EvPowerOn); err != nil {
				s.logger.Errorf("Failed to power on: %v", err)
			}
		}
		return
	}

	// Holding the rotary knob powers off from any mode.
	if ev.Button == types.ButtonRotary && ev.Kind == types.EventLongPress {
		if err := s.sendEvent(fsm.EvPowerOff); err != nil {
			s.logger.Errorf("Failed to power off: %v", err)
		}
		return
	}

	switch mode {
	case types.ModeRadio:
		s.handleRadioButton(ev)
	case types.ModeBluetooth:
		s.handleBluetoothButton(ev)
	case types.ModePhoneCall:
		s.handleCallButton(ev)
	case types.ModePhonebook:
		s.handlePhonebookButton(ev)
	}
}

// === Radio mode ===

func (s *StereoSystem) handleRadioButton(ev types.ButtonEvent) {
	switch {
	case ev.Button == types.ButtonRotary:
		switch ev.Kind {
		case types.EventRotaryCW:
			if s.isBrowsing() {
				s.browseStep(1)
			} else {
				s.adjustRadioVolume(1)
			}
		case types.EventRotaryCCW:
			if s.isBrowsing() {
				s.browseStep(-1)
			} else {
				s.adjustRadioVolume(-1)
			}
		case types.EventPress:
			if !s.isBrowsing() {
				s.showFrequency()
			}
		case types.EventRelease:
			if s.isBrowsing() {
				s.commitBrowse()
			} else {
				s.enterBrowse()
			}
		}

	case ev.Button.IsPreset():
		switch ev.Kind {
		case types.EventRelease:
			s.recallPreset(ev.Button.PresetSlot())
		case types.EventLongPress:
			s.storePreset(ev.Button.PresetSlot())
		}

	// Hardware seek lives in the tuner service; these buttons only
	// announce the request on the display.
	case ev.Button == types.ButtonSeekDown && ev.Kind == types.EventRelease:
		s.notifySeek("Seeking down")

	case ev.Button == types.ButtonSeekUp && ev.Kind == types.EventRelease:
		s.notifySeek("Seeking up")

	case ev.Button == types.ButtonVoiceStart && ev.Kind == types.EventPress:
		s.requestVoice("start")
	case ev.Button == types.ButtonVoiceStop && ev.Kind == types.EventPress:
		s.requestVoice("stop")
	}
}

func (s *StereoSystem) bandGrid() (min, max, step float64) {
	s.mu.RLock()
	band := s.radio.Band
	s.mu.RUnlock()
	if band == types.BandAM {
		return amMinFrequency, amMaxFrequency, amStep
	}
	return fmMinFrequency, fmMaxFrequency, fmStep
}

func (s *StereoSystem) showFrequency() {
	s.mu.RLock()
	band, freq := s.radio.Band, s.radio.Frequency
	station := s.radio.StationName
	s.mu.RUnlock()

	s.notify(types.Notification{
		Category: types.NotifyFrequency,
		Text:     formatFrequency(band, freq),
		Subtext:  station,
		Duration: 3 * time.Second,
	})
}

func (s *StereoSystem) notifySeek(text string) {
	s.notify(types.Notification{
		Category: types.NotifyFrequency,
		Text:     text,
		Duration: 2 * time.Second,
	})
}

func (s *StereoSystem) recallPreset(slot int) {
	s.mu.Lock()
	band := s.radio.Band
	freq := s.radio.Presets(band)[slot]
	if freq > 0 {
		s.radio.Frequency = freq
		s.radio.StationName = ""
		s.radio.SongInfo = ""
	}
	s.mu.Unlock()

	if freq <= 0 {
		s.logger.Infof("Preset %d is empty", slot+1)
		s.notify(types.Notification{
			Category: types.NotifyFrequency,
			Text:     fmt.Sprintf("Preset %d empty", slot+1),
			Duration: 2 * time.Second,
		})
		return
	}

	s.logger.Infof("Recalling preset %d: %.2f", slot+1, freq)
	if err := s.redis.TuneFrequency(freq); err != nil {
		s.logger.Warnf("Failed to tune: %v", err)
	}
	if err := s.redis.SaveTuning(band, freq); err != nil {
		s.logger.Warnf("Failed to save tuning: %v", err)
	}
	s.notify(types.Notification{
		Category: types.NotifyFrequency,
		Text:     formatFrequency(band, freq),
		Subtext:  fmt.Sprintf("Preset %d", slot+1),
		Duration: 3 * time.Second,
	})
}

func (s *StereoSystem) storePreset(slot int) {
	s.mu.Lock()
	band := s.radio.Band
	freq := s.radio.Frequency
	s.radio.Presets(band)[slot] = freq
	s.mu.Unlock()

	s.logger.Infof("Storing preset %d: %.2f", slot+1, freq)
	if err := s.redis.SavePreset(band, slot, freq); err != nil {
		s.logger.Errorf("Failed to save preset: %v", err)
	}
	s.notify(types.Notification{
		Category: types.NotifyFrequency,
		Text:     fmt.Sprintf("Preset %d saved", slot+1),
		Subtext:  formatFrequency(band, freq),
		Duration: 3 * time.Second,
	})
}

// === Station browsing ===

func (s *StereoSystem) isBrowsing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.browsing
}

// enterBrowse starts stepping a candidate frequency without touching the
// tuner. The current station keeps playing until a candidate is committed.
func (s *StereoSystem) enterBrowse() {
	min, _, step := s.bandGrid()

	s.mu.Lock()
	s.browsing = true
	idx := int(math.Round((s.radio.Frequency - min) / step))
	if idx < 0 {
		idx = 0
	} else if idx >= browseSlots {
		idx = browseSlots - 1
	}
	s.browseIndex = idx
	s.browseSeq++
	s.mu.Unlock()

	s.logger.Infof("Browse started at slot %d", idx)
	s.notifyBrowse()
}

func (s *StereoSystem) browseFrequency() float64 {
	min, _, step := s.bandGrid()
	s.mu.RLock()
	idx := s.browseIndex
	s.mu.RUnlock()
	return math.Round((min+float64(idx)*step)*100) / 100
}

func (s *StereoSystem) notifyBrowse() {
	s.mu.RLock()
	band := s.radio.Band
	s.mu.RUnlock()
	s.notify(types.Notification{
		Category: types.NotifyFrequency,
		Text:     formatFrequency(band, s.browseFrequency()),
		Subtext:  "Browsing",
	})
}

func (s *StereoSystem) browseStep(dir int) {
	s.mu.Lock()
	idx := s.browseIndex + dir
	if idx < 0 {
		idx = browseSlots - 1
	} else if idx >= browseSlots {
		idx = 0
	}
	s.browseIndex = idx
	s.browseSeq++
	seq := s.browseSeq
	s.mu.Unlock()

	s.notifyBrowse()

	// Last write wins: only the newest pending commit may fire.
	s.afterFunc(tuneCommitDelay, func() {
		s.enqueue(func() {
			s.mu.RLock()
			stale := !s.browsing || seq != s.browseSeq
			s.mu.RUnlock()
			if stale {
				return
			}
			s.logger.Debugf("Browse settled, committing")
			s.commitBrowse()
		})
	})
}

// commitBrowse tunes to the browsed frequency and leaves browse mode.
func (s *StereoSystem) commitBrowse() {
	freq := s.browseFrequency()

	s.mu.Lock()
	s.browsing = false
	s.browseSeq++
	s.radio.Frequency = freq
	s.radio.StationName = ""
	s.radio.SongInfo = ""
	band := s.radio.Band
	s.mu.Unlock()

	s.logger.Infof("Committing browse: %.2f", freq)
	if err := s.redis.TuneFrequency(freq); err != nil {
		s.logger.Warnf("Failed to tune: %v", err)
	}
	if err := s.redis.SaveTuning(band, freq); err != nil {
		s.logger.Warnf("Failed to save tuning: %v", err)
	}
	s.notify(types.Notification{
		Category: types.NotifyFrequency,
		Text:     formatFrequency(band, freq),
		Duration: 3 * time.Second,
	})
}

// cancelBrowse abandons browsing without retuning.
func (s *StereoSystem) cancelBrowse() {
	s.mu.Lock()
	s.browsing = false
	s.browseSeq++
	s.mu.Unlock()
}

// === Bluetooth mode ===

func (s *StereoSystem) handleBluetoothButton(ev types.ButtonEvent) {
	switch {
	case ev.Button == types.ButtonRotary:
		switch ev.Kind {
		case types.EventRotaryCW:
			s.adjustA2DPVolume(1)
		case types.EventRotaryCCW:
			s.adjustA2DPVolume(-1)
		case types.EventRelease:
			s.togglePlayback()
		}

	case ev.Button == types.ButtonSeekUp && ev.Kind == types.EventRelease:
		s.requestPlayback("next")
	case ev.Button == types.ButtonSeekDown && ev.Kind == types.EventRelease:
		s.requestPlayback("prev")

	// Held seek buttons double as a volume ramp.
	case ev.Button == types.ButtonSeekUp && ev.Kind == types.EventRepeat:
		s.adjustA2DPVolume(1)
	case ev.Button == types.ButtonSeekDown && ev.Kind == types.EventRepeat:
		s.adjustA2DPVolume(-1)

	case ev.Button == types.ButtonVoiceStart && ev.Kind == types.EventPress:
		s.requestVoice("start")
	case ev.Button == types.ButtonVoiceStop && ev.Kind == types.EventPress:
		s.requestVoice("stop")
	}
}

func (s *StereoSystem) togglePlayback() {
	s.mu.Lock()
	playing := !s.a2dp.Playing
	s.a2dp.Playing = playing
	track := s.a2dp.Track
	s.mu.Unlock()

	action := "pause"
	text := "Paused"
	if playing {
		action = "play"
		text = "Playing"
	}
	s.requestPlayback(action)
	s.notify(types.Notification{
		Category: types.NotifyTrack,
		Text:     text,
		Subtext:  track,
		Duration: 2 * time.Second,
	})
}

func (s *StereoSystem) requestPlayback(action string) {
	if err := s.redis.RequestPlayback(action); err != nil {
		s.logger.Warnf("Failed to request playback %s: %v", action, err)
	}
}

// requestVoice starts or stops a voice-assistant session. Start while a
// session is active and stop while none is are no-ops; a rejected
// peripheral call leaves the session flag where it was.
func (s *StereoSystem) requestVoice(action string) {
	start := action == "start"

	s.mu.Lock()
	if s.voiceActive == start {
		s.mu.Unlock()
		if start {
			s.logger.Warnf("Voice assistant already active, ignoring start")
		} else {
			s.logger.Warnf("No voice assistant session active, ignoring stop")
		}
		return
	}
	s.voiceActive = start
	s.mu.Unlock()

	if err := s.redis.RequestVoice(action); err != nil {
		s.logger.Warnf("Failed to request voice %s: %v", action, err)
		s.mu.Lock()
		s.voiceActive = !start
		s.mu.Unlock()
		s.notify(types.Notification{
			Category: types.NotifyModeChange,
			Text:     "Voice assistant unavailable",
			Duration: 2 * time.Second,
		})
	}
}

// === Phone call mode ===

func (s *StereoSystem) handleCallButton(ev types.ButtonEvent) {
	switch {
	case ev.Button == types.ButtonRotary:
		switch ev.Kind {
		case types.EventRotaryCW:
			s.adjustHFPVolume(1)
		case types.EventRotaryCCW:
			s.adjustHFPVolume(-1)
		case types.EventPress:
			s.logger.Infof("Hanging up call")
			if err := s.redis.RequestCall("hangup"); err != nil {
				s.logger.Errorf("Failed to request hangup: %v", err)
			}
		}

	case ev.Button == types.ButtonVoiceStart && ev.Kind == types.EventPress:
		// Manual answer, in case auto-answer is ever disabled upstream.
		if err := s.redis.RequestCall("answer"); err != nil {
			s.logger.Errorf("Failed to request answer: %v", err)
		}
	}
}

// === Phonebook mode ===

func (s *StereoSystem) handlePhonebookButton(ev types.ButtonEvent) {
	switch {
	case ev.Button == types.ButtonRotary:
		switch ev.Kind {
		case types.EventRotaryCW:
			s.phonebookScroll(1)
		case types.EventRotaryCCW:
			s.phonebookScroll(-1)
		case types.EventRelease:
			if err := s.sendEvent(fsm.EvPhonebookClose); err != nil {
				s.logger.Errorf("Failed to close phonebook: %v", err)
			}
		}
	}
}

// phonebookScroll steps the selection. Entry content lives in the phone and
// is rendered by the display service; we only publish the position.
func (s *StereoSystem) phonebookScroll(dir int) {
	s.mu.Lock()
	s.phonebookIndex += dir
	if s.phonebookIndex < 0 {
		s.phonebookIndex = 0
	}
	idx := s.phonebookIndex
	s.mu.Unlock()

	s.notify(types.Notification{
		Category: types.NotifyModeChange,
		Text:     "Phonebook",
		Subtext:  fmt.Sprintf("Entry %d", idx+1),
	})
}

// === Volume ===

func applyVolumeDelta(v uint8, delta int) uint8 {
	n := int(v) + delta
	if n < 0 {
		n = 0
	} else if n > types.MaxVolume {
		n = types.MaxVolume
	}
	return uint8(n)
}

func (s *StereoSystem) adjustRadioVolume(delta int) {
	s.mu.Lock()
	s.radio.Volume = applyVolumeDelta(s.radio.Volume, delta)
	vol := s.radio.Volume
	s.mu.Unlock()

	if err := s.redis.SaveVolume("radio", vol); err != nil {
		s.logger.Warnf("Failed to save radio volume: %v", err)
	}
	s.notifyVolume("Volume", vol)
}

func (s *StereoSystem) adjustA2DPVolume(delta int) {
	s.mu.Lock()
	s.a2dp.Volume = applyVolumeDelta(s.a2dp.Volume, delta)
	vol := s.a2dp.Volume
	s.mu.Unlock()

	if err := s.redis.SetBluetoothVolume("a2dp", vol); err != nil {
		s.logger.Warnf("Failed to set A2DP volume: %v", err)
	}
	if err := s.redis.SaveVolume("a2dp", vol); err != nil {
		s.logger.Warnf("Failed to save A2DP volume: %v", err)
	}
	s.notifyVolume("Volume", vol)
}

func (s *StereoSystem) adjustHFPVolume(delta int) {
	s.mu.Lock()
	s.hfp.SpeakerVolume = applyVolumeDelta(s.hfp.SpeakerVolume, delta)
	vol := s.hfp.SpeakerVolume
	s.mu.Unlock()

	if err := s.redis.SetBluetoothVolume("hfp-speaker", vol); err != nil {
		s.logger.Warnf("Failed to set HFP speaker volume: %v", err)
	}
	if err := s.redis.SaveVolume("hfp-speaker", vol); err != nil {
		s.logger.Warnf("Failed to save HFP speaker volume: %v", err)
	}
	s.notifyVolume("Call volume", vol)
}

func (s *StereoSystem) notifyVolume(label string, vol uint8) {
	s.notify(types.Notification{
		Category: types.NotifyVolume,
		Text:     fmt.Sprintf("%s %d", label, vol),
		Duration: 2 * time.Second,
	})
}
