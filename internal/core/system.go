package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/librescoot/librefsm"

	"stereo-service/internal/input"
	"stereo-service/internal/logger"
	"stereo-service/internal/messaging"
	"stereo-service/internal/types"
)

// Tuning grids and browse behavior
const (
	fmMinFrequency = 87.5
	fmMaxFrequency = 108.0
	fmStep         = 0.2
	amMinFrequency = 540.0
	amMaxFrequency = 1600.0
	amStep         = 10.0

	browseSlots     = 20
	tuneCommitDelay = 2 * time.Second
)

// Factory defaults, used when no persisted settings exist yet.
const (
	defaultFrequency        = 87.5
	defaultRadioVolume      = 10
	defaultA2DPVolume       = 10
	defaultHFPSpeakerVolume = 12
	defaultHFPMicVolume     = 10
)

var (
	defaultPresetsFM = [5]float64{87.9, 95.3, 101.1, 105.7, 107.9}
	defaultPresetsAM = [5]float64{540, 720, 950, 1200, 1450}
)

// StereoSystem owns all mutable state. Button events and external
// notifications funnel into a single consumer goroutine (run); the Redis
// callbacks enqueue closures instead of touching state directly, so every
// mutation happens on that one goroutine.
type StereoSystem struct {
	logger  *logger.Logger
	redis   MessagingClient
	queue   *input.Queue
	machine *librefsm.Machine

	mu             sync.RWMutex
	mode           types.OperatingMode
	resumeMode     types.OperatingMode // listening mode power-on returns to
	priorMode      types.OperatingMode // mode the active call preempted
	priorListening types.OperatingMode // mode the phonebook overlays
	autoPoweredOn  bool                // powered on by an incoming call
	restorePower   bool                // powered on when last shut down

	radio types.RadioState
	a2dp  types.A2DPState
	hfp   types.HFPState

	profiles   *ProfileTable
	currentMAC [6]byte
	connected  bool

	browsing       bool
	browseIndex    int
	browseSeq      int // invalidates stale tune-commit timers
	phonebookIndex int
	voiceActive    bool

	commands chan func()

	// afterFunc schedules the tune-commit timer; tests substitute a
	// capture so the expiry path runs without waiting.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewStereoSystem(redis MessagingClient, queue *input.Queue, log *logger.Logger) *StereoSystem {
	return &StereoSystem{
		logger:     log.WithTag("stereo"),
		redis:      redis,
		queue:      queue,
		mode:       types.ModeOff,
		resumeMode: types.ModeRadio,
		profiles:   NewProfileTable(),
		commands:   make(chan func(), 16),
		afterFunc:  time.AfterFunc,
	}
}

func (s *StereoSystem) Start(ctx context.Context) error {
	s.logger.Infof("Starting stereo system")

	s.redis.SetCallbacks(messaging.Callbacks{
		CallCallback:    s.handleCallStatus,
		StreamCallback:  s.handleStreamStatus,
		DeviceCallback:  s.handleDeviceStatus,
		TrackCallback:   s.handleTrackMetadata,
		RdsCallback:     s.handleRdsUpdate,
		ControlCallback: s.handleControlRequest,
	})

	if err := s.redis.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if err := s.loadSettings(); err != nil {
		return err
	}
	s.loadProfiles()

	if err := s.initFSM(ctx); err != nil {
		return fmt.Errorf("failed to initialize state machine: %w", err)
	}

	if err := s.restorePowerState(); err != nil {
		return err
	}

	if err := s.redis.StartListening(); err != nil {
		return fmt.Errorf("failed to start Redis listeners: %w", err)
	}

	go s.run(ctx)

	s.logger.Infof("Stereo system started in mode %s", s.Mode())
	return nil
}

// run is the single consumer goroutine. Everything that mutates state
// arrives here, either as a button event or as an enqueued closure.
func (s *StereoSystem) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.logger.Infof("Consumer loop stopping")
			return
		case ev := <-s.queue.Events():
			s.handleButtonEvent(ev)
		case fn := <-s.commands:
			fn()
		}
	}
}

// enqueue schedules fn on the consumer goroutine. Called from Redis
// callback goroutines and expiring timers.
func (s *StereoSystem) enqueue(fn func()) {
	select {
	case s.commands <- fn:
	default:
		s.logger.Warnf("Command queue full, dropping external event")
	}
}

func (s *StereoSystem) loadSettings() error {
	stored, err := s.redis.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.restorePower = stored.Found && stored.Power

	if !stored.Found {
		s.logger.Infof("Seeding factory defaults")
		s.radio = types.RadioState{
			Frequency: defaultFrequency,
			Volume:    defaultRadioVolume,
			Band:      types.BandFM,
			PresetsFM: defaultPresetsFM,
			PresetsAM: defaultPresetsAM,
		}
		s.a2dp.Volume = defaultA2DPVolume
		s.hfp.SpeakerVolume = defaultHFPSpeakerVolume
		s.hfp.MicVolume = defaultHFPMicVolume
		s.resumeMode = types.ModeRadio
		return nil
	}

	s.radio = stored.Radio
	if s.radio.Band != types.BandAM {
		s.radio.Band = types.BandFM
	}
	if s.radio.Frequency == 0 {
		s.radio.Frequency = defaultFrequency
	}
	s.a2dp.Volume = stored.A2DPVolume
	s.hfp.SpeakerVolume = stored.HFPSpeakerVolume
	s.hfp.MicVolume = stored.HFPMicVolume

	switch stored.Mode {
	case types.ModeBluetooth:
		s.resumeMode = types.ModeBluetooth
	default:
		s.resumeMode = types.ModeRadio
	}

	s.logger.Infof("Restored settings: band=%s frequency=%.2f volume=%d resume=%s",
		s.radio.Band, s.radio.Frequency, s.radio.Volume, s.resumeMode)
	return nil
}

func (s *StereoSystem) loadProfiles() {
	blobs, err := s.redis.LoadDeviceProfiles()
	if err != nil {
		s.logger.Warnf("Failed to load device profiles: %v", err)
		return
	}
	s.mu.Lock()
	s.profiles = DecodeProfiles(blobs, time.Now())
	s.mu.Unlock()
}

// restorePowerState puts the machine back into the persisted mode. A saved
// phone-call or phonebook mode restores to the underlying listening mode;
// neither survives a restart.
func (s *StereoSystem) restorePowerState() error {
	s.mu.RLock()
	restore := s.restorePower
	mode := s.resumeMode
	s.mu.RUnlock()
	if !restore {
		return nil
	}

	s.logger.Infof("Restoring power state: %s", mode)
	if err := s.machine.SetState(modeToStateID(mode)); err != nil {
		s.logger.Errorf("Failed to restore mode: %v", err)
		return err
	}
	s.setMode(mode)
	if err := s.redis.PublishMode(mode); err != nil {
		s.logger.Warnf("Failed to publish restored mode: %v", err)
	}
	if err := s.redis.PublishPower(true); err != nil {
		s.logger.Warnf("Failed to publish restored power state: %v", err)
	}
	s.resumeAudio(mode)
	return nil
}

// resumeAudio points the audio path at the given listening mode.
func (s *StereoSystem) resumeAudio(mode types.OperatingMode) {
	switch mode {
	case types.ModeRadio:
		s.mu.RLock()
		band, freq := s.radio.Band, s.radio.Frequency
		s.mu.RUnlock()
		if err := s.redis.SetTunerBand(band); err == nil {
			if err := s.redis.TuneFrequency(freq); err != nil {
				s.logger.Warnf("Failed to tune: %v", err)
			}
		}
	case types.ModeBluetooth:
		s.mu.RLock()
		vol := s.a2dp.Volume
		s.mu.RUnlock()
		if err := s.redis.SetBluetoothVolume("a2dp", vol); err != nil {
			s.logger.Warnf("Failed to sync A2DP volume: %v", err)
		}
	}
}

// Mode returns the current operating mode.
func (s *StereoSystem) Mode() types.OperatingMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

func (s *StereoSystem) setMode(mode types.OperatingMode) {
	s.mu.Lock()
	s.mode = mode
	if mode == types.ModeRadio || mode == types.ModeBluetooth {
		s.resumeMode = mode
	}
	s.mu.Unlock()
}

// saveState persists everything in one burst. Called on power-off and on an
// explicit save command.
func (s *StereoSystem) saveState() {
	s.mu.RLock()
	radio := s.radio
	a2dpVol := s.a2dp.Volume
	hfpSpk := s.hfp.SpeakerVolume
	hfpMic := s.hfp.MicVolume
	blobs := s.profiles.Encode()
	s.mu.RUnlock()

	if err := s.redis.SaveTuning(radio.Band, radio.Frequency); err != nil {
		s.logger.Errorf("Failed to save tuning: %v", err)
	}
	if err := s.redis.SaveVolume("radio", radio.Volume); err != nil {
		s.logger.Errorf("Failed to save radio volume: %v", err)
	}
	if err := s.redis.SaveVolume("a2dp", a2dpVol); err != nil {
		s.logger.Errorf("Failed to save a2dp volume: %v", err)
	}
	if err := s.redis.SaveVolume("hfp-speaker", hfpSpk); err != nil {
		s.logger.Errorf("Failed to save hfp speaker volume: %v", err)
	}
	if err := s.redis.SaveVolume("hfp-mic", hfpMic); err != nil {
		s.logger.Errorf("Failed to save hfp mic volume: %v", err)
	}
	for slot := 0; slot < 5; slot++ {
		if radio.PresetsFM[slot] > 0 {
			if err := s.redis.SavePreset(types.BandFM, slot, radio.PresetsFM[slot]); err != nil {
				s.logger.Errorf("Failed to save FM preset %d: %v", slot+1, err)
			}
		}
		if radio.PresetsAM[slot] > 0 {
			if err := s.redis.SavePreset(types.BandAM, slot, radio.PresetsAM[slot]); err != nil {
				s.logger.Errorf("Failed to save AM preset %d: %v", slot+1, err)
			}
		}
	}
	if err := s.redis.SaveDeviceProfiles(blobs); err != nil {
		s.logger.Errorf("Failed to save device profiles: %v", err)
	}
	s.logger.Infof("State saved")
}

func (s *StereoSystem) Shutdown() {
	s.logger.Infof("Shutting down stereo system")
	s.saveState()
	if err := s.redis.Close(); err != nil {
		s.logger.Warnf("Error closing Redis client: %v", err)
	}
}

func (s *StereoSystem) notify(n types.Notification) {
	if err := s.redis.PublishNotification(n); err != nil {
		s.logger.Warnf("Failed to publish notification: %v", err)
	}
}

// formatFrequency renders a frequency for the display, per band.
func formatFrequency(band types.Band, freq float64) string {
	if band == types.BandAM {
		return fmt.Sprintf("%.0f kHz", freq)
	}
	return fmt.Sprintf("%.1f MHz", freq)
}

// sendEvent sends an event to the FSM
func (s *StereoSystem) sendEvent(event librefsm.EventID) error {
	return s.machine.SendSync(librefsm.Event{ID: event})
}
