package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"stereo-service/internal/input"
	"stereo-service/internal/logger"
	"stereo-service/internal/messaging"
	"stereo-service/internal/types"
)

// ===== Test Helpers =====

// mockMessaging is a map-backed stand-in for the Redis client. The stored
// settings survive across StereoSystem instances built on the same mock, so
// power-cycle behavior can be tested.
type mockMessaging struct {
	callbacks messaging.Callbacks
	stored    messaging.StoredSettings
	profiles  [][]byte
	sent      []string
	notes     []types.Notification
}

func newMockMessaging() *mockMessaging {
	return &mockMessaging{}
}

func (m *mockMessaging) SetCallbacks(callbacks messaging.Callbacks) { m.callbacks = callbacks }
func (m *mockMessaging) Connect() error                             { return nil }
func (m *mockMessaging) StartListening() error                      { return nil }
func (m *mockMessaging) Close() error                               { return nil }

func (m *mockMessaging) PublishPower(on bool) error {
	m.stored.Found = true
	m.stored.Power = on
	return nil
}

func (m *mockMessaging) PublishMode(mode types.OperatingMode) error {
	m.stored.Found = true
	m.stored.Mode = mode
	return nil
}

func (m *mockMessaging) SaveTuning(band types.Band, frequency float64) error {
	m.stored.Found = true
	m.stored.Radio.Band = band
	m.stored.Radio.Frequency = frequency
	return nil
}

func (m *mockMessaging) SaveVolume(field string, volume uint8) error {
	m.stored.Found = true
	switch field {
	case "radio":
		m.stored.Radio.Volume = volume
	case "a2dp":
		m.stored.A2DPVolume = volume
	case "hfp-speaker":
		m.stored.HFPSpeakerVolume = volume
	case "hfp-mic":
		m.stored.HFPMicVolume = volume
	}
	return nil
}

func (m *mockMessaging) SavePreset(band types.Band, slot int, frequency float64) error {
	m.stored.Found = true
	m.stored.Radio.Presets(band)[slot] = frequency
	return nil
}

func (m *mockMessaging) LoadSettings() (*messaging.StoredSettings, error) {
	stored := m.stored
	return &stored, nil
}

func (m *mockMessaging) SaveDeviceProfiles(blobs [][]byte) error {
	m.profiles = blobs
	return nil
}

func (m *mockMessaging) LoadDeviceProfiles() ([][]byte, error) { return m.profiles, nil }

func (m *mockMessaging) PublishNotification(n types.Notification) error {
	m.notes = append(m.notes, n)
	return nil
}

func (m *mockMessaging) SendCommand(channel, command string) error {
	m.sent = append(m.sent, channel+" "+command)
	return nil
}

func (m *mockMessaging) SetBluetoothVolume(kind string, volume uint8) error {
	return m.SendCommand("bluetooth:volume", fmt.Sprintf("%s:%d", kind, volume))
}

func (m *mockMessaging) RequestPlayback(action string) error {
	return m.SendCommand("bluetooth:playback", action)
}

func (m *mockMessaging) RequestCall(action string) error {
	return m.SendCommand("bluetooth:call", action)
}

func (m *mockMessaging) RequestVoice(action string) error {
	return m.SendCommand("bluetooth:voice", action)
}

func (m *mockMessaging) TuneFrequency(frequency float64) error {
	return m.SendCommand("tuner:frequency", fmt.Sprintf("%.2f", frequency))
}

func (m *mockMessaging) SetTunerBand(band types.Band) error {
	return m.SendCommand("tuner:band", string(band))
}

func (m *mockMessaging) lastCommand(channel string) string {
	prefix := channel + " "
	for i := len(m.sent) - 1; i >= 0; i-- {
		if len(m.sent[i]) > len(prefix) && m.sent[i][:len(prefix)] == prefix {
			return m.sent[i][len(prefix):]
		}
	}
	return ""
}

func nopLogger() *logger.Logger {
	return logger.NewLogger(nil, logger.LogLevelNone)
}

// newTestSystem runs the same initialization as Start but without the
// consumer goroutine, so tests can drive events synchronously.
func newTestSystem(t *testing.T, m *mockMessaging) *StereoSystem {
	t.Helper()
	s := NewStereoSystem(m, input.NewQueue(nopLogger()), nopLogger())
	if err := s.loadSettings(); err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	s.loadProfiles()
	if err := s.initFSM(context.Background()); err != nil {
		t.Fatalf("initFSM: %v", err)
	}
	if err := s.restorePowerState(); err != nil {
		t.Fatalf("restorePowerState: %v", err)
	}
	return s
}

// drain executes closures enqueued by the external-event handlers.
func drain(s *StereoSystem) {
	for {
		select {
		case fn := <-s.commands:
			fn()
		default:
			return
		}
	}
}

func press(s *StereoSystem, b types.ButtonID, kinds ...types.ButtonEventKind) {
	for _, k := range kinds {
		s.handleButtonEvent(types.ButtonEvent{Button: b, Kind: k})
	}
}

func tapRotary(s *StereoSystem) {
	press(s, types.ButtonRotary, types.EventPress, types.EventRelease)
}

func expectMode(t *testing.T, s *StereoSystem, want types.OperatingMode) {
	t.Helper()
	if got := s.Mode(); got != want {
		t.Fatalf("mode = %s, want %s", got, want)
	}
}

// ===== Power Control =====

func TestStartsOff(t *testing.T) {
	s := newTestSystem(t, newMockMessaging())
	expectMode(t, s, types.ModeOff)
}

func TestPowerOnDefaultsToRadio(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)

	tapRotary(s)

	expectMode(t, s, types.ModeRadio)
	if got := m.lastCommand("tuner:frequency"); got != "87.50" {
		t.Errorf("tuned to %q, want 87.50", got)
	}
	if got := m.lastCommand("tuner:band"); got != "fm" {
		t.Errorf("band %q, want fm", got)
	}
	if !m.stored.Power {
		t.Error("power state not persisted as on")
	}
}

func TestPowerOnResumesBluetooth(t *testing.T) {
	m := newMockMessaging()
	m.stored = messaging.StoredSettings{Found: true, Mode: types.ModeBluetooth}
	s := newTestSystem(t, m)

	expectMode(t, s, types.ModeOff)
	tapRotary(s)
	expectMode(t, s, types.ModeBluetooth)
}

func TestLongPressPowersOff(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)

	tapRotary(s)
	expectMode(t, s, types.ModeRadio)

	press(s, types.ButtonRotary, types.EventLongPress, types.EventReleaseAfterLong)

	expectMode(t, s, types.ModeOff)
	if m.stored.Power {
		t.Error("power state not persisted as off")
	}
	// Power-off flushes the whole state.
	if m.stored.Radio.Frequency != 87.5 {
		t.Errorf("frequency not saved: %.2f", m.stored.Radio.Frequency)
	}
}

func TestOffIgnoresOtherButtons(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)

	press(s, types.ButtonPreset1, types.EventPress, types.EventRelease)
	press(s, types.ButtonSeekUp, types.EventPress, types.EventRelease)
	press(s, types.ButtonRotary, types.EventRotaryCW)

	expectMode(t, s, types.ModeOff)
	if len(m.sent) != 0 {
		t.Fatalf("commands sent while off: %v", m.sent)
	}
}

func TestPowerRestoredAcrossRestart(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	expectMode(t, s, types.ModeRadio)

	// Service restarts while powered on.
	s2 := newTestSystem(t, m)
	expectMode(t, s2, types.ModeRadio)
}

// ===== Radio Mode =====

func TestVolumeKnobAndClamp(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)

	for i := 0; i < 10; i++ {
		press(s, types.ButtonRotary, types.EventRotaryCW)
	}
	s.mu.RLock()
	vol := s.radio.Volume
	s.mu.RUnlock()
	if vol != types.MaxVolume {
		t.Fatalf("volume = %d, want clamped to %d", vol, types.MaxVolume)
	}

	for i := 0; i < 20; i++ {
		press(s, types.ButtonRotary, types.EventRotaryCCW)
	}
	s.mu.RLock()
	vol = s.radio.Volume
	s.mu.RUnlock()
	if vol != 0 {
		t.Fatalf("volume = %d, want clamped to 0", vol)
	}
}

func TestSeekButtonsAreAdvisoryOnly(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	mark := len(m.sent)

	press(s, types.ButtonSeekUp, types.EventPress, types.EventRelease)
	press(s, types.ButtonSeekDown, types.EventPress, types.EventRelease)

	// The tuner service owns seek; the buttons only announce it.
	if len(m.sent) != mark {
		t.Fatalf("seek buttons sent commands: %v", m.sent[mark:])
	}
	last := m.notes[len(m.notes)-1]
	if last.Text != "Seeking down" {
		t.Fatalf("notification %q, want Seeking down", last.Text)
	}

	s.mu.RLock()
	freq := s.radio.Frequency
	s.mu.RUnlock()
	if freq != 87.5 {
		t.Fatalf("seek button changed the tuned frequency: %.2f", freq)
	}
}

func TestPresetStoreAndRecallAcrossPowerCycle(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)

	s.mu.Lock()
	s.radio.Frequency = 99.9
	s.mu.Unlock()

	// Long hold stores, short tap recalls.
	press(s, types.ButtonPreset3, types.EventPress, types.EventLongPress, types.EventReleaseAfterLong)
	press(s, types.ButtonRotary, types.EventLongPress, types.EventReleaseAfterLong)
	expectMode(t, s, types.ModeOff)

	s2 := newTestSystem(t, m)
	expectMode(t, s2, types.ModeOff)
	tapRotary(s2)
	expectMode(t, s2, types.ModeRadio)
	press(s2, types.ButtonPreset3, types.EventPress, types.EventRelease)

	if got := m.lastCommand("tuner:frequency"); got != "99.90" {
		t.Fatalf("recalled %q, want 99.90", got)
	}
}

func TestEmptyPresetDoesNotRetune(t *testing.T) {
	m := newMockMessaging()
	m.stored = messaging.StoredSettings{
		Found: true,
		Mode:  types.ModeRadio,
		Radio: types.RadioState{Frequency: 90.1, Band: types.BandFM},
	}
	s := newTestSystem(t, m)
	tapRotary(s)

	before := m.lastCommand("tuner:frequency")
	press(s, types.ButtonPreset2, types.EventPress, types.EventRelease)
	if got := m.lastCommand("tuner:frequency"); got != before {
		t.Fatalf("empty preset retuned: %q", got)
	}
}

// ===== Station Browsing =====

func TestBrowseDoesNotRetuneUntilCommit(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	tuneCount := len(m.sent)

	tapRotary(s) // enter browse
	if !s.isBrowsing() {
		t.Fatal("not browsing after rotary tap")
	}

	press(s, types.ButtonRotary, types.EventRotaryCW)
	press(s, types.ButtonRotary, types.EventRotaryCW)
	press(s, types.ButtonRotary, types.EventRotaryCW)

	for _, cmd := range m.sent[tuneCount:] {
		if len(cmd) > 15 && cmd[:15] == "tuner:frequency" {
			t.Fatalf("tuner touched while browsing: %s", cmd)
		}
	}

	tapRotary(s) // commit
	if s.isBrowsing() {
		t.Fatal("still browsing after commit")
	}
	// Started at slot 0 (87.5), three steps up.
	if got := m.lastCommand("tuner:frequency"); got != "88.10" {
		t.Fatalf("committed %q, want 88.10", got)
	}
}

func TestBrowseWrapsAroundSlots(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	tapRotary(s) // enter browse at slot 0

	press(s, types.ButtonRotary, types.EventRotaryCCW) // wraps to last slot
	tapRotary(s)

	// Slot 19 on the FM browse grid: 87.5 + 19*0.2.
	if got := m.lastCommand("tuner:frequency"); got != "91.30" {
		t.Fatalf("committed %q, want 91.30", got)
	}
}

func TestBrowseCommitTimerLastWriteWins(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)

	var timers []func()
	s.afterFunc = func(d time.Duration, f func()) *time.Timer {
		if d != tuneCommitDelay {
			t.Fatalf("commit timer armed for %v, want %v", d, tuneCommitDelay)
		}
		timers = append(timers, f)
		return nil
	}

	tapRotary(s)
	tapRotary(s) // enter browse at slot 0
	press(s, types.ButtonRotary, types.EventRotaryCW)
	press(s, types.ButtonRotary, types.EventRotaryCW)
	if len(timers) != 2 {
		t.Fatalf("armed %d timers, want 2", len(timers))
	}

	// The first timer is stale (a later step re-armed); it must not commit.
	timers[0]()
	drain(s)
	if !s.isBrowsing() {
		t.Fatal("stale timer committed the browse")
	}

	timers[1]()
	drain(s)
	if s.isBrowsing() {
		t.Fatal("live timer did not commit")
	}
	if got := m.lastCommand("tuner:frequency"); got != "87.90" {
		t.Fatalf("committed %q, want 87.90", got)
	}
}

func TestBrowseAbandonedOnPowerOff(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	tapRotary(s)
	press(s, types.ButtonRotary, types.EventRotaryCW)

	press(s, types.ButtonRotary, types.EventLongPress)
	expectMode(t, s, types.ModeOff)
	if s.isBrowsing() {
		t.Fatal("browse survived power off")
	}
	// The uncommitted candidate must not be persisted.
	if m.stored.Radio.Frequency != 87.5 {
		t.Fatalf("browse candidate leaked into saved state: %.2f", m.stored.Radio.Frequency)
	}
}

// ===== Call Preemption =====

func TestCallPreemptsRadioAndRestores(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	expectMode(t, s, types.ModeRadio)

	s.handleCallStatus("incoming", "+49 30 123456")
	drain(s)
	expectMode(t, s, types.ModePhoneCall)
	if got := m.lastCommand("bluetooth:call"); got != "answer" {
		t.Errorf("incoming call not auto-answered: %q", got)
	}

	s.handleCallStatus("inactive", "")
	drain(s)
	expectMode(t, s, types.ModeRadio)
}

func TestCallFromOffPowersOnAndReturnsOff(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	expectMode(t, s, types.ModeOff)

	s.handleCallStatus("active", "")
	drain(s)
	expectMode(t, s, types.ModePhoneCall)

	s.handleCallStatus("inactive", "")
	drain(s)
	expectMode(t, s, types.ModeOff)
}

func TestCallUsesHFPSpeakerVolume(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)

	s.handleCallStatus("active", "Alice")
	drain(s)
	expectMode(t, s, types.ModePhoneCall)

	// Knob now drives the HFP speaker level, starting at the default 12.
	press(s, types.ButtonRotary, types.EventRotaryCW)
	if got := m.lastCommand("bluetooth:volume"); got != "hfp-speaker:13" {
		t.Fatalf("call volume command %q, want hfp-speaker:13", got)
	}

	s.mu.RLock()
	radioVol := s.radio.Volume
	s.mu.RUnlock()
	if radioVol != defaultRadioVolume {
		t.Errorf("radio volume changed during call: %d", radioVol)
	}
}

func TestRotaryPressHangsUp(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	s.handleCallStatus("active", "Bob")
	drain(s)

	press(s, types.ButtonRotary, types.EventPress)
	if got := m.lastCommand("bluetooth:call"); got != "hangup" {
		t.Fatalf("got %q, want hangup", got)
	}
	// Mode switches only once the stack confirms teardown.
	expectMode(t, s, types.ModePhoneCall)
}

func TestUnknownCallerFallback(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)

	s.handleCallStatus("active", "")
	drain(s)

	var callNote *types.Notification
	for i := range m.notes {
		if m.notes[i].Category == types.NotifyCallActive {
			callNote = &m.notes[i]
		}
	}
	if callNote == nil {
		t.Fatal("no call notification published")
	}
	if callNote.Subtext != "Unknown Caller" {
		t.Fatalf("caller subtext %q, want Unknown Caller", callNote.Subtext)
	}
}

// ===== Bluetooth Mode =====

func bluetoothSystem(t *testing.T, m *mockMessaging) *StereoSystem {
	t.Helper()
	s := newTestSystem(t, m)
	tapRotary(s)
	s.handleControlRequest("mode:bluetooth")
	drain(s)
	expectMode(t, s, types.ModeBluetooth)
	return s
}

func TestPlayPauseToggle(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	tapRotary(s)
	if got := m.lastCommand("bluetooth:playback"); got != "play" {
		t.Fatalf("got %q, want play", got)
	}
	tapRotary(s)
	if got := m.lastCommand("bluetooth:playback"); got != "pause" {
		t.Fatalf("got %q, want pause", got)
	}
}

func TestTrackSkip(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	press(s, types.ButtonSeekUp, types.EventPress, types.EventRelease)
	if got := m.lastCommand("bluetooth:playback"); got != "next" {
		t.Fatalf("got %q, want next", got)
	}
	press(s, types.ButtonSeekDown, types.EventPress, types.EventRelease)
	if got := m.lastCommand("bluetooth:playback"); got != "prev" {
		t.Fatalf("got %q, want prev", got)
	}
}

func TestStreamStartStealsFocusFromRadio(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	expectMode(t, s, types.ModeRadio)

	s.handleStreamStatus(true)
	drain(s)
	expectMode(t, s, types.ModeBluetooth)
}

func TestStreamStartWhileOffPowersOn(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	expectMode(t, s, types.ModeOff)

	s.handleStreamStatus(true)
	drain(s)

	expectMode(t, s, types.ModeBluetooth)
	if !m.stored.Power {
		t.Error("power state not persisted as on")
	}
}

func TestStreamStartDuringPhonebookSwitches(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	s.handleControlRequest("phonebook:open")
	drain(s)
	expectMode(t, s, types.ModePhonebook)

	s.handleStreamStatus(true)
	drain(s)
	expectMode(t, s, types.ModeBluetooth)
}

func TestStreamStartDoesNotInterruptCall(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	s.handleCallStatus("active", "Dave")
	drain(s)

	s.handleStreamStatus(true)
	drain(s)
	expectMode(t, s, types.ModePhoneCall)
}

func TestHeldSeekButtonsRampVolume(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	press(s, types.ButtonSeekUp, types.EventPress, types.EventLongPress, types.EventRepeat)
	if got := m.lastCommand("bluetooth:volume"); got != fmt.Sprintf("a2dp:%d", defaultA2DPVolume+1) {
		t.Fatalf("after repeat: %q, want a2dp:%d", got, defaultA2DPVolume+1)
	}
	press(s, types.ButtonSeekUp, types.EventRepeat)
	press(s, types.ButtonSeekDown, types.EventRepeat)
	if got := m.lastCommand("bluetooth:volume"); got != fmt.Sprintf("a2dp:%d", defaultA2DPVolume+1) {
		t.Fatalf("after ramp down: %q, want a2dp:%d", got, defaultA2DPVolume+1)
	}

	// A held seek button releases as ReleaseAfterLong, which must not skip.
	press(s, types.ButtonSeekUp, types.EventReleaseAfterLong)
	if got := m.lastCommand("bluetooth:playback"); got != "" {
		t.Fatalf("long seek hold skipped a track: %q", got)
	}
}

func TestVoiceButtons(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	press(s, types.ButtonVoiceStart, types.EventPress)
	if got := m.lastCommand("bluetooth:voice"); got != "start" {
		t.Fatalf("got %q, want start", got)
	}
	press(s, types.ButtonVoiceStop, types.EventPress)
	if got := m.lastCommand("bluetooth:voice"); got != "stop" {
		t.Fatalf("got %q, want stop", got)
	}
}

func TestVoiceSessionIsIdempotent(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	// Stop with no session active is a no-op.
	press(s, types.ButtonVoiceStop, types.EventPress)
	if got := m.lastCommand("bluetooth:voice"); got != "" {
		t.Fatalf("stop sent with no session: %q", got)
	}

	// A second start while the session runs is a no-op too.
	press(s, types.ButtonVoiceStart, types.EventPress)
	press(s, types.ButtonVoiceStart, types.EventPress)
	starts := 0
	for _, cmd := range m.sent {
		if cmd == "bluetooth:voice start" {
			starts++
		}
	}
	if starts != 1 {
		t.Fatalf("start sent %d times, want 1", starts)
	}

	press(s, types.ButtonVoiceStop, types.EventPress)
	if got := m.lastCommand("bluetooth:voice"); got != "stop" {
		t.Fatalf("got %q, want stop", got)
	}
}

// ===== Device Profiles =====

func TestDeviceVolumesRememberedAcrossReconnect(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	s.handleDeviceStatus(true, "aa:bb:cc:dd:ee:ff")
	drain(s)

	press(s, types.ButtonRotary, types.EventRotaryCW)
	press(s, types.ButtonRotary, types.EventRotaryCW)
	s.mu.RLock()
	vol := s.a2dp.Volume
	s.mu.RUnlock()
	if vol != defaultA2DPVolume+2 {
		t.Fatalf("volume = %d, want %d", vol, defaultA2DPVolume+2)
	}

	s.handleDeviceStatus(false, "")
	drain(s)

	// A different device does not inherit the first one's level.
	s.handleDeviceStatus(true, "11:22:33:44:55:66")
	drain(s)
	press(s, types.ButtonRotary, types.EventRotaryCCW)
	s.handleDeviceStatus(false, "")
	drain(s)

	s.handleDeviceStatus(true, "aa:bb:cc:dd:ee:ff")
	drain(s)
	s.mu.RLock()
	vol = s.a2dp.Volume
	s.mu.RUnlock()
	if vol != defaultA2DPVolume+2 {
		t.Fatalf("restored volume = %d, want %d", vol, defaultA2DPVolume+2)
	}
}

func TestKnownDeviceConnectPushesAllVolumes(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	s.handleDeviceStatus(true, "aa:bb:cc:dd:ee:ff")
	drain(s)
	press(s, types.ButtonRotary, types.EventRotaryCW)
	s.handleDeviceStatus(false, "")
	drain(s)

	mark := len(m.sent)
	s.handleDeviceStatus(true, "aa:bb:cc:dd:ee:ff")
	drain(s)

	// All three stored levels go to the stack, not just the A2DP one.
	for _, vol := range []string{
		fmt.Sprintf("a2dp:%d", defaultA2DPVolume+1),
		fmt.Sprintf("hfp-speaker:%d", defaultHFPSpeakerVolume),
		fmt.Sprintf("hfp-mic:%d", defaultHFPMicVolume),
	} {
		found := false
		for _, cmd := range m.sent[mark:] {
			if cmd == "bluetooth:volume "+vol {
				found = true
			}
		}
		if !found {
			t.Errorf("volume %s not pushed on reconnect", vol)
		}
	}
}

func TestUnknownDeviceGetsProfileOnlyAtDisconnect(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	s.handleDeviceStatus(true, "aa:bb:cc:dd:ee:ff")
	drain(s)

	// Connecting alone must not claim a slot; a device that merely brushes
	// past would otherwise evict a stored profile.
	s.mu.RLock()
	n := s.profiles.Len()
	s.mu.RUnlock()
	if n != 0 {
		t.Fatalf("profile created at connect: table len %d", n)
	}

	s.handleDeviceStatus(false, "")
	drain(s)

	s.mu.RLock()
	n = s.profiles.Len()
	s.mu.RUnlock()
	if n != 1 {
		t.Fatalf("disconnect snapshot missing: table len %d", n)
	}
	if len(m.profiles) != 1 {
		t.Fatalf("snapshot not persisted: %d blobs", len(m.profiles))
	}
}

func TestProfileTableEvictsOldest(t *testing.T) {
	table := NewProfileTable()
	base := time.Now()

	for i := 0; i < maxDeviceProfiles; i++ {
		mac := [6]byte{byte(i)}
		table.Remember(mac, 5, 5, 5, base.Add(time.Duration(i)*time.Minute))
	}
	if table.Len() != maxDeviceProfiles {
		t.Fatalf("table len = %d", table.Len())
	}

	// A sixth device evicts the entry with the oldest timestamp, not slot 0's
	// neighbor by position.
	table.Touch([6]byte{0}, base.Add(time.Hour))
	table.Remember([6]byte{9}, 7, 7, 7, base.Add(2*time.Hour))

	if table.Lookup([6]byte{1}) != nil {
		t.Error("oldest entry not evicted")
	}
	if table.Lookup([6]byte{0}) == nil {
		t.Error("recently seen entry evicted")
	}
	if table.Lookup([6]byte{9}) == nil {
		t.Error("new entry missing")
	}
}

func TestProfileBlobRoundTrip(t *testing.T) {
	table := NewProfileTable()
	mac := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	table.Remember(mac, 8, 12, 9, time.Now())

	decoded := DecodeProfiles(table.Encode(), time.Now())
	p := decoded.Lookup(mac)
	if p == nil {
		t.Fatal("profile lost in round trip")
	}
	if p.A2DPVolume != 8 || p.HFPSpeakerVolume != 12 || p.HFPMicVolume != 9 {
		t.Fatalf("volumes corrupted: %+v", p)
	}
}

func TestDecodeSkipsMalformedBlobs(t *testing.T) {
	good := make([]byte, profileBlobSize)
	good[0] = 0x42
	blobs := [][]byte{{1, 2, 3}, good, make([]byte, profileBlobSize+4)}

	table := DecodeProfiles(blobs, time.Now())
	if table.Len() != 1 {
		t.Fatalf("table len = %d, want 1", table.Len())
	}
	if table.Lookup([6]byte{0x42}) == nil {
		t.Fatal("valid blob dropped")
	}
}

// ===== Phonebook =====

func TestPhonebookOpenCloseRestoresListeningMode(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	s.handleControlRequest("phonebook:open")
	drain(s)
	expectMode(t, s, types.ModePhonebook)

	tapRotary(s)
	expectMode(t, s, types.ModeBluetooth)
}

func TestCallDuringPhonebookRestoresPhonebook(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	s.handleControlRequest("phonebook:open")
	drain(s)
	expectMode(t, s, types.ModePhonebook)

	s.handleCallStatus("active", "Carol")
	drain(s)
	expectMode(t, s, types.ModePhoneCall)

	s.handleCallStatus("inactive", "")
	drain(s)
	expectMode(t, s, types.ModePhonebook)

	// And closing it still lands on the mode it originally overlaid.
	tapRotary(s)
	expectMode(t, s, types.ModeRadio)
}

// ===== RDS and Track Metadata =====

func TestRdsShownInRadioMode(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)

	s.handleRdsUpdate("RADIO EINS", "Some Song")
	drain(s)

	last := m.notes[len(m.notes)-1]
	if last.Category != types.NotifyRadioStation || last.Text != "RADIO EINS" {
		t.Fatalf("unexpected notification: %+v", last)
	}
}

func TestRdsClearedOnRetune(t *testing.T) {
	m := newMockMessaging()
	s := newTestSystem(t, m)
	tapRotary(s)
	press(s, types.ButtonPreset1, types.EventPress, types.EventLongPress, types.EventReleaseAfterLong)

	s.handleRdsUpdate("RADIO EINS", "Some Song")
	drain(s)
	press(s, types.ButtonPreset1, types.EventPress, types.EventRelease)

	s.mu.RLock()
	station := s.radio.StationName
	s.mu.RUnlock()
	if station != "" {
		t.Fatalf("stale RDS after retune: %q", station)
	}
}

func TestTrackMetadataShownInBluetoothMode(t *testing.T) {
	m := newMockMessaging()
	s := bluetoothSystem(t, m)

	s.handleTrackMetadata("Title", "Artist")
	drain(s)

	last := m.notes[len(m.notes)-1]
	if last.Category != types.NotifyTrack || last.Text != "Title" || last.Subtext != "Artist" {
		t.Fatalf("unexpected notification: %+v", last)
	}
}
