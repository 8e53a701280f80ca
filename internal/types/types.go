package types

import (
	"time"
	"unicode/utf8"
)

// OperatingMode is the top-level mode of the stereo. Exactly one mode is
// active at a time; Off retains all sub-state in memory but ignores every
// button except the rotary power control.
type OperatingMode string

const (
	ModeOff       OperatingMode = "off"
	ModeRadio     OperatingMode = "radio"
	ModeBluetooth OperatingMode = "bluetooth"
	ModePhoneCall OperatingMode = "phone-call"
	ModePhonebook OperatingMode = "phonebook"
)

// Band selects the radio tuning band. Preset slots are per-band.
type Band string

const (
	BandFM Band = "fm"
	BandAM Band = "am"
)

// ButtonID identifies one physical control. The set is closed: the rotary
// encoder's own push button plus nine resistor-ladder buttons sharing a
// single analog line. Identity is positional and fixed by the ladder
// threshold order.
type ButtonID uint8

const (
	ButtonRotary ButtonID = iota
	ButtonVoiceStart
	ButtonVoiceStop
	ButtonPreset1
	ButtonPreset2
	ButtonPreset3
	ButtonPreset4
	ButtonPreset5
	ButtonSeekDown
	ButtonSeekUp

	ButtonNone ButtonID = 0xFF
)

func (b ButtonID) String() string {
	switch b {
	case ButtonRotary:
		return "rotary"
	case ButtonVoiceStart:
		return "voice-start"
	case ButtonVoiceStop:
		return "voice-stop"
	case ButtonPreset1, ButtonPreset2, ButtonPreset3, ButtonPreset4, ButtonPreset5:
		return "preset-" + string('1'+rune(b-ButtonPreset1))
	case ButtonSeekDown:
		return "seek-down"
	case ButtonSeekUp:
		return "seek-up"
	case ButtonNone:
		return "none"
	default:
		return "unknown"
	}
}

// IsPreset reports whether the button is one of the five station presets.
func (b ButtonID) IsPreset() bool {
	return b >= ButtonPreset1 && b <= ButtonPreset5
}

// PresetSlot returns the 0-based preset slot for a preset button.
func (b ButtonID) PresetSlot() int {
	return int(b - ButtonPreset1)
}

// ButtonEventKind is the gesture type carried by a ButtonEvent.
// RotaryCW/RotaryCCW are rotation-only and always carry ButtonRotary.
type ButtonEventKind uint8

const (
	EventPress ButtonEventKind = iota
	EventRelease
	EventLongPress
	EventReleaseAfterLong
	EventRepeat
	EventRotaryCW
	EventRotaryCCW
)

func (k ButtonEventKind) String() string {
	switch k {
	case EventPress:
		return "press"
	case EventRelease:
		return "release"
	case EventLongPress:
		return "long-press"
	case EventReleaseAfterLong:
		return "release-after-long"
	case EventRepeat:
		return "repeat"
	case EventRotaryCW:
		return "rotary-cw"
	case EventRotaryCCW:
		return "rotary-ccw"
	default:
		return "unknown"
	}
}

// ButtonEvent is one debounced user-input gesture. Timestamp is a monotonic
// instant (time since an arbitrary fixed origin, CLOCK_MONOTONIC on the
// device, a fake clock in tests). Events are immutable and consumed exactly
// once by the mode state machine.
type ButtonEvent struct {
	Button    ButtonID
	Kind      ButtonEventKind
	Timestamp time.Duration
}

// MaxVolume is the top of every volume scale (radio, A2DP, HFP).
const MaxVolume = 15

// RadioState is the radio-mode sub-state.
type RadioState struct {
	Frequency   float64 // MHz for FM, kHz for AM
	Volume      uint8   // 0..15
	Band        Band
	PresetsFM   [5]float64
	PresetsAM   [5]float64
	StationName string // advisory RDS text
	SongInfo    string // advisory RDS text
}

// Presets returns the preset slots for the given band.
func (r *RadioState) Presets(b Band) *[5]float64 {
	if b == BandAM {
		return &r.PresetsAM
	}
	return &r.PresetsFM
}

// A2DPState is the Bluetooth-audio sub-state.
type A2DPState struct {
	Volume  uint8 // 0..15
	Playing bool
	Track   string // advisory
	Artist  string // advisory
}

// HFPState is the hands-free (call) sub-state.
type HFPState struct {
	SpeakerVolume uint8 // 0..15
	MicVolume     uint8 // 0..15
	CallActive    bool
	CallerID      string
}

// NotificationCategory classifies a display notification.
type NotificationCategory string

const (
	NotifyRadioStation NotificationCategory = "radio-station"
	NotifyRadioSong    NotificationCategory = "radio-song"
	NotifyTrack        NotificationCategory = "bt-track"
	NotifyCallIncoming NotificationCategory = "call-incoming"
	NotifyCallActive   NotificationCategory = "call-active"
	NotifyVolume       NotificationCategory = "volume"
	NotifyFrequency    NotificationCategory = "frequency"
	NotifyModeChange   NotificationCategory = "mode-change"
)

// Display text limits. The renderer is external; the core guarantees it
// never hands over more than these many bytes per line.
const (
	MaxNotificationText    = 128
	MaxNotificationSubtext = 64
)

// Notification is one record handed to the external display. Duration zero
// means permanent until replaced. Higher priority wins at the renderer.
type Notification struct {
	Category NotificationCategory
	Text     string
	Subtext  string
	Duration time.Duration
	Priority uint8
}

// Truncate bounds s to at most max bytes without splitting a rune. Advisory
// text from RDS and AVRCP can exceed what the display accepts; the policy is
// truncate, never error.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
