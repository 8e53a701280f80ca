package input

import (
	"time"

	"stereo-service/internal/logger"
	"stereo-service/internal/types"
)

// Clock returns a monotonic instant as a duration since an arbitrary fixed
// origin. Production wires CLOCK_MONOTONIC; tests substitute a fake.
type Clock func() time.Duration

const (
	// Contacts shorter than this are bounce, not presses.
	debounceFloor = 50 * time.Millisecond

	// Holding past this threshold is a distinct long-press gesture.
	longPressThreshold = 1000 * time.Millisecond

	// Repeat cadence for held seek/volume buttons.
	repeatInterval = 200 * time.Millisecond
)

// LadderSynthesizer turns the classified per-sample ladder state into
// debounced gestures. Observe is fed one classification per poll tick
// (nominally every 20ms); the synthesizer tracks a single active button,
// which is all the ladder hardware can report anyway.
//
// Press is deferred until the hold clears the debounce floor, so a
// sub-floor contact produces no events at all. LongPress fires once at
// the threshold, then Repeat every repeat interval for as long as the
// button stays down. Release after a long hold is ReleaseAfterLong so
// the consumer can suppress the tap action.
type LadderSynthesizer struct {
	log   *logger.Logger
	clock Clock
	emit  func(types.ButtonEvent)

	button     types.ButtonID
	pressStart time.Duration
	pressSent  bool
	longSent   bool
	lastRepeat time.Duration
}

func NewLadderSynthesizer(clock Clock, emit func(types.ButtonEvent), log *logger.Logger) *LadderSynthesizer {
	return &LadderSynthesizer{
		log:    log.WithTag("gesture"),
		clock:  clock,
		emit:   emit,
		button: types.ButtonNone,
	}
}

// Observe feeds one classified sample. A change of button identity while a
// press is pending or active is treated as release of the old button
// followed by press of the new one in the same tick.
func (s *LadderSynthesizer) Observe(b types.ButtonID) {
	now := s.clock()

	if b != s.button {
		if s.button != types.ButtonNone {
			s.release(now)
		}
		s.button = b
		if b != types.ButtonNone {
			s.pressStart = now
			s.pressSent = false
			s.longSent = false
		}
		return
	}

	if b == types.ButtonNone {
		return
	}

	held := now - s.pressStart
	if !s.pressSent {
		if held >= debounceFloor {
			s.pressSent = true
			s.emit(types.ButtonEvent{Button: b, Kind: types.EventPress, Timestamp: now})
		}
		return
	}

	if held >= longPressThreshold {
		if !s.longSent {
			s.longSent = true
			s.lastRepeat = now
			s.emit(types.ButtonEvent{Button: b, Kind: types.EventLongPress, Timestamp: now})
		} else if now-s.lastRepeat >= repeatInterval {
			s.lastRepeat = now
			s.emit(types.ButtonEvent{Button: b, Kind: types.EventRepeat, Timestamp: now})
		}
	}
}

func (s *LadderSynthesizer) release(now time.Duration) {
	held := now - s.pressStart
	switch {
	case !s.pressSent:
		// Sub-floor contact, drop silently.
		s.log.Debugf("discarding %v bounce on %s", held, s.button)
	case s.longSent:
		s.emit(types.ButtonEvent{Button: s.button, Kind: types.EventReleaseAfterLong, Timestamp: now})
	default:
		s.emit(types.ButtonEvent{Button: s.button, Kind: types.EventRelease, Timestamp: now})
	}
	s.pressSent = false
	s.longSent = false
}
