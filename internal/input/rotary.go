package input

import (
	"sync"
	"time"

	"stereo-service/internal/logger"
	"stereo-service/internal/types"
)

// rotaryTransitions maps (old phase, new phase) to a rotation direction.
// Phases are the 2-bit value (CLK<<1 | DT). Entries of 0 are either no
// movement or an illegal two-bit jump caused by bounce; neither may be
// signaled as rotation.
var rotaryTransitions = [4][4]int8{
	{0, -1, 1, 0},  // from 00
	{1, 0, 0, -1},  // from 01
	{-1, 0, 0, 1},  // from 10
	{0, 1, -1, 0},  // from 11
}

const (
	// Both lines idle high through the pull-ups.
	phaseRest = 0b11

	// One detent click produces two raw edges on this encoder.
	stepsPerDetent = 2

	// Encoders bounce for a few milliseconds per edge.
	rotaryEdgeDebounce = 5 * time.Millisecond
)

// RotaryDecoder turns raw phase-line edges into RotaryCW/RotaryCCW gestures
// and decodes the encoder's own push button. The push button is only
// evaluated while the shaft sits at its rest phase, so a push that exists
// merely because the shaft left rest during rotation is never counted.
//
// HandleEdge is called from the GPIO event goroutine and Poll from the
// watchdog ticker; the mutex keeps the two honest. Both paths do only
// table lookups and a non-blocking enqueue.
type RotaryDecoder struct {
	mu    sync.Mutex
	log   *logger.Logger
	clock Clock
	emit  func(types.ButtonEvent)

	phase        uint8
	steps        int
	lastActivity time.Duration

	pressed    bool
	pressStart time.Duration
	pressSent  bool
	longSent   bool
}

func NewRotaryDecoder(clock Clock, emit func(types.ButtonEvent), log *logger.Logger) *RotaryDecoder {
	return &RotaryDecoder{
		log:          log.WithTag("rotary"),
		clock:        clock,
		emit:         emit,
		phase:        phaseRest,
		lastActivity: -rotaryEdgeDebounce,
	}
}

// HandleEdge processes one edge of either phase line or the push button.
// clk and dt are the current phase-line levels, pressed the push-button
// state (already converted from the active-low level).
func (d *RotaryDecoder) HandleEdge(clk, dt, pressed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock()
	if now-d.lastActivity < rotaryEdgeDebounce {
		return
	}

	atRest := clk && dt
	switch {
	case pressed && atRest:
		if !d.pressed {
			d.pressed = true
			d.pressStart = now
			d.pressSent = false
			d.longSent = false
			// A press that begins at rest invalidates any partial
			// rotation; the shaft wobble must not add up to a step.
			d.steps = 0
		} else {
			d.advancePress(now)
		}

	case !pressed && d.pressed && atRest:
		d.finishPress(now)

	default:
		d.decodeRotation(clk, dt, now)
	}
}

// Poll is the long-press watchdog. An edge-only handler misses a long,
// quiet hold; the 100ms poll detects the threshold crossing instead.
func (d *RotaryDecoder) Poll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pressed {
		d.advancePress(d.clock())
	}
}

func (d *RotaryDecoder) decodeRotation(clk, dt bool, now time.Duration) {
	newPhase := phaseOf(clk, dt)
	dir := rotaryTransitions[d.phase][newPhase]
	d.phase = newPhase
	if dir == 0 {
		return
	}

	d.steps += int(dir)
	d.lastActivity = now
	if d.steps >= stepsPerDetent {
		d.steps = 0
		d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventRotaryCW, Timestamp: now})
	} else if d.steps <= -stepsPerDetent {
		d.steps = 0
		d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventRotaryCCW, Timestamp: now})
	}
}

// advancePress emits the deferred Press once the hold clears the debounce
// floor and the one-shot LongPress once it clears the long threshold.
func (d *RotaryDecoder) advancePress(now time.Duration) {
	held := now - d.pressStart
	if !d.pressSent && held >= debounceFloor {
		d.pressSent = true
		d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventPress, Timestamp: now})
	}
	if d.pressSent && !d.longSent && held >= longPressThreshold {
		d.longSent = true
		d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventLongPress, Timestamp: now})
	}
}

func (d *RotaryDecoder) finishPress(now time.Duration) {
	d.pressed = false
	held := now - d.pressStart

	if held < debounceFloor {
		// Contact bounce: discard the whole press.
		d.log.Debugf("Discarding %v push bounce", held)
		d.pressSent = false
		d.longSent = false
		return
	}

	if !d.pressSent {
		d.pressSent = true
		d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventPress, Timestamp: now})
	}
	if held >= longPressThreshold {
		if !d.longSent {
			d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventLongPress, Timestamp: now})
		}
		d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventReleaseAfterLong, Timestamp: now})
	} else {
		d.emit(types.ButtonEvent{Button: types.ButtonRotary, Kind: types.EventRelease, Timestamp: now})
	}
	d.pressSent = false
	d.longSent = false
}

func phaseOf(clk, dt bool) uint8 {
	var p uint8
	if clk {
		p |= 0b10
	}
	if dt {
		p |= 0b01
	}
	return p
}
