package input

import (
	"stereo-service/internal/logger"
	"stereo-service/internal/types"
)

// Ladder thresholds in 12-bit ADC counts, calibrated against the measured
// voltage of each button's resistor on the shared divider. Order fixes
// button identity.
var ladderThresholds = [...]struct {
	value  int
	button types.ButtonID
}{
	{201, types.ButtonVoiceStart},  // 100k
	{346, types.ButtonVoiceStop},   // 68k
	{757, types.ButtonPreset1},     // 33k
	{1425, types.ButtonPreset2},    // 15k
	{2204, types.ButtonPreset3},    // 6.8k
	{2830, types.ButtonPreset4},    // 3.3k
	{3450, types.ButtonPreset5},    // 1.5k
	{3920, types.ButtonSeekDown},   // 330R
	{4095, types.ButtonSeekUp},     // 150R
}

const (
	// Readings below the floor mean no button is pressed.
	ladderFloor = 100
	// Each threshold matches within a symmetric window of this size.
	ladderTolerance = 40
)

// Classifier maps one averaged analog reading to a ladder button identity.
// A reading that matches no threshold window is reported and treated as no
// press; ambiguity must never synthesize a false button.
type Classifier struct {
	log *logger.Logger
}

func NewClassifier(log *logger.Logger) *Classifier {
	return &Classifier{log: log.WithTag("ladder")}
}

func (c *Classifier) Classify(reading int) types.ButtonID {
	if reading < ladderFloor {
		return types.ButtonNone
	}
	for _, t := range ladderThresholds {
		if reading >= t.value-ladderTolerance && reading <= t.value+ladderTolerance {
			return t.button
		}
	}
	c.log.Warnf("unknown ladder reading: %d (no button matched)", reading)
	return types.ButtonNone
}
