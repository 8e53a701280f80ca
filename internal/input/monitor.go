package input

import (
	"context"
	"time"

	"stereo-service/internal/logger"
)

const (
	ladderPollInterval    = 20 * time.Millisecond
	rotaryPollInterval    = 100 * time.Millisecond
	maxConsecutiveReadErr = 10
)

// AnalogSource delivers one averaged ladder reading per call.
type AnalogSource interface {
	Read() (int, error)
}

// Monitor drives the time-based half of the input pipeline: it polls the
// analog ladder on a fixed cadence and runs the rotary long-press watchdog.
// Rotary edges arrive separately through the GPIO event handler; the
// monitor only covers what edges cannot.
type Monitor struct {
	log     *logger.Logger
	source  AnalogSource
	ladder  *Classifier
	gesture *LadderSynthesizer
	rotary  *RotaryDecoder
}

func NewMonitor(source AnalogSource, ladder *Classifier, gesture *LadderSynthesizer, rotary *RotaryDecoder, log *logger.Logger) *Monitor {
	return &Monitor{
		log:     log.WithTag("input"),
		source:  source,
		ladder:  ladder,
		gesture: gesture,
		rotary:  rotary,
	}
}

// Run blocks until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ladderTicker := time.NewTicker(ladderPollInterval)
	defer ladderTicker.Stop()
	rotaryTicker := time.NewTicker(rotaryPollInterval)
	defer rotaryTicker.Stop()

	readErrs := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-ladderTicker.C:
			reading, err := m.source.Read()
			if err != nil {
				readErrs++
				if readErrs == maxConsecutiveReadErr {
					m.log.Errorf("analog source failing persistently: %v", err)
				}
				continue
			}
			readErrs = 0
			m.gesture.Observe(m.ladder.Classify(reading))

		case <-rotaryTicker.C:
			m.rotary.Poll()
		}
	}
}
