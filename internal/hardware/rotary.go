package hardware

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"stereo-service/internal/logger"
)

// RotaryEdgeFunc receives the sampled state of all three encoder lines on
// every edge. pressed is already corrected for the active-low switch.
type RotaryEdgeFunc func(clk, dt, pressed bool)

// RotaryLines owns the three GPIO lines of the encoder (two phase lines and
// the push switch). All three are requested with both-edge event reporting;
// the kernel delivers edges on a dedicated goroutine per request.
type RotaryLines struct {
	log    *logger.Logger
	handle RotaryEdgeFunc

	clk *gpiocdev.Line
	dt  *gpiocdev.Line
	sw  *gpiocdev.Line
}

func OpenRotaryLines(chip string, clkOffset, dtOffset, swOffset int, handle RotaryEdgeFunc, log *logger.Logger) (*RotaryLines, error) {
	r := &RotaryLines{
		log:    log.WithTag("gpio"),
		handle: handle,
	}

	var err error
	if r.clk, err = r.request(chip, clkOffset); err != nil {
		return nil, fmt.Errorf("failed to request CLK line %d: %w", clkOffset, err)
	}
	if r.dt, err = r.request(chip, dtOffset); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to request DT line %d: %w", dtOffset, err)
	}
	if r.sw, err = r.request(chip, swOffset); err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to request SW line %d: %w", swOffset, err)
	}

	r.log.Infof("Rotary encoder on %s: clk=%d dt=%d sw=%d", chip, clkOffset, dtOffset, swOffset)
	return r, nil
}

func (r *RotaryLines) request(chip string, offset int) (*gpiocdev.Line, error) {
	return gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer("stereo-service"),
		gpiocdev.WithEventHandler(r.onEvent))
}

func (r *RotaryLines) onEvent(evt gpiocdev.LineEvent) {
	clk := r.level(r.clk, evt)
	dt := r.level(r.dt, evt)
	sw := r.level(r.sw, evt)
	// The switch shorts its line to ground when pressed.
	r.handle(clk, dt, !sw)
}

// level returns the current level of line. For the line that generated the
// event the edge type is authoritative; re-reading it could race with a
// subsequent edge.
func (r *RotaryLines) level(line *gpiocdev.Line, evt gpiocdev.LineEvent) bool {
	if line == nil {
		// Event fired while the remaining lines are still being requested.
		return true
	}
	if line.Offset() == evt.Offset {
		return evt.Type == gpiocdev.LineEventRisingEdge
	}
	v, err := line.Value()
	if err != nil {
		r.log.Warnf("failed to read line %d: %v", line.Offset(), err)
		return true
	}
	return v != 0
}

func (r *RotaryLines) Close() {
	for _, line := range []*gpiocdev.Line{r.clk, r.dt, r.sw} {
		if line != nil {
			line.Close()
		}
	}
}
