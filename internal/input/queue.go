package input

import (
	"stereo-service/internal/logger"
	"stereo-service/internal/types"
)

const queueCapacity = 32

// Queue is the bounded hand-off between the input goroutines and the mode
// consumer. Push never blocks: when the consumer falls behind and the queue
// is full, the newest event is dropped and logged. Losing the newest event
// keeps already-queued gestures coherent (a Release never jumps ahead of
// its Press).
type Queue struct {
	log    *logger.Logger
	events chan types.ButtonEvent
}

func NewQueue(log *logger.Logger) *Queue {
	return &Queue{
		log:    log.WithTag("queue"),
		events: make(chan types.ButtonEvent, queueCapacity),
	}
}

func (q *Queue) Push(ev types.ButtonEvent) {
	select {
	case q.events <- ev:
	default:
		q.log.Errorf("input queue full, dropping %s %s", ev.Button, ev.Kind)
	}
}

// Events is the consumer side. Events arrive in the order they were pushed.
func (q *Queue) Events() <-chan types.ButtonEvent {
	return q.events
}

// Len reports the number of queued events, for tests and diagnostics.
func (q *Queue) Len() int {
	return len(q.events)
}
