package orchestrator

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quorumflow/quorumflow/council"
)

// Phase is the lifecycle stage a progress event reports.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// ProgressEvent is one observational notification about an in-flight
// invocation. Events are a side channel for responsiveness; they never
// affect control flow.
type ProgressEvent struct {
	InvocationID string        `json:"invocation_id"`
	AgentID      string        `json:"agent_id,omitempty"`
	Phase        Phase         `json:"phase"`
	Message      string        `json:"message,omitempty"`
	Vote         *council.Vote `json:"vote,omitempty"`
	At           time.Time     `json:"at"`
}

// EventEmitter fans progress events out to an optional buffered channel.
// Emission never blocks: when the subscriber falls behind, events are
// dropped and counted rather than stalling a round.
type EventEmitter struct {
	ch      chan ProgressEvent
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewEventEmitter creates an emitter with the given buffer size. A size
// of zero or less disables event delivery entirely (Events returns nil).
func NewEventEmitter(buffer int, logger *zap.Logger) *EventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &EventEmitter{logger: logger.With(zap.String("component", "events"))}
	if buffer > 0 {
		e.ch = make(chan ProgressEvent, buffer)
	}
	return e
}

// Events returns the receive side of the event stream, or nil when
// delivery is disabled.
func (e *EventEmitter) Events() <-chan ProgressEvent {
	if e == nil {
		return nil
	}
	return e.ch
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (e *EventEmitter) Dropped() int64 {
	if e == nil {
		return 0
	}
	return e.dropped.Load()
}

// Close closes the event stream. Emit must not be called afterwards.
func (e *EventEmitter) Close() {
	if e != nil && e.ch != nil {
		close(e.ch)
	}
}

func (e *EventEmitter) emit(ev ProgressEvent) {
	if e == nil || e.ch == nil {
		return
	}
	ev.At = time.Now()
	select {
	case e.ch <- ev:
	default:
		e.dropped.Add(1)
		e.logger.Debug("progress event dropped",
			zap.String("invocation_id", ev.InvocationID),
			zap.String("agent_id", ev.AgentID),
			zap.String("phase", string(ev.Phase)))
	}
}
