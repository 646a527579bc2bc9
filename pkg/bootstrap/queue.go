package bootstrap

import (
	"fmt"

	"github.com/itsneelabh/insights/pkg/core"
)

// EmptyQueue replays the calls recorded on the snippet, in order, once.
//
// The queue length is captured up front: calls enqueued while draining are
// not replayed. The first failing call (error or panic) stops the drain; the
// failure is reported as an internal diagnostic and kept in LastDrainError,
// never returned. Afterwards the snippet's queue is removed.
func (o *Orchestrator) EmptyQueue() {
	s := o.snippet
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.Queue == nil {
		s.mu.Unlock()
		return
	}
	calls := make([]Call, len(s.Queue))
	copy(calls, s.Queue)
	s.mu.Unlock()

	err := drain(calls)

	s.mu.Lock()
	s.Queue = nil
	s.mu.Unlock()

	if err == nil {
		return
	}
	o.mu.Lock()
	o.lastDrainErr = &core.FrameworkError{
		Op:      "Orchestrator.EmptyQueue",
		Kind:    "queue",
		Message: err.Error(),
		Err:     core.ErrQueueDrain,
	}
	o.mu.Unlock()

	o.pipeline.Logger().ThrowInternal(core.SeverityWarningInternal, core.MsgFailedToSendQueuedTelemetry,
		"Failed to send queued telemetry", map[string]string{"exception": err.Error()})
}

func drain(calls []Call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queued call panicked: %v", r)
		}
	}()
	for i, call := range calls {
		if call == nil {
			continue
		}
		if callErr := call(); callErr != nil {
			return fmt.Errorf("queued call %d: %w", i, callErr)
		}
	}
	return nil
}
