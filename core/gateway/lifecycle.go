package gateway

import (
	"context"
	"time"

	"github.com/looplab/fsm"

	"github.com/kilianp07/roamgate/core/model"
)

// Lifecycle events.
const (
	eventValidate    = "validate"
	eventReject      = "reject"
	eventUnsupported = "unsupported"
	eventFail        = "fail"
	eventAdmit       = "admit"
	eventDispatch    = "dispatch"
	eventNotify      = "notify"
)

// lifecycle tracks one command through its states. The record is updated on
// every transition and handed to onTerminal once a terminal state is entered.
type lifecycle struct {
	fsm        *fsm.FSM
	rec        model.CommandRecord
	started    time.Time
	latency    time.Duration
	onTerminal func(lc *lifecycle)
}

func newLifecycle(id, tenantID string, typ model.CommandType, onTerminal func(lc *lifecycle)) *lifecycle {
	lc := &lifecycle{
		rec: model.CommandRecord{
			ID:       id,
			TenantID: tenantID,
			Type:     typ,
			State:    model.StateReceived,
		},
		started:    time.Now(),
		onTerminal: onTerminal,
	}
	received := string(model.StateReceived)
	validated := string(model.StateValidated)
	admitted := string(model.StateAdmitted)
	dispatching := string(model.StateDispatching)
	lc.fsm = fsm.NewFSM(
		received,
		fsm.Events{
			{Name: eventValidate, Src: []string{received}, Dst: validated},
			{Name: eventUnsupported, Src: []string{received}, Dst: string(model.StateNotSupported)},
			{Name: eventReject, Src: []string{received, validated}, Dst: string(model.StateRejected)},
			{Name: eventAdmit, Src: []string{validated}, Dst: admitted},
			{Name: eventFail, Src: []string{received, validated, admitted, dispatching}, Dst: string(model.StateFailed)},
			{Name: eventDispatch, Src: []string{admitted}, Dst: dispatching},
			{Name: eventNotify, Src: []string{dispatching}, Dst: string(model.StateNotified)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				lc.rec.State = model.CommandState(e.Dst)
				if lc.rec.State.Terminal() && lc.onTerminal != nil {
					lc.rec.Timestamp = time.Now()
					lc.onTerminal(lc)
				}
			},
		},
	)
	return lc
}

// fire triggers event and returns the transition error, if any.
func (lc *lifecycle) fire(ctx context.Context, event string) error {
	return lc.fsm.Event(ctx, event)
}

// State returns the current lifecycle state.
func (lc *lifecycle) State() model.CommandState {
	return model.CommandState(lc.fsm.Current())
}
