package commandlog

import (
	"context"
	"time"

	"github.com/kilianp07/roamgate/core/events"
	"github.com/kilianp07/roamgate/core/logger"
	"github.com/kilianp07/roamgate/internal/eventbus"
)

// StartRecorder appends every command event published on bus to store until
// ctx is canceled or the bus is closed. The returned channel is closed when
// the recorder stops.
func StartRecorder(ctx context.Context, bus *eventbus.TypedBus[events.CommandEvent], store Store, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	sub := bus.SubscribeLossless()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := store.Append(actx, ev.Record); err != nil {
					log.Errorf("append command record %s: %v", ev.Record.ID, err)
				}
				cancel()
			}
		}
	}()
	return done
}
