package metrics

import (
	"context"

	coremetrics "github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/infra/logger"
	"github.com/kilianp07/hydroflex/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled or the bus is closed. The returned
// channel is closed once the collector has drained its subscription.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[coremetrics.Event], sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	log := logger.New("metrics-collector")
	sub := bus.Subscribe()
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
				if err := coremetrics.Dispatch(sink, ev); err != nil {
					log.Warnf("record %T: %v", ev, err)
				}
			}
		}
	}()
	return done
}
