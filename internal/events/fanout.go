package events

import (
	"context"
	"errors"

	"github.com/yegors/flighttrack/internal/flights"
)

// Counter counts published events
type Counter interface {
	ObserveEvent(t flights.EventType)
}

// Fanout delivers each event to every publisher. One failing publisher does
// not stop delivery to the others.
type Fanout struct {
	publishers []flights.EventPublisher
	counter    Counter
}

// NewFanout creates a Fanout. counter may be nil.
func NewFanout(counter Counter, publishers ...flights.EventPublisher) *Fanout {
	return &Fanout{publishers: publishers, counter: counter}
}

// Add appends a publisher
func (f *Fanout) Add(p flights.EventPublisher) {
	f.publishers = append(f.publishers, p)
}

// Len returns the number of publishers
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// PublishFlightEvent implements flights.EventPublisher
func (f *Fanout) PublishFlightEvent(ctx context.Context, ev flights.Event) error {
	if f.counter != nil {
		f.counter.ObserveEvent(ev.Type)
	}
	var errs []error
	for _, p := range f.publishers {
		if err := p.PublishFlightEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
