// Package dispatch hands normalized events to the rule-handling side.
//
// A Dispatcher is called synchronously, once per event, in the order the
// events appear in the inbound payload. An error aborts the rest of that
// payload.
package dispatch

import (
	"context"

	"github.com/rickgao/streamlabs-tracer/internal/model"
)

// Dispatcher receives normalized events.
type Dispatcher interface {
	HandleEvent(ctx context.Context, ev model.Event) error
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, ev model.Event) error

// HandleEvent calls f.
func (f Func) HandleEvent(ctx context.Context, ev model.Event) error {
	return f(ctx, ev)
}

// Multi fans an event out to several dispatchers in order, stopping at the
// first error.
type Multi []Dispatcher

// HandleEvent calls every dispatcher in turn.
func (m Multi) HandleEvent(ctx context.Context, ev model.Event) error {
	for _, d := range m {
		if err := d.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
