// Package telemetry fans agent events out to the broker and the time-series store.
// Every sink is best-effort: errors are returned for logging, never acted upon.
package telemetry

import (
	"context"
	"errors"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/model"
)

type Sink interface {
	Decision(ctx context.Context, evt model.DecisionEvent) error
	StateChange(ctx context.Context, evt model.StateChangeEvent) error
	Result(ctx context.Context, evt model.ResultEvent) error
	Close() error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Decision(context.Context, model.DecisionEvent) error       { return nil }
func (Nop) StateChange(context.Context, model.StateChangeEvent) error { return nil }
func (Nop) Result(context.Context, model.ResultEvent) error           { return nil }
func (Nop) Close() error                                              { return nil }

// Multi forwards every event to all sinks and joins their errors.
type Multi []Sink

// NewMulti drops nil sinks; with nothing left it returns Nop.
func NewMulti(sinks ...Sink) Sink {
	var m Multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	switch len(m) {
	case 0:
		return Nop{}
	case 1:
		return m[0]
	}
	return m
}

func (m Multi) Decision(ctx context.Context, evt model.DecisionEvent) error {
	return m.each(func(s Sink) error { return s.Decision(ctx, evt) })
}

func (m Multi) StateChange(ctx context.Context, evt model.StateChangeEvent) error {
	return m.each(func(s Sink) error { return s.StateChange(ctx, evt) })
}

func (m Multi) Result(ctx context.Context, evt model.ResultEvent) error {
	return m.each(func(s Sink) error { return s.Result(ctx, evt) })
}

func (m Multi) Close() error {
	return m.each(func(s Sink) error { return s.Close() })
}

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
