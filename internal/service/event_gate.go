package service

import (
	"context"
	"fmt"
)

// EventGate makes at-least-once delivery of external events safe. The unique index on
// the event id is the real guard; AlreadyProcessed is only the fast path.
type EventGate struct {
	store EventStore
}

func NewEventGate(store EventStore) *EventGate {
	return &EventGate{store: store}
}

func (g *EventGate) AlreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := g.store.Exists(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("check event %s: %w", eventID, err)
	}
	return ok, nil
}

// MarkProcessed is idempotent.
func (g *EventGate) MarkProcessed(ctx context.Context, eventID string) error {
	if err := g.store.Mark(ctx, eventID); err != nil {
		return fmt.Errorf("mark event %s: %w", eventID, err)
	}
	return nil
}

// Run checks, processes, then marks. A processed event returns duplicate=true without
// calling fn. When fn fails the event stays unmarked so a redelivery can retry it.
func (g *EventGate) Run(ctx context.Context, eventID string, fn func(ctx context.Context) error) (bool, error) {
	done, err := g.AlreadyProcessed(ctx, eventID)
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}
	if err := fn(ctx); err != nil {
		return false, err
	}
	return false, g.MarkProcessed(ctx, eventID)
}
