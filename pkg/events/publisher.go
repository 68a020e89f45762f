package events

import "context"

// EventPublisher hands monitor events to their destination.
type EventPublisher interface {
	Publish(ctx context.Context, event *MonitorEvent) error
}

// NoOpPublisher discards every event.
type NoOpPublisher struct{}

// Publish is a no-op.
func (p *NoOpPublisher) Publish(_ context.Context, _ *MonitorEvent) error {
	return nil
}

// ObservedPublisher forwards events to next and passes each one that was
// accepted to observe. Rejected events are not observed.
type ObservedPublisher struct {
	next    EventPublisher
	observe func(event *MonitorEvent)
}

// NewObservedPublisher wraps next. A nil observe makes it a pass-through.
func NewObservedPublisher(next EventPublisher, observe func(event *MonitorEvent)) *ObservedPublisher {
	return &ObservedPublisher{next: next, observe: observe}
}

// Publish implements EventPublisher.
func (p *ObservedPublisher) Publish(ctx context.Context, event *MonitorEvent) error {
	if err := p.next.Publish(ctx, event); err != nil {
		return err
	}
	if p.observe != nil {
		p.observe(event)
	}
	return nil
}
