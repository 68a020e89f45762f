package events

import "context"

// callbackPublisher hands every event to fn.
type callbackPublisher func(ctx context.Context, event *MonitorEvent) error

func (fn callbackPublisher) Publish(ctx context.Context, event *MonitorEvent) error {
	return fn(ctx, event)
}
