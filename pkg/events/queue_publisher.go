package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/morezero/vault-bridge/pkg/queueutil"
)

const queuePublisherLogPrefix = "events:queue_publisher"

// Pusher appends a payload to a queue key.
type Pusher interface {
	Push(ctx context.Context, key string, payload []byte) error
}

// QueuePublisher pushes monitor events onto the per-user monitor queue.
type QueuePublisher struct {
	keys   queueutil.Keys
	pusher Pusher
}

// NewQueuePublisher creates a new QueuePublisher.
func NewQueuePublisher(keys queueutil.Keys, pusher Pusher) *QueuePublisher {
	return &QueuePublisher{keys: keys, pusher: pusher}
}

// Publish encodes event and pushes it to the monitor queue of event.UserID.
func (p *QueuePublisher) Publish(ctx context.Context, event *MonitorEvent) error {
	data, err := queueutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", queuePublisherLogPrefix, err)
	}

	key := p.keys.MonitorQueue(event.UserID)
	if err := p.pusher.Push(ctx, key, data); err != nil {
		return fmt.Errorf("%s - failed to push to %s: %w", queuePublisherLogPrefix, key, err)
	}

	slog.Debug(fmt.Sprintf("%s - Published %s event to %s", queuePublisherLogPrefix, event.Kind, key))
	return nil
}
