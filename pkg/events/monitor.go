package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const monitorLogPrefix = "events:monitor"

// Monitor emits heartbeat and error events. Emitting never fails: publish
// errors and panics are logged and dropped.
type Monitor struct {
	publisher EventPublisher
	now       func() time.Time
}

// NewMonitor creates a Monitor over pub. A nil pub discards events.
func NewMonitor(pub EventPublisher) *Monitor {
	if pub == nil {
		pub = &NoOpPublisher{}
	}
	return &Monitor{publisher: pub, now: time.Now}
}

// EmitHeartbeat signals that the dispatch loop for userID is alive.
func (m *Monitor) EmitHeartbeat(ctx context.Context, userID int) bool {
	return m.emit(ctx, &MonitorEvent{Kind: KindHeartbeat, UserID: userID})
}

// EmitError reports message on the monitor queue of userID.
func (m *Monitor) EmitError(ctx context.Context, userID int, message string) bool {
	return m.emit(ctx, &MonitorEvent{Kind: KindError, UserID: userID, Message: message})
}

// emit reports whether the event was handed off.
func (m *Monitor) emit(ctx context.Context, event *MonitorEvent) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic publishing %s event: %v", monitorLogPrefix, event.Kind, r))
			ok = false
		}
	}()

	event.Timestamp = m.now().UTC().Format(time.RFC3339)
	if err := m.publisher.Publish(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - dropped %s event for user %d: %v", monitorLogPrefix, event.Kind, event.UserID, err))
		return false
	}
	return true
}
