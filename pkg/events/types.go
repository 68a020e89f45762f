// Package events defines monitor event types and the publishers that deliver
// them to the controller's monitor queue.
package events

// Monitor event kinds.
const (
	KindHeartbeat = "heartbeat"
	KindError     = "error"
)

// MonitorEvent is a fire-and-forget liveness or error signal. No reply is
// expected.
type MonitorEvent struct {
	Kind      string `json:"kind"`
	UserID    int    `json:"userId"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}
