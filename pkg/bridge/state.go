// Package bridge runs the dispatch loop: it polls the active user's task
// queue, dispatches each request and publishes the correlated response.
package bridge

// State is the dispatch loop's connection and work state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateWaiting
	StateProcessing
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateWaiting:
		return "waiting"
	case StateProcessing:
		return "processing"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}
