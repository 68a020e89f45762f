package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/vault-bridge/internal/config"
	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/events"
	"github.com/morezero/vault-bridge/pkg/queueutil"
	"github.com/morezero/vault-bridge/pkg/transport"
)

const logPrefix = "bridge:loop"

// UnconfiguredNotice is shown once when the active environment lacks a user
// id or queue URL.
const UnconfiguredNotice = "vault-bridge is not configured: set userId and queueUrl for the active environment"

// SettingsSource yields the active connection settings. It is consulted at
// the start of every cycle.
type SettingsSource interface {
	Active() (config.Settings, error)
}

// Options configures a Loop. Zero durations use defaults.
type Options struct {
	Keys       queueutil.Keys
	Settings   SettingsSource
	Dispatcher *dispatcher.Dispatcher
	// Dial opens transports. Defaults to transport.Dial.
	Dial transport.Dialer
	// Transport is passed to Dial. Its OnError is replaced by the loop.
	Transport transport.Options

	// PopTimeout bounds the blocking wait for work. Defaults to 30s.
	PopTimeout time.Duration
	// IdleDelay is slept after a cycle that found no work. Zero
	// reschedules immediately.
	IdleDelay time.Duration
	// RetryDelay is slept after an unconfigured or faulted cycle when
	// IdleDelay is zero. Defaults to 1s.
	RetryDelay time.Duration

	// Notify receives the one-time unconfigured notice.
	Notify func(msg string)
}

// Status is a snapshot of the loop for health reporting.
type Status struct {
	State         string    `json:"state"`
	UserID        int       `json:"userId"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitzero"`
	// Processed counts dispatched requests; Failed those answered with
	// success=false; Dropped those that could not be decoded.
	Processed     uint64    `json:"processed"`
	Failed        uint64    `json:"failed"`
	Dropped       uint64    `json:"dropped"`
	PendingErrors int       `json:"pendingErrors"`
	// LastError is the most recent error event delivered to the monitor.
	LastError     string    `json:"lastError,omitempty"`
}

// Loop is the single sequential dispatch worker.
type Loop struct {
	keys       queueutil.Keys
	settings   SettingsSource
	dispatcher *dispatcher.Dispatcher
	conn       *Connection
	monitor    *events.Monitor
	notify     func(string)

	popTimeout time.Duration
	idleDelay  time.Duration
	retryDelay time.Duration

	state     atomic.Int32
	userID    atomic.Int64
	heartbeat atomic.Int64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	notified bool

	mu        sync.Mutex
	pending   pendingErrors
	lastError string
}

// NewLoop creates a Loop. Call Run to start it.
func NewLoop(opts Options) *Loop {
	l := &Loop{
		keys:       opts.Keys,
		settings:   opts.Settings,
		dispatcher: opts.Dispatcher,
		notify:     opts.Notify,
		popTimeout: opts.PopTimeout,
		idleDelay:  opts.IdleDelay,
		retryDelay: opts.RetryDelay,
	}
	if l.popTimeout <= 0 {
		l.popTimeout = 30 * time.Second
	}
	if l.retryDelay <= 0 {
		l.retryDelay = time.Second
	}
	if l.notify == nil {
		l.notify = func(msg string) { slog.Warn(fmt.Sprintf("%s - %s", logPrefix, msg)) }
	}

	topts := opts.Transport
	topts.OnError = l.reportTransportError
	l.conn = NewConnection(opts.Dial, topts)
	l.monitor = events.NewMonitor(events.NewObservedPublisher(events.NewQueuePublisher(opts.Keys, l.conn), l.recordEvent))
	l.userID.Store(int64(config.UnsetUserID))
	return l
}

// Run executes cycles until ctx is cancelled, then releases the connection.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - Dispatch loop started", logPrefix))
	defer func() {
		l.conn.Close()
		l.setState(StateDisconnected)
		slog.Info(fmt.Sprintf("%s - Dispatch loop stopped", logPrefix))
	}()

	for {
		worked := l.RunCycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if worked {
			continue
		}

		delay := l.idleDelay
		if delay == 0 {
			if s := l.State(); s == StateDisconnected || s == StateFaulted {
				delay = l.retryDelay
			}
		}
		if delay == 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle performs one poll-dispatch-reply iteration and reports whether a
// message was taken from the queue. It never panics.
func (l *Loop) RunCycle(ctx context.Context) (worked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - panic in cycle: %v\n%s", logPrefix, r, debug.Stack()))
			l.addPending(fmt.Sprintf("dispatch cycle panicked: %v", r))
			l.conn.Invalidate()
			l.setState(StateFaulted)
		}
	}()

	settings, err := l.settings.Active()
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to load settings: %v", logPrefix, err))
		l.setState(StateFaulted)
		return false
	}
	if !settings.Configured() {
		if !l.notified {
			l.notified = true
			l.notify(UnconfiguredNotice)
		}
		l.conn.Close()
		l.setState(StateDisconnected)
		return false
	}
	l.notified = false
	l.userID.Store(int64(settings.UserID))

	if !l.conn.Live() {
		l.setState(StateConnecting)
	}
	t, err := l.conn.Ensure(ctx, settings)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
		l.addPending(err.Error())
		l.setState(StateFaulted)
		return false
	}
	l.setState(StateReady)

	for _, msg := range l.takePending() {
		l.monitor.EmitError(ctx, settings.UserID, msg)
	}
	l.monitor.EmitHeartbeat(ctx, settings.UserID)

	l.setState(StateWaiting)
	data, err := t.Pop(ctx, l.keys.TaskQueue(settings.UserID), l.popTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		l.fault(fmt.Errorf("%s - pop failed: %w", logPrefix, err))
		return false
	}
	if data == nil {
		l.setState(StateReady)
		return false
	}

	l.setState(StateProcessing)
	l.process(ctx, t, settings.UserID, data)
	if l.State() == StateProcessing {
		l.setState(StateReady)
	}
	return true
}

func (l *Loop) process(ctx context.Context, t transport.Transport, userID int, data []byte) {
	req, err := dispatcher.DecodeRequest(data)
	if err != nil {
		l.dropped.Add(1)
		slog.Warn(fmt.Sprintf("%s - dropping undecodable request: %v", logPrefix, err))
		l.monitor.EmitError(ctx, userID, err.Error())
		return
	}

	resp := l.dispatcher.Dispatch(ctx, req)
	l.processed.Add(1)
	if !resp.Success {
		l.failed.Add(1)
	}

	key := l.keys.ReplyQueue(userID, req.RequestID)
	if err := t.Push(ctx, key, dispatcher.EncodeResponse(resp)); err != nil {
		l.fault(fmt.Errorf("%s - failed to publish response for %s to %s: %w", logPrefix, req.RequestID, key, err))
		return
	}
	slog.Debug(fmt.Sprintf("%s - Replied to %s (%s) success=%t", logPrefix, req.RequestID, req.Method, resp.Success))
}

// fault records a transport fault for the next connection and drops the
// transport.
func (l *Loop) fault(err error) {
	slog.Error(err.Error())
	l.addPending(err.Error())
	l.conn.Invalidate()
	l.setState(StateFaulted)
}

// reportTransportError receives asynchronous transport errors.
func (l *Loop) reportTransportError(err error) {
	if err == nil || errors.Is(err, transport.ErrClosed) {
		return
	}
	l.addPending(fmt.Sprintf("transport error: %v", err))
}

// recordEvent tracks monitor events that reached the queue.
func (l *Loop) recordEvent(event *events.MonitorEvent) {
	switch event.Kind {
	case events.KindHeartbeat:
		l.heartbeat.Store(time.Now().UnixNano())
	case events.KindError:
		l.mu.Lock()
		l.lastError = event.Message
		l.mu.Unlock()
	}
}

func (l *Loop) addPending(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending.add(msg)
}

func (l *Loop) takePending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.take()
}

// maxPendingErrors bounds the distinct messages held between connections.
const maxPendingErrors = 16

type pendingError struct {
	msg   string
	count int
}

// pendingErrors collects transport faults until they can be reported.
// Repeats of a held message are counted, not stored; past
// maxPendingErrors the oldest message is evicted and tallied as suppressed.
type pendingErrors struct {
	entries    []pendingError
	suppressed int
}

func (p *pendingErrors) add(msg string) {
	for i := range p.entries {
		if p.entries[i].msg == msg {
			p.entries[i].count++
			return
		}
	}
	if len(p.entries) == maxPendingErrors {
		p.suppressed += p.entries[0].count
		copy(p.entries, p.entries[1:])
		p.entries = p.entries[:len(p.entries)-1]
	}
	p.entries = append(p.entries, pendingError{msg: msg, count: 1})
}

// take returns the messages to report and resets the buffer.
func (p *pendingErrors) take() []string {
	out := make([]string, 0, p.len())
	if p.suppressed > 0 {
		out = append(out, fmt.Sprintf("%d earlier errors suppressed", p.suppressed))
	}
	for _, e := range p.entries {
		if e.count > 1 {
			out = append(out, fmt.Sprintf("%s (repeated %d times)", e.msg, e.count))
			continue
		}
		out = append(out, e.msg)
	}
	*p = pendingErrors{}
	return out
}

// len is the number of events take would return.
func (p *pendingErrors) len() int {
	n := len(p.entries)
	if p.suppressed > 0 {
		n++
	}
	return n
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// State returns the current loop state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Status returns a snapshot for health reporting.
func (l *Loop) Status() Status {
	l.mu.Lock()
	pending := l.pending.len()
	lastError := l.lastError
	l.mu.Unlock()

	s := Status{
		State:         l.State().String(),
		UserID:        int(l.userID.Load()),
		Processed:     l.processed.Load(),
		Failed:        l.failed.Load(),
		Dropped:       l.dropped.Load(),
		PendingErrors: pending,
		LastError:     lastError,
	}
	if ns := l.heartbeat.Load(); ns != 0 {
		s.LastHeartbeat = time.Unix(0, ns).UTC()
	}
	return s
}
