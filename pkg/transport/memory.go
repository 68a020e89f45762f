package transport

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Transport. Every Push wakes all pending Pops,
// which then race for the head element under the lock.
type Memory struct {
	mu     sync.Mutex
	queues map[string][][]byte
	wake   chan struct{}
	closed bool
}

// NewMemory returns an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string][][]byte),
		wake:   make(chan struct{}),
	}
}

// Pop implements Transport.
func (m *Memory) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if q := m.queues[key]; len(q) > 0 {
			head := q[0]
			if len(q) == 1 {
				delete(m.queues, key)
			} else {
				m.queues[key] = q[1:]
			}
			m.mu.Unlock()
			return head, nil
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Push implements Transport.
func (m *Memory) Push(_ context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	m.queues[key] = append(m.queues[key], buf)

	close(m.wake)
	m.wake = make(chan struct{})
	return nil
}

// Len reports the number of elements waiting on key.
func (m *Memory) Len(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[key])
}

// Peek returns a copy of the elements waiting on key without removing them.
func (m *Memory) Peek(key string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.queues[key]))
	copy(out, m.queues[key])
	return out
}

// Close implements Transport. Pending Pops return ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.wake)
		m.wake = make(chan struct{})
	}
	return nil
}

var (
	sharedMu     sync.Mutex
	sharedMemory = map[string]*Memory{}
)

// DialMemory returns a handle on the process-wide Memory named host. Every
// dial of the same host sees the same queues, so work queued before a
// redial survives it. Queues never leave the process.
func DialMemory(host string) Transport {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	m, ok := sharedMemory[host]
	if !ok {
		m = NewMemory()
		sharedMemory[host] = m
	}
	return &memoryHandle{mem: m, done: make(chan struct{})}
}

// memoryHandle is one dial of a shared Memory. Closing it releases only
// this handle.
type memoryHandle struct {
	mem  *Memory
	once sync.Once
	done chan struct{}
}

func (h *memoryHandle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Pop implements Transport.
func (h *memoryHandle) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	if h.closed() {
		return nil, ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	data, err := h.mem.Pop(ctx, key, timeout)
	if err != nil && h.closed() {
		return nil, ErrClosed
	}
	return data, err
}

// Push implements Transport.
func (h *memoryHandle) Push(ctx context.Context, key string, payload []byte) error {
	if h.closed() {
		return ErrClosed
	}
	return h.mem.Push(ctx, key, payload)
}

// Close implements Transport. The shared queues stay open.
func (h *memoryHandle) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}
