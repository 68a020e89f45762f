package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/morezero/vault-bridge/internal/config"
	"github.com/morezero/vault-bridge/pkg/transport"
)

const connectionLogPrefix = "bridge:connection"

// ErrNotConnected is returned by Push when no transport is live.
var ErrNotConnected = errors.New("not connected")

// Connection owns the loop's single transport. A settings change replaces
// it; the replaced transport is closed and never reused.
type Connection struct {
	dial transport.Dialer
	opts transport.Options

	mu       sync.Mutex
	current  transport.Transport
	endpoint string
}

// NewConnection creates an unconnected Connection that dials with dial.
func NewConnection(dial transport.Dialer, opts transport.Options) *Connection {
	if dial == nil {
		dial = transport.Dial
	}
	return &Connection{dial: dial, opts: opts}
}

// Ensure returns a live transport for settings, dialing when there is none
// or when the queue URL differs from the one last connected with.
func (c *Connection) Ensure(ctx context.Context, settings config.Settings) (transport.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && c.endpoint == settings.QueueURL {
		return c.current, nil
	}
	if c.current != nil {
		slog.Info(fmt.Sprintf("%s - Queue URL changed, replacing connection", connectionLogPrefix))
		c.closeLocked()
	}

	t, err := c.dial(ctx, settings.QueueURL, c.opts)
	if err != nil {
		return nil, fmt.Errorf("%s - connect: %w", connectionLogPrefix, err)
	}
	c.current, c.endpoint = t, settings.QueueURL
	slog.Info(fmt.Sprintf("%s - Connected (user %d)", connectionLogPrefix, settings.UserID))
	return t, nil
}

// Live reports whether a transport is held.
func (c *Connection) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Invalidate drops the current transport so the next Ensure redials.
func (c *Connection) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// Push appends payload to key on the current transport.
func (c *Connection) Push(ctx context.Context, key string, payload []byte) error {
	c.mu.Lock()
	t := c.current
	c.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}
	return t.Push(ctx, key, payload)
}

// Close releases the current transport.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	if c.current == nil {
		return nil
	}
	err := c.current.Close()
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - close: %v", connectionLogPrefix, err))
	}
	c.current, c.endpoint = nil, ""
	return err
}
