// Package client is the controller side of the bridge protocol: it enqueues
// a request on a user's task queue and waits on the correlated reply queue.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/vault-bridge/pkg/dispatcher"
	"github.com/morezero/vault-bridge/pkg/queueutil"
	"github.com/morezero/vault-bridge/pkg/transport"
)

const logPrefix = "client:call"

// ErrNoReply is returned when no reply arrives within the call timeout.
var ErrNoReply = errors.New("no reply before timeout")

// Reply is a decoded response envelope with its result left raw.
type Reply struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
}

// Err returns the failure message of an unsuccessful reply as an error.
func (r *Reply) Err() error {
	if r.Success {
		return nil
	}
	var msg string
	if err := json.Unmarshal(r.Result, &msg); err != nil {
		msg = string(r.Result)
	}
	return errors.New(msg)
}

// Client issues requests to one user's bridge.
type Client struct {
	t       transport.Transport
	keys    queueutil.Keys
	userID  int
	timeout time.Duration
	newID   func() string
}

// New creates a Client. timeout bounds the wait for each reply; zero means
// 30s.
func New(t transport.Transport, keys queueutil.Keys, userID int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{t: t, keys: keys, userID: userID, timeout: timeout, newID: uuid.NewString}
}

// Call sends method with params and waits for the reply. params may be nil.
func (c *Client) Call(ctx context.Context, method string, params any) (*Reply, error) {
	req := &dispatcher.Request{RequestID: c.newID(), Method: method}
	if params != nil {
		raw, err := queueutil.EncodePayload(params)
		if err != nil {
			return nil, fmt.Errorf("%s - encode params: %w", logPrefix, err)
		}
		req.Params = raw
	}
	payload, err := queueutil.EncodePayload(req)
	if err != nil {
		return nil, fmt.Errorf("%s - encode request: %w", logPrefix, err)
	}

	if err := c.t.Push(ctx, c.keys.TaskQueue(c.userID), payload); err != nil {
		return nil, fmt.Errorf("%s - enqueue %s: %w", logPrefix, method, err)
	}
	slog.Debug(fmt.Sprintf("%s - Sent %s as %s", logPrefix, method, req.RequestID))

	data, err := c.t.Pop(ctx, c.keys.ReplyQueue(c.userID, req.RequestID), c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%s - wait for reply to %s: %w", logPrefix, req.RequestID, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%s - %s (%s): %w", logPrefix, method, req.RequestID, ErrNoReply)
	}

	var reply Reply
	if err := queueutil.DecodePayload(data, &reply); err != nil {
		return nil, fmt.Errorf("%s - decode reply: %w", logPrefix, err)
	}
	return &reply, nil
}
