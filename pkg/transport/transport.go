// Package transport provides the blocking queue clients the bridge polls and
// publishes through. Implementations are selected by URL scheme.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

const logPrefix = "transport:dial"

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Transport is a FIFO queue client addressed by string keys.
type Transport interface {
	// Pop removes and returns the oldest element of key, waiting up to
	// timeout for one to arrive. It returns (nil, nil) when the wait expires.
	Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error)
	// Push appends payload to key.
	Push(ctx context.Context, key string, payload []byte) error
	// Close releases the connection. The transport must not be used afterwards.
	Close() error
}

// Options configures Dial. Zero values use defaults.
type Options struct {
	// Name identifies this client to the server where supported.
	Name string
	// KeyTTL, when positive, bounds how long pushed keys survive unread.
	KeyTTL time.Duration
	// OnError receives asynchronous transport errors (disconnects, slow
	// consumers). It may be called from another goroutine.
	OnError func(error)
	// ConnectTimeout bounds the initial dial. Defaults to 10s.
	ConnectTimeout time.Duration
}

func (o Options) connectTimeout() time.Duration {
	if o.ConnectTimeout > 0 {
		return o.ConnectTimeout
	}
	return 10 * time.Second
}

func (o Options) reportError(err error) {
	if o.OnError != nil && err != nil {
		o.OnError(err)
	}
}

// Dialer opens a transport for a queue URL.
type Dialer func(ctx context.Context, rawURL string, opts Options) (Transport, error)

// Dial opens a transport for rawURL. Supported schemes are redis, rediss,
// nats and memory. memory://<name> queues are shared by every dial of the
// same name within the process and are not reachable from other processes.
func Dial(ctx context.Context, rawURL string, opts Options) (Transport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid queue URL %q: %w", logPrefix, rawURL, err)
	}

	slog.Debug(fmt.Sprintf("%s - dialing %s transport", logPrefix, u.Scheme))

	switch u.Scheme {
	case "redis", "rediss":
		return DialRedis(ctx, rawURL, opts)
	case "nats", "tls":
		return DialNATS(ctx, rawURL, opts)
	case "memory":
		return DialMemory(u.Host), nil
	default:
		return nil, fmt.Errorf("%s - unsupported queue URL scheme %q", logPrefix, u.Scheme)
	}
}
