package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/morezero/vault-bridge/pkg/queueutil"
)

const natsLogPrefix = "transport:nats"

const consumerInactiveThreshold = 10 * time.Minute

// NATS is a Transport backed by JetStream work-queue streams. Each key
// prefix ("obsidian-plugin-tasks") gets one stream capturing "<prefix>.>",
// and each popped key gets one durable pull consumer filtered to its subject.
type NATS struct {
	nc     *comms.Conn
	js     jetstream.JetStream
	keyTTL time.Duration

	mu        sync.Mutex
	streams   map[string]jetstream.Stream
	consumers map[string]jetstream.Consumer
}

// DialNATS connects to the NATS server at rawURL with JetStream enabled.
func DialNATS(ctx context.Context, rawURL string, opts Options) (*NATS, error) {
	name := opts.Name
	if name == "" {
		name = "vault-bridge"
	}
	slog.Info(fmt.Sprintf("%s - Connecting to NATS at %s as %s", natsLogPrefix, rawURL, name))

	nc, err := comms.Connect(rawURL,
		comms.Name(name),
		comms.Timeout(opts.connectTimeout()),
		comms.ReconnectWait(2*time.Second),
		comms.MaxReconnects(60),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - NATS disconnected: %v", natsLogPrefix, err))
			if err != nil {
				opts.reportError(fmt.Errorf("disconnected: %w", err))
			}
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - NATS reconnected to %s", natsLogPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - NATS connection closed", natsLogPrefix))
		}),
		comms.ErrorHandler(func(_ *comms.Conn, _ *comms.Subscription, err error) {
			slog.Error(fmt.Sprintf("%s - NATS async error: %v", natsLogPrefix, err))
			opts.reportError(err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to NATS: %w", natsLogPrefix, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s - failed to open JetStream: %w", natsLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to NATS at %s", natsLogPrefix, nc.ConnectedUrl()))
	return &NATS{
		nc:        nc,
		js:        js,
		keyTTL:    opts.KeyTTL,
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]jetstream.Consumer),
	}, nil
}

// Pop implements Transport. The message is acknowledged before it is
// returned, so a crash after Pop loses it rather than redelivering it.
func (n *NATS) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	if n.nc.IsClosed() {
		return nil, ErrClosed
	}
	cons, err := n.consumer(ctx, key)
	if err != nil {
		return nil, err
	}

	batch, err := cons.Fetch(1, jetstream.FetchMaxWait(timeout))
	if err != nil {
		return nil, fmt.Errorf("%s - fetch %s: %w", natsLogPrefix, key, err)
	}

	for msg := range batch.Messages() {
		if err := msg.Ack(); err != nil {
			return nil, fmt.Errorf("%s - ack %s: %w", natsLogPrefix, key, err)
		}
		return msg.Data(), nil
	}

	if err := batch.Error(); err != nil && !isFetchTimeout(err) {
		return nil, fmt.Errorf("%s - fetch %s: %w", natsLogPrefix, key, err)
	}
	return nil, nil
}

// Push implements Transport.
func (n *NATS) Push(ctx context.Context, key string, payload []byte) error {
	if n.nc.IsClosed() {
		return ErrClosed
	}
	if _, err := n.stream(ctx, key); err != nil {
		return err
	}
	if _, err := n.js.Publish(ctx, queueutil.KeyToSubject(key), payload); err != nil {
		return fmt.Errorf("%s - publish %s: %w", natsLogPrefix, key, err)
	}
	return nil
}

// Close implements Transport.
func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}

func (n *NATS) stream(ctx context.Context, key string) (jetstream.Stream, error) {
	prefix := queueutil.KeyPrefix(key)
	name := streamName(prefix)

	n.mu.Lock()
	defer n.mu.Unlock()

	if s, ok := n.streams[name]; ok {
		return s, nil
	}

	s, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  []string{queueutil.KeyToSubject(prefix) + ".>"},
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    n.keyTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - ensure stream %s: %w", natsLogPrefix, name, err)
	}
	n.streams[name] = s
	return s, nil
}

func (n *NATS) consumer(ctx context.Context, key string) (jetstream.Consumer, error) {
	s, err := n.stream(ctx, key)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if c, ok := n.consumers[key]; ok {
		return c, nil
	}

	c, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       sanitizeName(key),
		FilterSubject: queueutil.KeyToSubject(key),
		AckPolicy:     jetstream.AckExplicitPolicy,
		// Reply keys are read once; let the server reap their consumers.
		InactiveThreshold: consumerInactiveThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - ensure consumer for %s: %w", natsLogPrefix, key, err)
	}
	n.consumers[key] = c
	return c, nil
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, comms.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, jetstream.ErrNoMessages)
}

func streamName(prefix string) string {
	return strings.ToUpper(sanitizeName(prefix))
}

// sanitizeName keeps characters valid in stream and consumer names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
