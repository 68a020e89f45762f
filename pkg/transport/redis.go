package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisLogPrefix = "transport:redis"

// Redis is a Transport backed by Redis lists: RPUSH to enqueue, BLPOP to
// dequeue, giving FIFO order per key.
type Redis struct {
	client *redis.Client
	keyTTL time.Duration
}

// DialRedis connects to the Redis server at rawURL and verifies it with PING.
func DialRedis(ctx context.Context, rawURL string, opts Options) (*Redis, error) {
	ropts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to parse URL: %w", redisLogPrefix, err)
	}
	if opts.Name != "" {
		ropts.ClientName = opts.Name
	}
	ropts.DialTimeout = opts.connectTimeout()

	client := redis.NewClient(ropts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.connectTimeout())
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%s - failed to connect to %s: %w", redisLogPrefix, ropts.Addr, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to Redis at %s", redisLogPrefix, ropts.Addr))
	return NewRedis(client, opts.KeyTTL), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, keyTTL time.Duration) *Redis {
	return &Redis{client: client, keyTTL: keyTTL}
}

// Pop implements Transport.
func (r *Redis) Pop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	res, err := r.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%s - BLPOP %s: %w", redisLogPrefix, key, err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("%s - BLPOP %s: unexpected reply length %d", redisLogPrefix, key, len(res))
	}
	return []byte(res[1]), nil
}

// Push implements Transport. With a key TTL the expiry is refreshed in the
// same transaction as the push.
func (r *Redis) Push(ctx context.Context, key string, payload []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		if r.keyTTL > 0 {
			pipe.Expire(ctx, key, r.keyTTL)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("%s - RPUSH %s: %w", redisLogPrefix, key, err)
	}
	return nil
}

// Close implements Transport.
func (r *Redis) Close() error {
	return r.client.Close()
}
