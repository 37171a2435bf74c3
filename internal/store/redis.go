package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis stores records under a key prefix. Records never carry a native
// expiry; lifetime hints are kept in sidecar keys under lifetimePrefix, as
// LevelDB does.
type Redis struct {
	client *redis.Client
	prefix string
	nowFn  func() time.Time
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisFromClient(client, prefix), nil
}

func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, nowFn: time.Now}
}

func (r *Redis) key(k []byte) string { return r.prefix + string(k) }

func (r *Redis) lifetimeKey(k []byte) string { return r.prefix + lifetimePrefix + string(k) }

func (r *Redis) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (r *Redis) Has(ctx context.Context, key []byte) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) Write(ctx context.Context, b *Batch) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, op := range b.Ops() {
			if op.Delete {
				pipe.Del(ctx, r.key(op.Key), r.lifetimeKey(op.Key))
				continue
			}
			// A plain SET also clears any expiry left by older deployments.
			pipe.Set(ctx, r.key(op.Key), op.Value, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write: %w", err)
	}
	return nil
}

func (r *Redis) ExtendTTL(ctx context.Context, key []byte, lt Lifetime) error {
	ok, err := r.Has(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	now := r.nowFn()
	if exp, found, err := r.Expiry(ctx, key); err != nil {
		return err
	} else if found && exp.Sub(now) >= lt.Threshold {
		return nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Persist(ctx, r.key(key))
		pipe.Set(ctx, r.lifetimeKey(key), strconv.FormatInt(now.Add(lt.ExtendTo).Unix(), 10), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis extend lifetime: %w", err)
	}
	return nil
}

// Expiry returns the recorded lifetime hint for key.
func (r *Redis) Expiry(ctx context.Context, key []byte) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.lifetimeKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis lifetime: %w", err)
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis lifetime: corrupt entry")
	}
	return time.Unix(secs, 0), true, nil
}

func (r *Redis) Close() error { return r.client.Close() }
