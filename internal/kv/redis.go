package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"signet/pkg/platform/sentinel"
)

const (
	defaultRedisPrefix    = "signet:"
	defaultLeaseTTL       = 30 * time.Second
	defaultAcquireTimeout = 5 * time.Second
	defaultRetryInterval  = 10 * time.Millisecond
)

var leaseWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "signet_kv_redis_lease_wait_seconds",
	Help:    "Time spent waiting for a per-key Redis lease",
	Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// guardedSetScript writes the value only while the caller's lease is live, so a
// holder whose lease expired mid-update cannot clobber a newer writer.
var guardedSetScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[2], ARGV[2])
	return 1
end
return 0
`)

// Redis is a Store backed by a single Redis instance. Update serializes on a
// per-key lease (SET NX PX) rather than WATCH/MULTI so fn is never retried.
// The context handed to fn ends a safety margin before the lease expires.
type Redis struct {
	client         *redis.Client
	prefix         string
	leaseTTL       time.Duration
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithLeaseTTL bounds how long a crashed holder can block a key.
func WithLeaseTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.leaseTTL = ttl
		}
	}
}

func WithAcquireTimeout(timeout time.Duration) RedisOption {
	return func(r *Redis) {
		if timeout > 0 {
			r.acquireTimeout = timeout
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:         client,
		prefix:         defaultRedisPrefix,
		leaseTTL:       defaultLeaseTTL,
		acquireTimeout: defaultAcquireTimeout,
		retryInterval:  defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) dataKey(key string) string {
	return r.prefix + "kv:" + key
}

func (r *Redis) leaseKey(key string) string {
	return r.prefix + "lease:" + key
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	token, _, err := r.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer r.release(ctx, key, token)
	return r.guardedSet(ctx, key, token, value)
}

func (r *Redis) Update(ctx context.Context, key string, fn UpdateFunc) error {
	token, expires, err := r.acquire(ctx, key)
	if err != nil {
		return err
	}
	defer r.release(ctx, key, token)

	holdCtx, cancel := context.WithDeadline(ctx, expires.Add(-r.leaseMargin()))
	defer cancel()

	current, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	found := true
	if errors.Is(err, redis.Nil) {
		current, found = nil, false
	} else if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	next, err := fn(holdCtx, current, found)
	if err != nil {
		return err
	}
	return r.guardedSet(ctx, key, token, next)
}

// leaseMargin is the part of the lease reserved for the guarded write.
func (r *Redis) leaseMargin() time.Duration {
	return r.leaseTTL / 10
}

// acquire returns the lease token and the latest time the lease can still be
// held. The expiry is measured from before the SET was sent, so it never
// overestimates.
func (r *Redis) acquire(ctx context.Context, key string) (string, time.Time, error) {
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(r.acquireTimeout)
	defer func() { leaseWait.Observe(time.Since(start).Seconds()) }()

	for {
		sent := time.Now()
		ok, err := r.client.SetNX(ctx, r.leaseKey(key), token, r.leaseTTL).Result()
		if err != nil {
			return "", time.Time{}, fmt.Errorf("redis acquire lease %s: %w", key, err)
		}
		if ok {
			return token, sent.Add(r.leaseTTL), nil
		}
		if time.Now().After(deadline) {
			return "", time.Time{}, fmt.Errorf("lease for %s held too long: %w", key, sentinel.ErrUnavailable)
		}
		select {
		case <-ctx.Done():
			return "", time.Time{}, ctx.Err()
		case <-time.After(r.retryInterval):
		}
	}
}

func (r *Redis) release(ctx context.Context, key, token string) {
	// The lease must go even if the caller's context was cancelled mid-update.
	_ = releaseScript.Run(context.WithoutCancel(ctx), r.client, []string{r.leaseKey(key)}, token).Err()
}

func (r *Redis) guardedSet(ctx context.Context, key, token string, value []byte) error {
	written, err := guardedSetScript.Run(ctx, r.client,
		[]string{r.leaseKey(key), r.dataKey(key)}, token, value).Int()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	if written == 0 {
		return fmt.Errorf("lease for %s expired before write: %w", key, sentinel.ErrConflict)
	}
	return nil
}
