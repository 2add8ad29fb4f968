// Package redislock implements banking.Locker on Redis so several engine
// instances (API replicas and the scheduler) serialize lifecycle changes on
// the same account.
//
// Each lock is a key set with NX and a TTL holding a random token; release
// deletes the key only if it still holds our token.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/warp/compte-engine/banking"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultRetryEvery = 25 * time.Millisecond
	defaultPrefix     = "compte:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type Locker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	retryEvery time.Duration
}

var _ banking.Locker = (*Locker)(nil)

type Option func(*Locker)

func WithTTL(d time.Duration) Option { return func(l *Locker) { l.ttl = d } }
func WithRetry(d time.Duration) Option { return func(l *Locker) { l.retryEvery = d } }
func WithPrefix(prefix string) Option { return func(l *Locker) { l.prefix = prefix } }

func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:     client,
		prefix:     defaultPrefix,
		ttl:        DefaultTTL,
		retryEvery: DefaultRetryEvery,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type held struct {
	key   string
	token string
}

// Lock acquires every id in ascending order, waiting until ctx is done.
func (l *Locker) Lock(ctx context.Context, ids ...banking.AccountID) (func(), error) {
	var acquired []held
	for _, id := range banking.SortedUnique(ids) {
		h, err := l.acquire(ctx, l.prefix+id)
		if err != nil {
			l.release(acquired)
			return nil, err
		}
		acquired = append(acquired, h)
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(acquired) }) }, nil
}

func (l *Locker) acquire(ctx context.Context, key string) (held, error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return held{}, err
			}
			return held{}, banking.WrapStorage("redis lock "+key, err)
		}
		if ok {
			return held{key: key, token: token}, nil
		}
		select {
		case <-ctx.Done():
			return held{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// release runs with its own short deadline so a cancelled request context
// still frees its keys.
func (l *Locker) release(hs []held) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(hs) - 1; i >= 0; i-- {
		_ = releaseScript.Run(ctx, l.client, []string{hs[i].key}, hs[i].token).Err()
	}
}
