package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultPrefix = "prodline:lock:"
	defaultTTL    = 30 * time.Second
	defaultRetry  = 25 * time.Millisecond
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis locks keys across processes with SET NX PX. Each acquisition writes a random
// token that release compares before deleting, so an expired lock taken over by another
// holder is never removed.
type Redis struct {
	Client *redis.Client
	Prefix string
	// TTL bounds how long a crashed holder blocks others.
	TTL   time.Duration
	Retry time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{Client: client, Prefix: prefix, TTL: ttl}
}

func (r *Redis) key(k string) string {
	if r.Prefix == "" {
		return defaultPrefix + k
	}
	return r.Prefix + k
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	retry := r.Retry
	if retry <= 0 {
		retry = defaultRetry
	}
	token := uuid.NewString()
	keys = normalize(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		// Release must run even when the request context is already canceled.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = releaseScript.Run(ctx, r.Client, []string{held[i]}, token).Err()
		}
	}
	for _, k := range keys {
		rk := r.key(k)
		for {
			ok, err := r.Client.SetNX(ctx, rk, token, ttl).Result()
			if err != nil {
				release()
				return nil, fmt.Errorf("acquire lock %s: %w", k, err)
			}
			if ok {
				held = append(held, rk)
				break
			}
			timer := time.NewTimer(retry)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				release()
				return nil, fmt.Errorf("acquire lock %s: %w", k, ctx.Err())
			}
		}
	}
	var once sync.Once
	return func() { once.Do(release) }, nil
}
