package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/docscan/internal/core/domain"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Config struct {
	URL string
	TTL time.Duration
}

// Locker holds a per-job lease so that only one worker runs a task for a job at a time.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
	token  func() string
}

func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Locker{client: client, ttl: ttl, token: func() string { return uuid.NewString() }}
}

func leaseKey(jobID string) string {
	return "docscan:job:" + jobID + ":lease"
}

// Acquire takes the lease for jobID. A held lease is reported as a temporary error so the
// task is redelivered later.
func (l *Locker) Acquire(ctx context.Context, jobID string) (func(context.Context) error, error) {
	key := leaseKey(jobID)
	token := l.token()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "acquire job lease", err)
	}
	if !ok {
		return nil, domain.WrapError(domain.ErrTemporary, "acquire job lease", fmt.Errorf("job %s is leased by another worker", jobID))
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release job lease: %w", err)
		}
		return nil
	}
	return release, nil
}
