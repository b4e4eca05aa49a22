package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("lock held by another run")

// Locker coordinates runs that must not overlap and remembers keys that
// were already handled.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
	Seen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string, ttl time.Duration) error
}

// Conn opens a redis client and verifies it answers PING.
func Conn(ctx context.Context, opts *redis.Options) (*redis.Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options required")
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(opts)
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// releaseScript deletes the key only if it still carries our token, so a
// run whose lock expired cannot release a lock taken by the next run.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	Client *redis.Client
	Prefix string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{Client: client, Prefix: "opsctl:"}
}

func (l *RedisLocker) key(k string) string { return l.Prefix + k }

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	ok, err := l.Client.SetNX(ctx, l.key("lock:"+key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrLocked)
	}
	k := l.key("lock:" + key)
	return func() {
		// the caller's ctx may already be cancelled
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, l.Client, []string{k}, token).Err()
	}, nil
}

func (l *RedisLocker) Seen(ctx context.Context, key string) (bool, error) {
	n, err := l.Client.Exists(ctx, l.key("seen:"+key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisLocker) MarkSeen(ctx context.Context, key string, ttl time.Duration) error {
	return l.Client.Set(ctx, l.key("seen:"+key), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// NopLocker is used when redis is not configured: every lock succeeds and
// nothing is remembered.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

func (NopLocker) Seen(context.Context, string) (bool, error) { return false, nil }

func (NopLocker) MarkSeen(context.Context, string, time.Duration) error { return nil }
