package lock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNopLocker(t *testing.T) {
	var l Locker = NopLocker{}
	release, err := l.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	release()
	seen, err := l.Seen(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, seen)
	require.NoError(t, l.MarkSeen(context.Background(), "k", time.Minute))
}

func TestConnRequiresOptions(t *testing.T) {
	_, err := Conn(context.Background(), nil)
	require.Error(t, err)
}

func TestRedisLockerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := Conn(ctx, &redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)
	defer client.Close()

	l := NewRedisLocker(client)
	release, err := l.Acquire(ctx, "campaign:c1", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "campaign:c1", time.Minute)
	require.True(t, errors.Is(err, ErrLocked), "second acquire should fail, got %v", err)

	release()
	release2, err := l.Acquire(ctx, "campaign:c1", time.Minute)
	require.NoError(t, err)
	release2()

	seen, err := l.Seen(ctx, "invite:p1")
	require.NoError(t, err)
	require.False(t, seen)
	require.NoError(t, l.MarkSeen(ctx, "invite:p1", time.Hour))
	seen, err = l.Seen(ctx, "invite:p1")
	require.NoError(t, err)
	require.True(t, seen)
}
