package worker

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"landingzone/internal/config"
	"landingzone/internal/redis"
)

func TestRunLockSharedAcrossManagers(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	a := NewManager(client, nil)
	b := NewManager(client, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- a.Run(context.Background(), 42, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run did not start")
	}
	err := b.Run(context.Background(), 42, func(context.Context) error { return nil })
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy from second replica, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run error: %v", err)
	}
	if err := b.Run(context.Background(), 42, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("run after release error: %v", err)
	}
}

func TestRunLockReleaseKeepsForeignHolder(t *testing.T) {
	client, cleanup := newRedisClient(t)
	defer cleanup()

	lock := newRunLock(client)
	ctx := context.Background()
	token, ok, err := lock.acquire(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := lock.acquire(ctx, 9); ok {
		t.Fatalf("expected second acquire to fail")
	}
	if err := lock.release(ctx, 9, "someone-else"); err != nil {
		t.Fatalf("release foreign: %v", err)
	}
	if _, ok, _ := lock.acquire(ctx, 9); ok {
		t.Fatalf("foreign release must not drop the lock")
	}
	if err := lock.release(ctx, 9, token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := lock.acquire(ctx, 9); !ok {
		t.Fatalf("expected acquire after release")
	}
}

func newRedisClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed worker tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	db := 0
	if v := os.Getenv("TEST_REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			db = parsed
		}
	}
	cfg := &config.Config{
		Redis: config.RedisConfig{
			Host: host,
			Port: port,
			DB:   db,
		},
	}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	if raw := client.Raw(); raw != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := raw.FlushDB(ctx).Err(); err != nil {
			t.Fatalf("flush db: %v", err)
		}
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup
}
