package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"landingzone/internal/config"
)

func TestKeysShareNamespace(t *testing.T) {
	cases := map[string]string{
		SessionKey("abc"):   "lz:session:abc",
		OAuthStateKey("s1"): "lz:oauth_state:s1",
		RunLockKey(42):      "lz:run:42",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("key = %q, want %q", got, want)
		}
	}
}

func TestNilClientReportsNotInitialized(t *testing.T) {
	var c *Client
	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", time.Minute); err == nil {
		t.Fatalf("expected Set error on nil client")
	}
	if _, err := c.GetDel(ctx, "k"); err == nil {
		t.Fatalf("expected GetDel error on nil client")
	}
	if _, err := c.SetNX(ctx, "k", "v", time.Minute); err == nil {
		t.Fatalf("expected SetNX error on nil client")
	}
	if _, err := c.DeleteIfEquals(ctx, "k", "v"); err == nil {
		t.Fatalf("expected DeleteIfEquals error on nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil client: %v", err)
	}
	if c.Raw() != nil {
		t.Fatalf("expected nil raw client")
	}
}

func TestLockPrimitives(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	cfg := config.Default()
	cfg.Redis.Host, cfg.Redis.Port = host, port
	c, err := NewRedisClient(cfg)
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	key := RunLockKey(time.Now().UnixNano())
	defer c.Del(ctx, key)
	if ok, err := c.SetNX(ctx, key, "a", time.Minute); err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	if ok, err := c.SetNX(ctx, key, "b", time.Minute); err != nil || ok {
		t.Fatalf("second SetNX = %v, %v", ok, err)
	}
	if ok, err := c.DeleteIfEquals(ctx, key, "b"); err != nil || ok {
		t.Fatalf("foreign delete = %v, %v", ok, err)
	}
	if ok, err := c.DeleteIfEquals(ctx, key, "a"); err != nil || !ok {
		t.Fatalf("owner delete = %v, %v", ok, err)
	}
}
