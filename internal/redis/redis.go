// Package redis holds the shared redis connection. Three things live in it:
// the session lookaside, pending OAuth states and the per-user run lock.
// Keys are built here so every replica agrees on the layout.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"landingzone/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// KeyPrefix namespaces every key this service writes.
const KeyPrefix = "lz:"

// Client wraps go-redis client to centralize configuration.
type Client struct {
	inner *redis.Client
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

// compareAndDelete removes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// SessionKey caches a session record by id.
func SessionKey(sessionID string) string {
	return KeyPrefix + "session:" + sessionID
}

// OAuthStateKey marks a login that has been started but not completed.
func OAuthStateKey(state string) string {
	return KeyPrefix + "oauth_state:" + state
}

// RunLockKey is held while a provisioning run for the user is in flight.
func RunLockKey(userID int64) string {
	return KeyPrefix + "run:" + strconv.FormatInt(userID, 10)
}

// NewRedisClient connects using cfg.Redis and pings once.
func NewRedisClient(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	host := cfg.Redis.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Redis.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s:%d: %w", host, port, err)
	}
	return &Client{inner: client}, nil
}

func (c *Client) ready() bool {
	return c != nil && c.inner != nil
}

// Set stores a key with TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.inner.Set(ctx, key, value, ttl).Err()
}

// Get fetches the key as string.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if !c.ready() {
		return "", errNotInitialized
	}
	return c.inner.Get(ctx, key).Result()
}

// GetDel fetches the key and removes it in one round trip, so an OAuth
// state can only be redeemed once.
func (c *Client) GetDel(ctx context.Context, key string) (string, error) {
	if !c.ready() {
		return "", errNotInitialized
	}
	return c.inner.GetDel(ctx, key).Result()
}

// Del removes provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.ready() {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// SetNX stores value only when key is absent and reports whether it did.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if !c.ready() {
		return false, errNotInitialized
	}
	return c.inner.SetNX(ctx, key, value, ttl).Result()
}

// DeleteIfEquals removes key only while it still holds value. It reports
// whether the key was removed.
func (c *Client) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	if !c.ready() {
		return false, errNotInitialized
	}
	n, err := compareAndDelete.Run(ctx, c.inner, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close closes client.
func (c *Client) Close() error {
	if !c.ready() {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
