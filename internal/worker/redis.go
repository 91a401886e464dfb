package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"landingzone/internal/redis"
)

// runLockTTL bounds how long a crashed replica can block a user.
const runLockTTL = 30 * time.Minute

// runLock extends the per-user gate to every replica sharing the redis.
type runLock struct {
	client *redis.Client
}

func newRunLock(client *redis.Client) *runLock {
	if client == nil || client.Raw() == nil {
		return nil
	}
	return &runLock{client: client}
}

// acquire returns the holder token, or ok=false when another replica holds
// the lock.
func (r *runLock) acquire(ctx context.Context, userID int64) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, redis.RunLockKey(userID), token, runLockTTL)
	if err != nil {
		return "", false, fmt.Errorf("acquire run lock: %w", err)
	}
	return token, ok, nil
}

func (r *runLock) release(ctx context.Context, userID int64, token string) error {
	if _, err := r.client.DeleteIfEquals(ctx, redis.RunLockKey(userID), token); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
