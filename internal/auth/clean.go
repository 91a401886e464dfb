package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const DefaultSessionCleanupInterval = 15 * time.Minute

// StartSessionCleaner purges expired sessions until ctx is done.
func (s *Service) StartSessionCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSessionCleanupInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Service) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.purgeExpired(ctx)
			if err != nil {
				s.logger.Warn("purge expired sessions failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Debug("purged expired sessions", zap.Int64("count", n))
			}
		}
	}
}

func (s *Service) purgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
