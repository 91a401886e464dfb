package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"landingzone/internal/redis"
)

// ErrBusy is returned when the user already has a run in flight.
var ErrBusy = errors.New("a provisioning run is already in progress")

// Manager lets each user run one job at a time. Jobs execute on the caller's
// goroutine; the manager only gates entry. With a redis client the gate also
// holds across replicas.
type Manager struct {
	mu     sync.Mutex
	lanes  map[int64]*lane
	lock   *runLock
	logger *zap.Logger
}

type lane struct {
	sem     *semaphore.Weighted
	refs    int
	running atomic.Bool
}

// NewManager builds a manager. cacheClient may be nil.
func NewManager(cacheClient *redis.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		lanes:  make(map[int64]*lane),
		lock:   newRunLock(cacheClient),
		logger: logger,
	}
}

// Run executes fn for userID unless another job of that user is running.
func (m *Manager) Run(ctx context.Context, userID int64, fn func(context.Context) error) error {
	l := m.acquireLane(userID)
	defer m.releaseLane(userID, l)

	if !l.sem.TryAcquire(1) {
		m.logger.Debug("run rejected, user busy", zap.Int64("user_id", userID))
		return ErrBusy
	}
	defer l.sem.Release(1)

	if m.lock != nil {
		token, ok, err := m.lock.acquire(ctx, userID)
		switch {
		case err != nil:
			// redis trouble degrades to the local gate
			m.logger.Warn("run lock unavailable", zap.Int64("user_id", userID), zap.Error(err))
		case !ok:
			m.logger.Debug("run rejected, user busy on another replica", zap.Int64("user_id", userID))
			return ErrBusy
		default:
			defer func() {
				if err := m.lock.release(context.WithoutCancel(ctx), userID, token); err != nil {
					m.logger.Warn("release run lock", zap.Int64("user_id", userID), zap.Error(err))
				}
			}()
		}
	}

	l.running.Store(true)
	defer l.running.Store(false)
	return fn(ctx)
}

// Busy reports whether userID currently has a job running on this replica.
func (m *Manager) Busy(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[userID]
	return ok && l.running.Load()
}

func (m *Manager) acquireLane(userID int64) *lane {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[userID]
	if !ok {
		l = &lane{sem: semaphore.NewWeighted(1)}
		m.lanes[userID] = l
	}
	l.refs++
	return l
}

// releaseLane drops idle lanes so the map does not grow with every user seen.
func (m *Manager) releaseLane(userID int64, l *lane) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.lanes, userID)
	}
}
