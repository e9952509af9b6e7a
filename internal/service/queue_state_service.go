package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go-clinic-queue/internal/queue"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/pkg/clock"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrQueueVersionConflict is returned when a queue write was based on a stale read
	ErrQueueVersionConflict = errors.New("queue has changed since it was read")

	// ErrSessionBusy is returned when the per-session booking lock could not be acquired in time
	ErrSessionBusy = errors.New("session is busy, try again")
)

// compareAndBumpVersionScript bumps the queue version only if it still equals ARGV[1].
// A missing key counts as version 0.
//
// Returns the new version, or -1 when the expected version is stale.
var compareAndBumpVersionScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or '0')
	if current ~= tonumber(ARGV[1]) then
		return -1
	end
	local bumped = redis.call('INCR', KEYS[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	return bumped
`)

// releaseLockScript deletes the lock only if it is still held by the caller's token
var releaseLockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// =============================================================================
// Constants
// =============================================================================

const (
	RedisQueueVersionKeyPrefix = "queue:version:"
	RedisQueueSkippedKeyPrefix = "queue:skipped:"
	RedisSessionLockKeyPrefix  = "session:lock:"

	// Pause between attempts to take a session lock held by another instance
	lockRetryInterval = 25 * time.Millisecond

	// Interval for cleaning up stale mutexes
	mutexCleanupInterval = 10 * time.Minute

	// How long a mutex must be unused before cleanup
	mutexStaleThreshold = 10 * time.Minute
)

// =============================================================================
// Types
// =============================================================================

// QueueStateService keeps the Redis-side state of provider queues: the per-day queue
// version used for optimistic concurrency, each operator's skipped set, and the
// per-session booking lock.
//
// Lock Ordering (to prevent deadlocks):
// 1. Acquire the in-process session mutex FIRST
// 2. Then take the Redis lock shared with other instances
type QueueStateService struct {
	redisClient *redis.Client
	clock       clock.Clock
	location    *time.Location
	log         *logrus.Logger
	lockExpiry  time.Duration

	// Per-session mutex for in-process serialization
	sessionMu sync.Map // map[string]*mutexWithTimestamp

	// Graceful shutdown
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  atomic.Bool
}

// mutexWithTimestamp tracks mutex usage for cleanup
type mutexWithTimestamp struct {
	mu       sync.Mutex
	lastUsed atomic.Int64 // Unix timestamp
}

// =============================================================================
// Constructor
// =============================================================================

// NewQueueStateService creates a new QueueStateService.
// Starts background goroutine for mutex cleanup.
// Call Stop() during graceful shutdown.
func NewQueueStateService(redisClient *redis.Client, clk clock.Clock, location *time.Location, lockExpiry time.Duration, log *logrus.Logger) *QueueStateService {
	if lockExpiry <= 0 {
		lockExpiry = 10 * time.Second
	}
	svc := &QueueStateService{
		redisClient: redisClient,
		clock:       clk,
		location:    location,
		log:         log,
		lockExpiry:  lockExpiry,
		stopChan:    make(chan struct{}),
	}

	svc.wg.Add(1)
	go svc.cleanupMutexMapLoop()

	return svc
}

// =============================================================================
// Lifecycle Methods
// =============================================================================

// Stop gracefully shuts down the service.
// Safe to call multiple times.
func (s *QueueStateService) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stopChan)
		s.wg.Wait()
		s.log.Info("QueueStateService stopped")
	}
}

// =============================================================================
// Queue Version
// =============================================================================

// CurrentVersion returns the version of a provider's queue for one day. A queue that has
// never been written is at version 0.
func (s *QueueStateService) CurrentVersion(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error) {
	v, err := s.redisClient.Get(ctx, s.versionKey(doctorID, date)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		s.log.Warnf("Failed to read queue version for doctor %s: %+v", doctorID, err)
		return 0, fmt.Errorf("read queue version for doctor %s: %w", doctorID, err)
	}
	return v, nil
}

// BumpVersion advances the queue version unconditionally.
//
// Called by: every mutation that changes which appointments are queued or their order
func (s *QueueStateService) BumpVersion(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error) {
	key := s.versionKey(doctorID, date)

	pipe := s.redisClient.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.calculateTTL(date))

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warnf("Failed to bump queue version for doctor %s: %+v", doctorID, err)
		return 0, fmt.Errorf("bump queue version for doctor %s: %w", doctorID, err)
	}

	return incr.Val(), nil
}

// CompareAndBumpVersion advances the version only if it still equals expected.
//
// Called by: Reorder, before any queue order is written
//
// Returns: the new version, or ErrQueueVersionConflict
func (s *QueueStateService) CompareAndBumpVersion(ctx context.Context, doctorID uuid.UUID, date time.Time, expected int64) (int64, error) {
	key := s.versionKey(doctorID, date)
	ttl := s.calculateTTL(date)

	result, err := compareAndBumpVersionScript.Run(ctx, s.redisClient, []string{key}, expected, ttl.Milliseconds()).Int64()
	if err != nil {
		s.log.Warnf("Failed Lua script CompareAndBumpVersion for doctor %s: %+v", doctorID, err)
		return 0, fmt.Errorf("lua compare_and_bump_version for doctor %s: %w", doctorID, err)
	}

	if result == -1 {
		return 0, ErrQueueVersionConflict
	}

	s.log.Debugf("Queue version for doctor %s moved %d -> %d", doctorID, expected, result)
	return result, nil
}

// =============================================================================
// Skipped Appointments
// =============================================================================

// Skip hides an appointment from one operator's view of the queue.
// The appointment itself is not modified.
func (s *QueueStateService) Skip(ctx context.Context, operatorID, doctorID uuid.UUID, date time.Time, appointmentID uuid.UUID) error {
	key := s.skippedKey(operatorID, doctorID, date)

	pipe := s.redisClient.TxPipeline()
	pipe.SAdd(ctx, key, appointmentID.String())
	pipe.Expire(ctx, key, s.calculateTTL(date))

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warnf("Failed to skip appointment %s: %+v", appointmentID, err)
		return fmt.Errorf("skip appointment %s: %w", appointmentID, err)
	}
	return nil
}

// Skipped returns the operator's skipped appointments for a provider's day.
func (s *QueueStateService) Skipped(ctx context.Context, operatorID, doctorID uuid.UUID, date time.Time) (queue.IDSet, error) {
	members, err := s.redisClient.SMembers(ctx, s.skippedKey(operatorID, doctorID, date)).Result()
	if err != nil {
		s.log.Warnf("Failed to read skipped set for doctor %s: %+v", doctorID, err)
		return nil, fmt.Errorf("read skipped set for doctor %s: %w", doctorID, err)
	}

	set := make(queue.IDSet, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		set[id] = struct{}{}
	}
	return set, nil
}

// RestoreSkipped clears the operator's whole skipped set.
func (s *QueueStateService) RestoreSkipped(ctx context.Context, operatorID, doctorID uuid.UUID, date time.Time) error {
	if err := s.redisClient.Del(ctx, s.skippedKey(operatorID, doctorID, date)).Err(); err != nil {
		s.log.Warnf("Failed to restore skipped appointments for doctor %s: %+v", doctorID, err)
		return fmt.Errorf("restore skipped for doctor %s: %w", doctorID, err)
	}
	return nil
}

// =============================================================================
// Session Lock
// =============================================================================

// LockSession serializes token and slot assignment for one session across all
// instances. The returned func releases the lock and must always be called.
//
// Called by: CreateBooking usecase
func (s *QueueStateService) LockSession(ctx context.Context, doctorID uuid.UUID, date time.Time, session scheduling.Session) (func(), error) {
	key := s.sessionLockKey(doctorID, date, session)

	mt := s.getSessionMutex(key)
	mt.mu.Lock()

	token := uuid.NewString()
	deadline := time.Now().Add(s.lockExpiry)
	for {
		ok, err := s.redisClient.SetNX(ctx, key, token, s.lockExpiry).Result()
		if err != nil {
			mt.mu.Unlock()
			s.log.Warnf("Failed to acquire session lock %s: %+v", key, err)
			return nil, fmt.Errorf("acquire session lock %s: %w", key, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			mt.mu.Unlock()
			return nil, ErrSessionBusy
		}

		select {
		case <-ctx.Done():
			mt.mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			defer mt.mu.Unlock()
			// Release must outlive a cancelled request context
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseLockScript.Run(releaseCtx, s.redisClient, []string{key}, token).Err(); err != nil {
				s.log.Warnf("Failed to release session lock %s: %+v", key, err)
			}
		})
	}
	return release, nil
}

// =============================================================================
// Private Helper Methods
// =============================================================================

func (s *QueueStateService) versionKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("%s%s:%s", RedisQueueVersionKeyPrefix, doctorID, date.Format("2006-01-02"))
}

func (s *QueueStateService) skippedKey(operatorID, doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", RedisQueueSkippedKeyPrefix, operatorID, doctorID, date.Format("2006-01-02"))
}

func (s *QueueStateService) sessionLockKey(doctorID uuid.UUID, date time.Time, session scheduling.Session) string {
	return fmt.Sprintf("%s%s:%s:%s", RedisSessionLockKeyPrefix, doctorID, date.Format("2006-01-02"), session)
}

// getSessionMutex returns mutex for a specific session key
func (s *QueueStateService) getSessionMutex(key string) *mutexWithTimestamp {
	mt, _ := s.sessionMu.LoadOrStore(key, &mutexWithTimestamp{})
	result := mt.(*mutexWithTimestamp)
	result.lastUsed.Store(time.Now().Unix())
	return result
}

// cleanupMutexMapLoop runs in background to clean stale mutexes
func (s *QueueStateService) cleanupMutexMapLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(mutexCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			s.log.Debug("Mutex cleanup goroutine stopping")
			return
		case <-ticker.C:
			s.cleanupStaleMutexes()
		}
	}
}

// cleanupStaleMutexes removes unused mutexes using TryLock for safety.
// lastUsed is checked inside the lock so a concurrent getSessionMutex cannot race it.
func (s *QueueStateService) cleanupStaleMutexes() {
	cutoffTime := time.Now().Add(-mutexStaleThreshold).Unix()
	var cleaned int

	s.sessionMu.Range(func(key, value any) bool {
		mt, ok := value.(*mutexWithTimestamp)
		if !ok {
			return true
		}

		if mt.mu.TryLock() {
			if mt.lastUsed.Load() < cutoffTime {
				s.sessionMu.Delete(key)
				cleaned++
			}
			mt.mu.Unlock()
		}
		return true
	})

	if cleaned > 0 {
		s.log.Debugf("Cleaned up %d stale mutexes", cleaned)
	}
}

// calculateTTL keeps day-scoped keys until 24 hours after the day ends
func (s *QueueStateService) calculateTTL(date time.Time) time.Duration {
	expireAt := scheduling.CivilDate(date, s.location).AddDate(0, 0, 2)
	ttl := expireAt.Sub(s.clock.Now())

	if ttl <= 0 {
		// Past date - short TTL for cleanup
		return 1 * time.Minute
	}

	return ttl
}
