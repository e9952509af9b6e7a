package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go-clinic-queue/internal/queue"
	"go-clinic-queue/pkg/clock"
	"go-clinic-queue/pkg/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	RedisBreakKeyPrefix  = "doctor:break:"
	RedisActiveBreaksKey = "doctor:breaks"

	breakStartField = "start"
	breakEndField   = "end"
)

// BreakService stores provider breaks in Redis and runs the watcher that ends them
// once their end time passes.
type BreakService struct {
	redisClient *redis.Client
	broker      *QueueEventBroker
	clock       clock.Clock
	metrics     *metrics.Metrics
	log         *logrus.Logger
	interval    time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
	stopped  atomic.Bool
}

func NewBreakService(redisClient *redis.Client, broker *QueueEventBroker, clk clock.Clock, m *metrics.Metrics, interval time.Duration, log *logrus.Logger) *BreakService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BreakService{
		redisClient: redisClient,
		broker:      broker,
		clock:       clk,
		metrics:     m,
		log:         log,
		interval:    interval,
		stopChan:    make(chan struct{}),
	}
}

// Start puts a provider on break until end, replacing any current break.
func (s *BreakService) Start(ctx context.Context, doctorID uuid.UUID, end time.Time) (queue.BreakStatus, error) {
	now := s.clock.Now()
	status, err := queue.StartBreak(now, end)
	if err != nil {
		return queue.BreakStatus{}, err
	}

	key := s.breakKey(doctorID)
	pipe := s.redisClient.TxPipeline()
	pipe.HSet(ctx, key, breakStartField, now.UnixMilli(), breakEndField, end.UnixMilli())
	pipe.PExpireAt(ctx, key, end)
	pipe.SAdd(ctx, RedisActiveBreaksKey, doctorID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warnf("Failed to start break for doctor %s: %+v", doctorID, err)
		return queue.BreakStatus{}, fmt.Errorf("start break for doctor %s: %w", doctorID, err)
	}

	s.publish(ctx, EventBreakStarted, doctorID)
	return status, nil
}

// End finishes a provider's break early. Ending when no break is active is a no-op.
func (s *BreakService) End(ctx context.Context, doctorID uuid.UUID) error {
	pipe := s.redisClient.TxPipeline()
	del := pipe.Del(ctx, s.breakKey(doctorID))
	pipe.SRem(ctx, RedisActiveBreaksKey, doctorID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warnf("Failed to end break for doctor %s: %+v", doctorID, err)
		return fmt.Errorf("end break for doctor %s: %w", doctorID, err)
	}

	if del.Val() > 0 {
		s.publish(ctx, EventBreakEnded, doctorID)
	}
	return nil
}

// Get returns the provider's effective break status.
func (s *BreakService) Get(ctx context.Context, doctorID uuid.UUID) (queue.BreakStatus, error) {
	values, err := s.redisClient.HGetAll(ctx, s.breakKey(doctorID)).Result()
	if err != nil {
		s.log.Warnf("Failed to read break for doctor %s: %+v", doctorID, err)
		return queue.BreakStatus{}, fmt.Errorf("read break for doctor %s: %w", doctorID, err)
	}
	return s.decode(values).Effective(s.clock.Now()), nil
}

// =============================================================================
// Watcher
// =============================================================================

// Run starts the expiry watcher. It ticks every interval on the injected clock.
func (s *BreakService) Run() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	ticker := s.clock.NewTicker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				s.log.Debug("Break watcher stopping")
				return
			case <-ticker.C():
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if _, err := s.SweepExpired(ctx); err != nil {
					s.log.Warnf("Break sweep failed: %+v", err)
				}
				cancel()
			}
		}
	}()
}

// Stop gracefully shuts down the watcher.
// Safe to call multiple times.
func (s *BreakService) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stopChan)
		s.wg.Wait()
		s.log.Info("BreakService stopped")
	}
}

// SweepExpired ends every break whose end time has passed and returns the providers it
// released.
func (s *BreakService) SweepExpired(ctx context.Context) ([]uuid.UUID, error) {
	members, err := s.redisClient.SMembers(ctx, RedisActiveBreaksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active breaks: %w", err)
	}

	now := s.clock.Now()
	var ended []uuid.UUID
	active := 0
	for _, m := range members {
		doctorID, err := uuid.Parse(m)
		if err != nil {
			s.redisClient.SRem(ctx, RedisActiveBreaksKey, m)
			continue
		}

		values, err := s.redisClient.HGetAll(ctx, s.breakKey(doctorID)).Result()
		if err != nil {
			s.log.Warnf("Failed to read break for doctor %s: %+v", doctorID, err)
			continue
		}

		status := s.decode(values)
		if status.IsOnBreak && !status.Expired(now) {
			active++
			continue
		}

		pipe := s.redisClient.TxPipeline()
		pipe.Del(ctx, s.breakKey(doctorID))
		pipe.SRem(ctx, RedisActiveBreaksKey, m)
		if _, err := pipe.Exec(ctx); err != nil {
			s.log.Warnf("Failed to clear expired break for doctor %s: %+v", doctorID, err)
			continue
		}

		s.log.Infof("Break ended for doctor %s", doctorID)
		s.publish(ctx, EventBreakEnded, doctorID)
		ended = append(ended, doctorID)
	}

	if s.metrics != nil {
		s.metrics.ActiveBreaks.Set(float64(active))
	}
	return ended, nil
}

// =============================================================================
// Private Helper Methods
// =============================================================================

func (s *BreakService) breakKey(doctorID uuid.UUID) string {
	return RedisBreakKeyPrefix + doctorID.String()
}

func (s *BreakService) decode(values map[string]string) queue.BreakStatus {
	start, errStart := strconv.ParseInt(values[breakStartField], 10, 64)
	end, errEnd := strconv.ParseInt(values[breakEndField], 10, 64)
	if errors.Join(errStart, errEnd) != nil {
		return queue.BreakStatus{}
	}
	startAt := time.UnixMilli(start)
	endAt := time.UnixMilli(end)
	return queue.BreakStatus{IsOnBreak: true, BreakStartTime: &startAt, BreakEndTime: &endAt}
}

func (s *BreakService) publish(ctx context.Context, eventType string, doctorID uuid.UUID) {
	if s.broker == nil {
		return
	}
	_ = s.broker.Publish(ctx, QueueEvent{
		Type:       eventType,
		DoctorID:   doctorID,
		OccurredAt: s.clock.Now(),
	})
}
