package service

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/pkg/clock"
	"go-clinic-queue/pkg/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(testNow)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestQueueState(t *testing.T, client *redis.Client, lockExpiry time.Duration) *QueueStateService {
	t.Helper()
	svc := NewQueueStateService(client, clock.NewFake(testNow), time.UTC, lockExpiry, testLogger())
	t.Cleanup(svc.Stop)
	return svc
}

func TestQueueState_VersionCompareAndBump(t *testing.T) {
	_, client := newTestRedis(t)
	svc := newTestQueueState(t, client, time.Second)
	ctx := context.Background()
	doctorID := uuid.New()
	day := testNow.Truncate(24 * time.Hour)

	v, err := svc.CurrentVersion(ctx, doctorID, day)
	require.NoError(t, err)
	assert.Zero(t, v)

	v, err = svc.CompareAndBumpVersion(ctx, doctorID, day, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = svc.BumpVersion(ctx, doctorID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	_, err = svc.CompareAndBumpVersion(ctx, doctorID, day, 1)
	assert.ErrorIs(t, err, ErrQueueVersionConflict)

	v, err = svc.CurrentVersion(ctx, doctorID, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v, "a rejected write must not move the version")

	other, err := svc.CurrentVersion(ctx, doctorID, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestQueueState_VersionKeysExpireAfterTheDay(t *testing.T) {
	mr, client := newTestRedis(t)
	svc := newTestQueueState(t, client, time.Second)
	doctorID := uuid.New()
	day := testNow.Truncate(24 * time.Hour)

	_, err := svc.BumpVersion(context.Background(), doctorID, day)
	require.NoError(t, err)

	ttl := mr.TTL(svc.versionKey(doctorID, day))
	assert.Equal(t, 38*time.Hour, ttl)
}

func TestQueueState_SkippedIsPerOperator(t *testing.T) {
	_, client := newTestRedis(t)
	svc := newTestQueueState(t, client, time.Second)
	ctx := context.Background()
	doctorID, alice, bob := uuid.New(), uuid.New(), uuid.New()
	appt1, appt2 := uuid.New(), uuid.New()

	require.NoError(t, svc.Skip(ctx, alice, doctorID, testNow, appt1))
	require.NoError(t, svc.Skip(ctx, alice, doctorID, testNow, appt2))

	aliceSet, err := svc.Skipped(ctx, alice, doctorID, testNow)
	require.NoError(t, err)
	assert.True(t, aliceSet.Has(appt1))
	assert.True(t, aliceSet.Has(appt2))

	bobSet, err := svc.Skipped(ctx, bob, doctorID, testNow)
	require.NoError(t, err)
	assert.Empty(t, bobSet)

	require.NoError(t, svc.RestoreSkipped(ctx, alice, doctorID, testNow))
	aliceSet, err = svc.Skipped(ctx, alice, doctorID, testNow)
	require.NoError(t, err)
	assert.Empty(t, aliceSet)
}

func TestQueueState_LockSessionSerializesInProcess(t *testing.T) {
	_, client := newTestRedis(t)
	svc := newTestQueueState(t, client, 5*time.Second)
	doctorID := uuid.New()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := svc.LockSession(context.Background(), doctorID, testNow, scheduling.SessionMorning)
			if !assert.NoError(t, err) {
				return
			}
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestQueueState_LockSessionAcrossInstances(t *testing.T) {
	_, client := newTestRedis(t)
	first := newTestQueueState(t, client, 5*time.Second)
	second := newTestQueueState(t, client, 60*time.Millisecond)
	ctx := context.Background()
	doctorID := uuid.New()

	release, err := first.LockSession(ctx, doctorID, testNow, scheduling.SessionEvening)
	require.NoError(t, err)

	_, err = second.LockSession(ctx, doctorID, testNow, scheduling.SessionEvening)
	assert.ErrorIs(t, err, ErrSessionBusy)

	other, err := second.LockSession(ctx, doctorID, testNow, scheduling.SessionMorning)
	require.NoError(t, err, "a different session is independent")
	other()

	release()
	release()

	again, err := second.LockSession(ctx, doctorID, testNow, scheduling.SessionEvening)
	require.NoError(t, err)
	again()
}

func TestQueueState_LockReleaseKeepsForeignLock(t *testing.T) {
	mr, client := newTestRedis(t)
	svc := newTestQueueState(t, client, 5*time.Second)
	doctorID := uuid.New()

	release, err := svc.LockSession(context.Background(), doctorID, testNow, scheduling.SessionMorning)
	require.NoError(t, err)

	key := svc.sessionLockKey(doctorID, testNow, scheduling.SessionMorning)
	require.NoError(t, mr.Set(key, "someone-else"))
	release()

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestQueueEventBroker_PublishSubscribe(t *testing.T) {
	_, client := newTestRedis(t)
	broker := NewQueueEventBroker(client, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	doctorID := uuid.New()

	events, err := broker.Subscribe(ctx, doctorID)
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, QueueEvent{Type: EventQueueReordered, DoctorID: uuid.New(), Date: "2026-03-02"}))
	require.NoError(t, broker.Publish(ctx, QueueEvent{Type: EventQueueReordered, DoctorID: doctorID, Date: "2026-03-02", Version: 3}))

	select {
	case ev := <-events:
		assert.Equal(t, EventQueueReordered, ev.Type)
		assert.Equal(t, doctorID, ev.DoctorID)
		assert.Equal(t, int64(3), ev.Version)
		assert.True(t, ev.AppliesTo("2026-03-02"))
		assert.False(t, ev.AppliesTo("2026-03-03"))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func newTestBreakService(t *testing.T, client *redis.Client, fc *clock.Fake) *BreakService {
	t.Helper()
	svc := NewBreakService(client, NewQueueEventBroker(client, testLogger()), fc, metrics.NewNop(), time.Minute, testLogger())
	t.Cleanup(svc.Stop)
	return svc
}

func TestBreakService_StartGetEnd(t *testing.T) {
	_, client := newTestRedis(t)
	fc := clock.NewFake(testNow)
	svc := newTestBreakService(t, client, fc)
	ctx := context.Background()
	doctorID := uuid.New()

	status, err := svc.Get(ctx, doctorID)
	require.NoError(t, err)
	assert.False(t, status.IsOnBreak)

	_, err = svc.Start(ctx, doctorID, testNow)
	assert.Error(t, err)

	status, err = svc.Start(ctx, doctorID, testNow.Add(15*time.Minute))
	require.NoError(t, err)
	assert.True(t, status.IsOnBreak)

	status, err = svc.Get(ctx, doctorID)
	require.NoError(t, err)
	assert.True(t, status.IsOnBreak)
	assert.True(t, testNow.Add(15*time.Minute).Equal(*status.BreakEndTime))

	fc.Advance(15 * time.Minute)
	status, err = svc.Get(ctx, doctorID)
	require.NoError(t, err)
	assert.False(t, status.IsOnBreak, "breaks clear themselves at their end time")

	fc.Set(testNow)
	require.NoError(t, svc.End(ctx, doctorID))
	status, err = svc.Get(ctx, doctorID)
	require.NoError(t, err)
	assert.False(t, status.IsOnBreak)
}

func TestBreakService_SweepExpiredPublishes(t *testing.T) {
	mr, client := newTestRedis(t)
	fc := clock.NewFake(testNow)
	svc := newTestBreakService(t, client, fc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	short, long := uuid.New(), uuid.New()

	events, err := svc.broker.Subscribe(ctx, short)
	require.NoError(t, err)

	_, err = svc.Start(ctx, short, testNow.Add(5*time.Minute))
	require.NoError(t, err)
	_, err = svc.Start(ctx, long, testNow.Add(time.Hour))
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, EventBreakStarted, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("break.started not delivered")
	}

	fc.Set(testNow.Add(6 * time.Minute))
	ended, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{short}, ended)

	select {
	case ev := <-events:
		assert.Equal(t, EventBreakEnded, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("break.ended not delivered")
	}

	members, err := mr.Members(RedisActiveBreaksKey)
	require.NoError(t, err)
	assert.Equal(t, []string{long.String()}, members)
}

func TestBreakService_WatcherRunsOnClockTicks(t *testing.T) {
	_, client := newTestRedis(t)
	fc := clock.NewFake(testNow)
	svc := newTestBreakService(t, client, fc)
	doctorID := uuid.New()

	_, err := svc.Start(context.Background(), doctorID, testNow.Add(30*time.Second))
	require.NoError(t, err)

	svc.Run()
	fc.Advance(time.Minute)

	assert.Eventually(t, func() bool {
		ok, err := client.SIsMember(context.Background(), RedisActiveBreaksKey, doctorID.String()).Result()
		return err == nil && !ok
	}, 2*time.Second, 10*time.Millisecond)
}
