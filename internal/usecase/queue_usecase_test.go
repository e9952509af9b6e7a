package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/pkg/clock"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const queueDate = "2026-03-02"

type queueFixture struct {
	usecase      QueueUsecase
	redis        *redisFixture
	appointments *fakeAppointmentRepo
	audit        *fakeAuditService
	doctorID     uuid.UUID
	assistantID  uuid.UUID
	a, b, c      uuid.UUID
}

// newQueueFixture seeds three morning appointments for today. C carries a manual order, so
// the queue reads C, A, B.
func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	db, _ := newMockDB(t)
	rf := newRedisFixture(t)

	f := &queueFixture{
		redis:       rf,
		audit:       &fakeAuditService{},
		doctorID:    uuid.New(),
		assistantID: uuid.New(),
		a:           uuid.New(),
		b:           uuid.New(),
		c:           uuid.New(),
	}
	first := 1
	f.appointments = newFakeAppointmentRepo(
		f.appointment(f.a, "09:00", "#1"),
		f.appointment(f.b, "09:20", "#2"),
		entity.Appointment{
			ID:          f.c,
			PatientID:   uuid.New(),
			DoctorID:    f.doctorID,
			Date:        day(2026, 3, 2),
			Time:        "09:40",
			Session:     scheduling.SessionMorning,
			TokenNumber: "#3",
			QueueOrder:  &first,
		},
		// Another doctor's patient never shows up
		entity.Appointment{PatientID: uuid.New(), DoctorID: uuid.New(), Date: day(2026, 3, 2), Time: "08:00", Session: scheduling.SessionMorning, TokenNumber: "#1"},
	)

	assignments := &fakeAssignmentRepo{assignments: []entity.AssistantAssignment{
		{AssistantID: f.assistantID, DoctorID: f.doctorID},
	}}
	f.usecase = NewQueueUsecase(db, testLogger(), rf.clock, time.UTC, 4, f.appointments, assignments, rf.queueState, rf.breaks, rf.broker, f.audit, rf.metrics)
	return f
}

func (f *queueFixture) appointment(id uuid.UUID, at, token string) entity.Appointment {
	return entity.Appointment{
		ID:          id,
		PatientID:   uuid.New(),
		DoctorID:    f.doctorID,
		Date:        day(2026, 3, 2),
		Time:        at,
		Session:     scheduling.SessionMorning,
		TokenNumber: token,
	}
}

func itemIDs(resp *dto.QueueResponse) []uuid.UUID {
	ids := make([]uuid.UUID, len(resp.Items))
	for i, item := range resp.Items {
		ids[i] = item.AppointmentID
	}
	return ids
}

func (f *queueFixture) asDoctor() context.Context {
	return asUser(f.doctorID, entity.RoleIDDoctor)
}

func TestGetQueue_ManualOrderFirstThenSlotTime(t *testing.T) {
	f := newQueueFixture(t)

	resp, err := f.usecase.GetQueue(f.asDoctor(), f.doctorID, queueDate)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.c, f.a, f.b}, itemIDs(resp))
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, int64(0), resp.Version)
	assert.Equal(t, 1, resp.Items[0].Position)
	assert.Equal(t, 3, resp.Items[2].Position)
	assert.False(t, resp.Break.IsOnBreak)
}

func TestGetQueue_Visibility(t *testing.T) {
	f := newQueueFixture(t)

	tests := []struct {
		name   string
		userID uuid.UUID
		roleID int
		err    error
	}{
		{name: "own doctor", userID: f.doctorID, roleID: entity.RoleIDDoctor},
		{name: "assigned assistant", userID: f.assistantID, roleID: entity.RoleIDAssistant},
		{name: "admin", userID: uuid.New(), roleID: entity.RoleIDAdmin},
		{name: "other doctor", userID: uuid.New(), roleID: entity.RoleIDDoctor, err: ErrQueueForbidden},
		{name: "unassigned assistant", userID: uuid.New(), roleID: entity.RoleIDAssistant, err: ErrQueueForbidden},
		{name: "patient", userID: uuid.New(), roleID: entity.RoleIDPatient, err: ErrQueueForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.usecase.GetQueue(asUser(tt.userID, tt.roleID), f.doctorID, queueDate)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Nil(t, resp)
				return
			}
			require.NoError(t, err)
			assert.Len(t, resp.Items, 3)
		})
	}
}

func TestGetQueue_InvalidDate(t *testing.T) {
	f := newQueueFixture(t)
	_, err := f.usecase.GetQueue(f.asDoctor(), f.doctorID, "02/03/2026")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestReorder_RenumbersWholeQueue(t *testing.T) {
	f := newQueueFixture(t)
	version := int64(0)

	// Move B before C: B, C, A
	resp, err := f.usecase.Reorder(f.asDoctor(), f.doctorID, &dto.ReorderQueueRequest{
		Date:     queueDate,
		SourceID: f.b,
		TargetID: f.c,
		Version:  &version,
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.b, f.c, f.a}, itemIDs(resp))
	assert.Equal(t, int64(1), resp.Version)

	for i, id := range []uuid.UUID{f.b, f.c, f.a} {
		stored := f.appointments.get(id)
		require.NotNil(t, stored.QueueOrder)
		assert.Equal(t, i+1, *stored.QueueOrder)
	}

	current, err := f.usecase.GetQueue(f.asDoctor(), f.doctorID, queueDate)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.b, f.c, f.a}, itemIDs(current))
	assert.Equal(t, int64(1), current.Version)
	assert.Contains(t, f.audit.recorded(), entity.AuditActionQueueReorder)
}

func TestReorder_StaleVersionWritesNothing(t *testing.T) {
	f := newQueueFixture(t)
	_, err := f.redis.queueState.BumpVersion(f.asDoctor(), f.doctorID, day(2026, 3, 2))
	require.NoError(t, err)

	stale := int64(0)
	_, err = f.usecase.Reorder(f.asDoctor(), f.doctorID, &dto.ReorderQueueRequest{
		Date:     queueDate,
		SourceID: f.b,
		TargetID: f.c,
		Version:  &stale,
	})
	require.ErrorIs(t, err, service.ErrQueueVersionConflict)

	var conflict *VersionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.CurrentVersion)

	assert.Nil(t, f.appointments.get(f.a).QueueOrder)
	assert.Nil(t, f.appointments.get(f.b).QueueOrder)
	assert.Equal(t, 1, *f.appointments.get(f.c).QueueOrder)
}

func TestReorder_PartialFailureKeepsSuccessfulWrites(t *testing.T) {
	f := newQueueFixture(t)
	f.appointments.failOrderFor[f.a] = true
	version := int64(0)

	_, err := f.usecase.Reorder(f.asDoctor(), f.doctorID, &dto.ReorderQueueRequest{
		Date:     queueDate,
		SourceID: f.b,
		TargetID: f.c,
		Version:  &version,
	})
	require.ErrorIs(t, err, ErrReorderPartiallyApplied)

	var partial *ReorderError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, []uuid.UUID{f.a}, partial.FailedIDs)
	assert.Equal(t, int64(1), partial.Version)

	assert.Equal(t, 1, *f.appointments.get(f.b).QueueOrder)
	assert.Equal(t, 2, *f.appointments.get(f.c).QueueOrder)
	assert.Nil(t, f.appointments.get(f.a).QueueOrder)
}

func TestReorder_Validation(t *testing.T) {
	f := newQueueFixture(t)
	version := int64(0)

	_, err := f.usecase.Reorder(f.asDoctor(), f.doctorID, &dto.ReorderQueueRequest{Date: queueDate, SourceID: f.a, TargetID: f.b})
	assert.ErrorIs(t, err, ErrVersionRequired)

	_, err = f.usecase.Reorder(f.asDoctor(), f.doctorID, &dto.ReorderQueueRequest{Date: queueDate, SourceID: uuid.New(), TargetID: f.b, Version: &version})
	assert.ErrorIs(t, err, ErrNotInQueue)

	_, err = f.usecase.Reorder(asUser(uuid.New(), entity.RoleIDAssistant), f.doctorID, &dto.ReorderQueueRequest{Date: queueDate, SourceID: f.a, TargetID: f.b, Version: &version})
	assert.ErrorIs(t, err, ErrQueueForbidden)
}

func TestSkip_IsPerOperator(t *testing.T) {
	f := newQueueFixture(t)

	resp, err := f.usecase.Skip(f.asDoctor(), f.c)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.a, f.b}, itemIDs(resp))

	// The assistant still sees C
	other, err := f.usecase.GetQueue(asUser(f.assistantID, entity.RoleIDAssistant), f.doctorID, queueDate)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.c, f.a, f.b}, itemIDs(other))

	restored, err := f.usecase.RestoreSkipped(f.asDoctor(), f.doctorID, &dto.QueueDateRequest{Date: queueDate})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.c, f.a, f.b}, itemIDs(restored))
	assert.Equal(t, int64(0), restored.Version)
}

func TestCallNext(t *testing.T) {
	f := newQueueFixture(t)
	req := &dto.QueueDateRequest{Date: queueDate}

	next, err := f.usecase.CallNext(f.asDoctor(), f.doctorID, req)
	require.NoError(t, err)
	assert.Equal(t, f.c, next.AppointmentID)
	assert.Equal(t, "#3", next.TokenNumber)

	// Calling does not advance the queue
	again, err := f.usecase.CallNext(f.asDoctor(), f.doctorID, req)
	require.NoError(t, err)
	assert.Equal(t, f.c, again.AppointmentID)
	assert.Equal(t, entity.AppointmentStatusScheduled, f.appointments.get(f.c).Status)

	for _, id := range []uuid.UUID{f.a, f.b, f.c} {
		_, err := f.usecase.Complete(f.asDoctor(), id)
		require.NoError(t, err)
	}
	_, err = f.usecase.CallNext(f.asDoctor(), f.doctorID, req)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestCheckIn(t *testing.T) {
	f := newQueueFixture(t)
	ctx := asUser(f.assistantID, entity.RoleIDAssistant)

	resp, err := f.usecase.CheckIn(ctx, f.a, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.CheckedInAt)
	assert.True(t, testNow.Equal(*resp.CheckedInAt))

	_, err = f.usecase.CheckIn(ctx, f.a, nil)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	arrived := testNow.Add(-25 * time.Minute)
	resp, err = f.usecase.CheckIn(ctx, f.b, &dto.CheckInRequest{CheckedInAt: &clock.Instant{Time: arrived}})
	require.NoError(t, err)
	assert.True(t, arrived.Equal(*resp.CheckedInAt))

	q, err := f.usecase.GetQueue(ctx, f.doctorID, queueDate)
	require.NoError(t, err)
	// Check-in neither moves anyone nor bumps the version
	assert.Equal(t, []uuid.UUID{f.c, f.a, f.b}, itemIDs(q))
	assert.Equal(t, int64(0), q.Version)
	assert.Equal(t, "checked_in", q.Items[2].DisplayStatus)
	assert.Equal(t, 25, q.Items[2].WaitingTimeMinutes)
	assert.Equal(t, "waiting", q.Items[0].DisplayStatus)
}

func TestCompleteAndNoShow(t *testing.T) {
	f := newQueueFixture(t)

	resp, err := f.usecase.Complete(f.asDoctor(), f.c)
	require.NoError(t, err)
	assert.Equal(t, string(entity.AppointmentStatusCompleted), resp.Status)
	assert.Nil(t, resp.QueueOrder)

	_, err = f.usecase.Complete(f.asDoctor(), f.c)
	assert.ErrorIs(t, err, ErrAppointmentNotLive)

	resp, err = f.usecase.MarkNoShow(f.asDoctor(), f.a)
	require.NoError(t, err)
	assert.Equal(t, string(entity.AppointmentStatusNoShow), resp.Status)

	q, err := f.usecase.GetQueue(f.asDoctor(), f.doctorID, queueDate)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.b}, itemIDs(q))
	assert.Equal(t, int64(2), q.Version)

	_, err = f.usecase.Complete(f.asDoctor(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	_, err = f.usecase.Complete(asUser(uuid.New(), entity.RoleIDDoctor), f.b)
	assert.ErrorIs(t, err, ErrQueueForbidden)

	assert.Equal(t, []string{entity.AuditActionQueueComplete, entity.AuditActionQueueNoShow}, f.audit.recorded())
}

func TestResetOrder(t *testing.T) {
	f := newQueueFixture(t)

	resp, err := f.usecase.ResetOrder(f.asDoctor(), f.doctorID, &dto.QueueDateRequest{Date: queueDate})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.a, f.b, f.c}, itemIDs(resp))
	assert.Equal(t, int64(1), resp.Version)
	assert.Nil(t, f.appointments.get(f.c).QueueOrder)
}

func TestGetQueue_ShowsBreak(t *testing.T) {
	f := newQueueFixture(t)
	_, err := f.redis.breaks.Start(f.asDoctor(), f.doctorID, testNow.Add(15*time.Minute))
	require.NoError(t, err)

	resp, err := f.usecase.GetQueue(f.asDoctor(), f.doctorID, queueDate)
	require.NoError(t, err)
	assert.True(t, resp.Break.IsOnBreak)
	require.NotNil(t, resp.Break.BreakEndTime)
	assert.True(t, testNow.Add(15*time.Minute).Equal(*resp.Break.BreakEndTime))
}
