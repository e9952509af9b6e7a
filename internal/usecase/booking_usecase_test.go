package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/scheduling"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bookingFixture struct {
	usecase      BookingUsecase
	mock         sqlmock.Sqlmock
	redis        *redisFixture
	appointments *fakeAppointmentRepo
	overrides    *fakeOverrideRepo
	audit        *fakeAuditService
	doctor       entity.DoctorProfile
	family       uuid.UUID
	alice        entity.PatientProfile
	bob          entity.PatientProfile
	stranger     entity.PatientProfile
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	db, mock := newMockDB(t)
	rf := newRedisFixture(t)

	family := uuid.New()
	otherFamily := uuid.New()
	f := &bookingFixture{
		mock:   mock,
		redis:  rf,
		family: family,
		doctor: entity.DoctorProfile{
			UserID:               uuid.New(),
			Specialization:       "General Practice",
			ConsultationDuration: 20,
			ConsultationFee:      decimal.NewFromInt(150),
			MorningStart:         "09:00",
			MorningEnd:           "1:00 PM",
			EveningStart:         "17:00",
			EveningEnd:           "20:00",
			Status:               entity.DoctorStatusActive,
		},
		alice:    entity.PatientProfile{UserID: uuid.New(), FamilyGroupID: &family},
		bob:      entity.PatientProfile{UserID: uuid.New(), FamilyGroupID: &family},
		stranger: entity.PatientProfile{UserID: uuid.New(), FamilyGroupID: &otherFamily},
		audit:    &fakeAuditService{},
	}
	f.appointments = newFakeAppointmentRepo()
	f.overrides = &fakeOverrideRepo{}

	f.usecase = NewBookingUsecase(
		db,
		testLogger(),
		rf.clock,
		scheduling.NewGate(3*time.Hour, time.UTC),
		4,
		f.appointments,
		newFakeDoctorRepo(f.doctor),
		newFakePatientRepo(f.alice, f.bob, f.stranger),
		f.overrides,
		rf.queueState,
		rf.broker,
		f.audit,
		rf.metrics,
	)
	return f
}

// morningBookings fills the first n morning slots of date with other patients.
func morningBookings(doctorID uuid.UUID, date time.Time, n int) []entity.Appointment {
	out := make([]entity.Appointment, n)
	for i := range out {
		slot := scheduling.Minutes(9*60 + 20*i)
		out[i] = entity.Appointment{
			PatientID:   uuid.New(),
			DoctorID:    doctorID,
			Date:        date,
			Time:        slot.String(),
			Session:     scheduling.SessionMorning,
			TokenNumber: scheduling.FormatToken(i + 1),
			Status:      entity.AppointmentStatusScheduled,
		}
	}
	return out
}

func (f *bookingFixture) book(ctx context.Context, date string, members ...uuid.UUID) (*dto.BookingListResponse, error) {
	return f.usecase.CreateBooking(ctx, &dto.CreateBookingRequest{
		DoctorID:        f.doctor.UserID,
		Date:            date,
		Session:         string(scheduling.SessionMorning),
		FamilyMemberIDs: members,
	})
}

func TestCreateBooking_FillsLastSlotsThenRejects(t *testing.T) {
	f := newBookingFixture(t)
	date := day(2026, 3, 5)
	f.appointments.seed(morningBookings(f.doctor.UserID, date, 10)...)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), "2026-03-05", f.bob.UserID)
	require.NoError(t, err)
	require.Len(t, result.Bookings, 2)

	assert.Equal(t, "#11", result.Bookings[0].TokenNumber)
	assert.Equal(t, "12:20", result.Bookings[0].Time)
	assert.Equal(t, f.alice.UserID, result.Bookings[0].PatientID)
	assert.Equal(t, "#12", result.Bookings[1].TokenNumber)
	assert.Equal(t, "12:40", result.Bookings[1].Time)
	assert.Equal(t, f.bob.UserID, result.Bookings[1].PatientID)
	assert.True(t, decimal.NewFromInt(300).Equal(result.TotalFee))

	_, err = f.book(asUser(f.stranger.UserID, entity.RoleIDPatient), "2026-03-05")
	assert.ErrorIs(t, err, scheduling.ErrNoCapacity)
	assert.Equal(t, 12, len(f.appointments.appointments))
	require.NoError(t, f.mock.ExpectationsWereMet())

	version, err := f.redis.queueState.CurrentVersion(context.Background(), f.doctor.UserID, date)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, []string{entity.AuditActionBookingCreate, entity.AuditActionBookingCreate}, f.audit.recorded())
}

func TestCreateBooking_AdmissionDenials(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		override *entity.ScheduleOverride
		code     scheduling.DenialCode
	}{
		{
			// now is 10:00 on 2026-03-02; tomorrow's 09:00 session opens at 06:00 tomorrow
			name: "tomorrow not open yet",
			date: "2026-03-03",
			code: scheduling.DenialNotOpen,
		},
		{
			name: "today's session already started",
			date: "2026-03-02",
			code: scheduling.DenialStarted,
		},
		{
			name: "past date",
			date: "2026-03-01",
			code: scheduling.DenialPastDate,
		},
		{
			name: "full day leave",
			date: "2026-03-10",
			override: &entity.ScheduleOverride{
				Date:   day(2026, 3, 10),
				Reason: "conference",
				Type:   scheduling.OverrideHoliday,
			},
			code: scheduling.DenialLeave,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBookingFixture(t)
			if tt.override != nil {
				tt.override.DoctorID = f.doctor.UserID
				require.NoError(t, f.overrides.Create(nil, tt.override))
			}

			_, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), tt.date)
			require.ErrorIs(t, err, ErrAdmissionDenied)

			var admissionErr *AdmissionError
			require.True(t, errors.As(err, &admissionErr))
			assert.Equal(t, tt.code, admissionErr.Admission.Code)
			assert.Zero(t, f.appointments.created)
		})
	}
}

func TestCreateBooking_NotOpenCarriesOpeningInstant(t *testing.T) {
	f := newBookingFixture(t)

	_, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), "2026-03-03")
	var admissionErr *AdmissionError
	require.True(t, errors.As(err, &admissionErr))
	require.NotNil(t, admissionErr.Admission.OpensAt)
	assert.Equal(t, time.Date(2026, 3, 3, 6, 0, 0, 0, time.UTC), admissionErr.Admission.OpensAt.UTC())
	assert.Equal(t, "booking opens at 2026-03-03 06:00", admissionErr.Error())
}

func TestCreateBooking_ReducedHoursOnlyBlocksCoveredSession(t *testing.T) {
	f := newBookingFixture(t)
	start, end := "17:00", "20:00"
	require.NoError(t, f.overrides.Create(nil, &entity.ScheduleOverride{
		DoctorID:  f.doctor.UserID,
		Date:      day(2026, 3, 10),
		StartTime: &start,
		EndTime:   &end,
		Type:      scheduling.OverrideReducedHours,
	}))

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), "2026-03-10")
	require.NoError(t, err)

	_, err = f.usecase.CreateBooking(asUser(f.bob.UserID, entity.RoleIDPatient), &dto.CreateBookingRequest{
		DoctorID: f.doctor.UserID,
		Date:     "2026-03-10",
		Session:  string(scheduling.SessionEvening),
	})
	assert.ErrorIs(t, err, ErrAdmissionDenied)
}

func TestCreateBooking_FamilyValidation(t *testing.T) {
	f := newBookingFixture(t)
	ctx := asUser(f.alice.UserID, entity.RoleIDPatient)

	_, err := f.book(ctx, "2026-03-05", f.stranger.UserID)
	assert.ErrorIs(t, err, ErrNotFamilyMember)

	_, err = f.book(ctx, "2026-03-05", uuid.New())
	assert.ErrorIs(t, err, ErrNotFamilyMember)

	_, err = f.book(ctx, "2026-03-05", uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrTooManyFamilyMembers)

	_, err = f.book(asUser(uuid.New(), entity.RoleIDPatient), "2026-03-05")
	assert.ErrorIs(t, err, ErrPatientNotFound)

	_, err = f.book(context.Background(), "2026-03-05")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCreateBooking_DuplicateMembersCollapse(t *testing.T) {
	f := newBookingFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), "2026-03-05", f.bob.UserID, f.bob.UserID, f.alice.UserID)
	require.NoError(t, err)
	assert.Len(t, result.Bookings, 2)
}

func TestCreateBooking_RejectsSecondLiveBookingInSession(t *testing.T) {
	f := newBookingFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	ctx := asUser(f.alice.UserID, entity.RoleIDPatient)
	_, err := f.book(ctx, "2026-03-05")
	require.NoError(t, err)

	_, err = f.book(ctx, "2026-03-05")
	assert.ErrorIs(t, err, ErrAlreadyBooked)
}

func TestCreateBooking_TokenConflictFromUniqueIndex(t *testing.T) {
	f := newBookingFixture(t)
	f.appointments.createErr = fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_appointments_session_token"})
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), "2026-03-05")
	assert.ErrorIs(t, err, ErrTokenConflict)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateBooking_InactiveDoctor(t *testing.T) {
	f := newBookingFixture(t)
	doctors := newFakeDoctorRepo(f.doctor)
	doctors.doctors[f.doctor.UserID].Status = entity.DoctorStatusInactive
	f.usecase.(*bookingUsecase).doctorRepo = doctors

	_, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), "2026-03-05")
	assert.ErrorIs(t, err, ErrDoctorUnavailable)
}

func TestCancelBooking_FreesSlotButNotToken(t *testing.T) {
	f := newBookingFixture(t)
	ctx := asUser(f.alice.UserID, entity.RoleIDPatient)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	first, err := f.book(ctx, "2026-03-05")
	require.NoError(t, err)
	booking := first.Bookings[0]
	assert.Equal(t, "#1", booking.TokenNumber)
	assert.Equal(t, "09:00", booking.Time)

	err = f.usecase.CancelBooking(asUser(f.stranger.UserID, entity.RoleIDPatient), booking.ID)
	assert.ErrorIs(t, err, ErrBookingNotOwned)

	require.NoError(t, f.usecase.CancelBooking(ctx, booking.ID))
	assert.Equal(t, entity.AppointmentStatusCancelled, f.appointments.get(booking.ID).Status)
	assert.ErrorIs(t, f.usecase.CancelBooking(ctx, booking.ID), ErrBookingNotCancellable)
	assert.ErrorIs(t, f.usecase.CancelBooking(ctx, uuid.New()), ErrBookingNotFound)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	second, err := f.book(asUser(f.bob.UserID, entity.RoleIDPatient), "2026-03-05")
	require.NoError(t, err)
	assert.Equal(t, "#2", second.Bookings[0].TokenNumber)
	assert.Equal(t, "09:00", second.Bookings[0].Time)

	version, err := f.redis.queueState.CurrentVersion(context.Background(), f.doctor.UserID, day(2026, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
}

func TestGetMyBookings_IncludesFamily(t *testing.T) {
	f := newBookingFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	_, err := f.book(asUser(f.alice.UserID, entity.RoleIDPatient), "2026-03-05", f.bob.UserID)
	require.NoError(t, err)

	list, err := f.usecase.GetMyBookings(asUser(f.bob.UserID, entity.RoleIDPatient))
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)

	list, err = f.usecase.GetMyBookings(asUser(f.stranger.UserID, entity.RoleIDPatient))
	require.NoError(t, err)
	assert.Zero(t, list.Total)
}
