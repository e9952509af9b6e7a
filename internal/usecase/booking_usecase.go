package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-clinic-queue/internal/converter"
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/delivery/http/middleware"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/domain/repository"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/pkg/clock"
	"go-clinic-queue/pkg/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrUnauthenticated       = errors.New("user not found in context")
	ErrDoctorNotFound        = errors.New("doctor not found")
	ErrDoctorUnavailable     = errors.New("doctor is not accepting bookings")
	ErrPatientNotFound       = errors.New("patient profile not found")
	ErrNotFamilyMember       = errors.New("family member does not belong to your family group")
	ErrTooManyFamilyMembers  = errors.New("too many family members in one booking")
	ErrAlreadyBooked         = errors.New("patient already has a booking in this session")
	ErrAdmissionDenied       = errors.New("booking is not open for this session")
	ErrTokenConflict         = errors.New("session changed while booking, please retry")
	ErrBookingNotFound       = errors.New("booking not found")
	ErrBookingNotOwned       = errors.New("booking does not belong to you")
	ErrBookingNotCancellable = errors.New("booking can no longer be cancelled")
	ErrInvalidDate           = errors.New("invalid date format, use YYYY-MM-DD")
	ErrInvalidSession        = errors.New("session must be morning or evening")
)

// AdmissionError is returned when the admission gate turns a booking away.
type AdmissionError struct {
	Admission scheduling.Admission
}

func (e *AdmissionError) Error() string {
	return e.Admission.Reason
}

func (e *AdmissionError) Is(target error) bool {
	return target == ErrAdmissionDenied
}

type BookingUsecase interface {
	GetMyBookings(ctx context.Context) (*dto.BookingListResponse, error)
	CreateBooking(ctx context.Context, req *dto.CreateBookingRequest) (*dto.BookingListResponse, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID) error
}

type bookingUsecase struct {
	db              *gorm.DB
	log             *logrus.Logger
	clock           clock.Clock
	gate            scheduling.Gate
	maxFamily       int
	appointmentRepo repository.AppointmentRepository
	doctorRepo      repository.DoctorProfileRepository
	patientRepo     repository.PatientProfileRepository
	overrideRepo    repository.ScheduleOverrideRepository
	queueState      *service.QueueStateService
	broker          *service.QueueEventBroker
	auditService    service.AuditService
	metrics         *metrics.Metrics
}

func NewBookingUsecase(
	db *gorm.DB,
	log *logrus.Logger,
	clk clock.Clock,
	gate scheduling.Gate,
	maxFamily int,
	appointmentRepo repository.AppointmentRepository,
	doctorRepo repository.DoctorProfileRepository,
	patientRepo repository.PatientProfileRepository,
	overrideRepo repository.ScheduleOverrideRepository,
	queueState *service.QueueStateService,
	broker *service.QueueEventBroker,
	auditService service.AuditService,
	m *metrics.Metrics,
) BookingUsecase {
	return &bookingUsecase{
		db:              db,
		log:             log,
		clock:           clk,
		gate:            gate,
		maxFamily:       maxFamily,
		appointmentRepo: appointmentRepo,
		doctorRepo:      doctorRepo,
		patientRepo:     patientRepo,
		overrideRepo:    overrideRepo,
		queueState:      queueState,
		broker:          broker,
		auditService:    auditService,
		metrics:         m,
	}
}

// GetMyBookings returns the bookings of the logged-in patient and their family group
func (u *bookingUsecase) GetMyBookings(ctx context.Context) (*dto.BookingListResponse, error) {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	patient, err := u.patientRepo.FindByUserID(u.db.WithContext(ctx), userID)
	if err != nil {
		u.log.Warnf("Failed to find patient profile %s: %+v", userID, err)
		return nil, err
	}
	if patient == nil {
		return nil, ErrPatientNotFound
	}

	patientIDs := []uuid.UUID{userID}
	if patient.FamilyGroupID != nil {
		family, err := u.patientRepo.FindByFamilyGroupID(u.db.WithContext(ctx), *patient.FamilyGroupID)
		if err != nil {
			u.log.Warnf("Failed to find family group %s: %+v", *patient.FamilyGroupID, err)
			return nil, err
		}
		for _, member := range family {
			if member.UserID != userID {
				patientIDs = append(patientIDs, member.UserID)
			}
		}
	}

	appointments, err := u.appointmentRepo.FindByPatientIDs(u.db.WithContext(ctx), patientIDs)
	if err != nil {
		u.log.Warnf("Failed to find bookings for patient %s: %+v", userID, err)
		return nil, err
	}

	return converter.AppointmentsToBookingList(appointments), nil
}

// CreateBooking books the requester and any listed family members into one session.
//
// Flow:
// 1. Validate doctor, requester and family members
// 2. Check the admission gate (past date, leave, lead time)
// 3. Take the per-session lock and re-check admission
// 4. Assign tokens and slots from the current session state (all or nothing)
// 5. Insert every appointment in one transaction
// 6. Bump the queue version and publish the change
func (u *bookingUsecase) CreateBooking(ctx context.Context, req *dto.CreateBookingRequest) (*dto.BookingListResponse, error) {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	date, err := parseDate(req.Date, u.gate.Location)
	if err != nil {
		return nil, err
	}
	session := scheduling.Session(req.Session)
	if !session.Valid() {
		return nil, ErrInvalidSession
	}
	if u.maxFamily > 0 && len(req.FamilyMemberIDs) > u.maxFamily {
		return nil, ErrTooManyFamilyMembers
	}

	// Step 1: Validate doctor and patients
	doctor, err := u.doctorRepo.FindByUserID(u.db.WithContext(ctx), req.DoctorID)
	if err != nil {
		u.log.Warnf("Failed to find doctor %s: %+v", req.DoctorID, err)
		return nil, err
	}
	if doctor == nil {
		return nil, ErrDoctorNotFound
	}
	if !doctor.IsBookable() {
		return nil, ErrDoctorUnavailable
	}

	patients, err := u.resolvePatients(ctx, userID, req.FamilyMemberIDs)
	if err != nil {
		return nil, err
	}

	// Step 2: Admission gate
	cfg := scheduling.ResolveSessionConfig(doctor.RawSessionConfig())
	overrides, err := u.overrideRepo.FindByDoctorAndDate(u.db.WithContext(ctx), doctor.UserID, date)
	if err != nil {
		u.log.Warnf("Failed to find overrides for doctor %s: %+v", doctor.UserID, err)
		return nil, err
	}
	gateOverrides := make([]scheduling.Override, len(overrides))
	for i := range overrides {
		gateOverrides[i] = overrides[i].ToScheduling()
	}
	if err := u.admit(date, session, cfg, gateOverrides); err != nil {
		return nil, err
	}

	// Step 3: Serialize with other bookings into the same session
	waitStart := time.Now()
	unlock, err := u.queueState.LockSession(ctx, doctor.UserID, date, session)
	u.metrics.SessionLockWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		u.log.Warnf("Failed to lock session %s/%s/%s: %+v", doctor.UserID, req.Date, session, err)
		return nil, err
	}
	defer unlock()

	// The lock wait may have crossed the session start
	if err := u.admit(date, session, cfg, gateOverrides); err != nil {
		return nil, err
	}

	// Step 4: Assign tokens and slots
	existing, err := u.appointmentRepo.FindBySession(u.db.WithContext(ctx), doctor.UserID, date, session)
	if err != nil {
		u.log.Warnf("Failed to load session appointments: %+v", err)
		return nil, err
	}

	assignReq := scheduling.AssignRequest{
		Window:       cfg.Window(session),
		SlotDuration: doctor.ConsultationDuration,
		SlotList:     doctor.AvailableSlots,
		Count:        len(patients),
	}
	for _, a := range existing {
		assignReq.ExistingTokens = append(assignReq.ExistingTokens, a.TokenNumber)
		if a.IsCancelled() {
			continue
		}
		assignReq.BookedSlotTimes = append(assignReq.BookedSlotTimes, a.Time)
		if a.IsLive() && containsPatient(patients, a.PatientID) {
			return nil, ErrAlreadyBooked
		}
	}

	assignments, err := scheduling.Assign(assignReq)
	if err != nil {
		if errors.Is(err, scheduling.ErrNoCapacity) {
			u.metrics.CapacityRejected.Inc()
		}
		return nil, err
	}

	// Step 5: Insert appointments atomically
	appointments := make([]*entity.Appointment, len(assignments))
	for i, assignment := range assignments {
		patient := patients[i]
		appointments[i] = &entity.Appointment{
			ID:              uuid.New(),
			PatientID:       patient.UserID,
			BookedByID:      userID,
			DoctorID:        doctor.UserID,
			Date:            date,
			Time:            assignment.Time,
			DurationMinutes: doctor.ConsultationDuration,
			Session:         session,
			Status:          entity.AppointmentStatusScheduled,
			TokenNumber:     assignment.Token,
			Notes:           req.Notes,
			FeeAmount:       doctor.ConsultationFee,
		}
	}

	tx := u.db.WithContext(ctx).Begin()
	defer tx.Rollback()

	if err := u.appointmentRepo.CreateBatch(tx, appointments); err != nil {
		if isDuplicateKeyError(err, "uq_appointments_session") {
			return nil, ErrTokenConflict
		}
		u.log.Warnf("Failed to create appointments: %+v", err)
		return nil, err
	}

	for _, a := range appointments {
		if err := u.auditService.LogCreate(ctx, tx, &userID, entity.AuditActionBookingCreate, "appointment", a.ID.String(), a); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		u.log.Warnf("Failed commit transaction: %+v", err)
		return nil, err
	}

	// Step 6: Announce the new queue state
	version := u.bumpVersion(ctx, doctor.UserID, date)
	for _, a := range appointments {
		u.publish(ctx, service.EventAppointmentBooked, a, version)
	}
	u.metrics.BookingsCreated.Add(float64(len(appointments)))

	result := make([]entity.Appointment, len(appointments))
	for i, a := range appointments {
		a.Patient = &patients[i]
		a.Doctor = doctor
		result[i] = *a
	}

	u.log.Infof("Booking created: doctor=%s, date=%s, session=%s, tokens=%s", doctor.UserID, req.Date, session, tokenList(assignments))
	return converter.AppointmentsToBookingList(result), nil
}

// CancelBooking cancels a live booking. The slot becomes free again; the token is never
// handed out again.
func (u *bookingUsecase) CancelBooking(ctx context.Context, bookingID uuid.UUID) error {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}

	appointment, err := u.appointmentRepo.FindByID(u.db.WithContext(ctx), bookingID)
	if err != nil {
		u.log.Warnf("Failed to find booking %s: %+v", bookingID, err)
		return err
	}
	if appointment == nil {
		return ErrBookingNotFound
	}

	if appointment.PatientID != userID && appointment.BookedByID != userID {
		return ErrBookingNotOwned
	}
	if !appointment.IsLive() {
		return ErrBookingNotCancellable
	}

	rows, err := u.appointmentRepo.TransitionStatus(u.db.WithContext(ctx), bookingID, entity.AppointmentStatusCancelled)
	if err != nil {
		u.log.Warnf("Failed to cancel booking %s: %+v", bookingID, err)
		return err
	}
	if rows == 0 {
		return ErrBookingNotCancellable
	}

	oldStatus := appointment.Status
	appointment.Status = entity.AppointmentStatusCancelled
	appointment.QueueOrder = nil

	version := u.bumpVersion(ctx, appointment.DoctorID, appointment.Date)
	u.publish(ctx, service.EventAppointmentCancelled, appointment, version)
	if err := u.auditService.LogUpdate(ctx, nil, &userID, entity.AuditActionBookingCancel, "appointment", bookingID.String(), oldStatus, appointment.Status); err != nil {
		u.log.Warnf("Failed to audit cancellation of %s: %+v", bookingID, err)
	}

	u.log.Infof("Booking cancelled: id=%s, token=%s", bookingID, appointment.TokenNumber)
	return nil
}

func (u *bookingUsecase) admit(date time.Time, session scheduling.Session, cfg scheduling.SessionConfig, overrides []scheduling.Override) error {
	admission := u.gate.CanAdmit(date, session, u.clock.Now(), cfg, overrides)
	if admission.Allowed {
		return nil
	}
	u.metrics.AdmissionDenied.WithLabelValues(string(admission.Code)).Inc()
	return &AdmissionError{Admission: admission}
}

// resolvePatients returns the requester followed by each distinct family member, in request
// order. Every member must share the requester's family group.
func (u *bookingUsecase) resolvePatients(ctx context.Context, userID uuid.UUID, memberIDs []uuid.UUID) ([]entity.PatientProfile, error) {
	requester, err := u.patientRepo.FindByUserID(u.db.WithContext(ctx), userID)
	if err != nil {
		u.log.Warnf("Failed to find patient profile %s: %+v", userID, err)
		return nil, err
	}
	if requester == nil {
		return nil, ErrPatientNotFound
	}

	patients := []entity.PatientProfile{*requester}
	wanted := make([]uuid.UUID, 0, len(memberIDs))
	seen := map[uuid.UUID]struct{}{userID: {}}
	for _, id := range memberIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		wanted = append(wanted, id)
	}
	if len(wanted) == 0 {
		return patients, nil
	}

	members, err := u.patientRepo.FindByUserIDs(u.db.WithContext(ctx), wanted)
	if err != nil {
		u.log.Warnf("Failed to find family members: %+v", err)
		return nil, err
	}
	byID := make(map[uuid.UUID]entity.PatientProfile, len(members))
	for _, m := range members {
		byID[m.UserID] = m
	}

	for _, id := range wanted {
		member, ok := byID[id]
		if !ok || !requester.SameFamily(&member) {
			return nil, ErrNotFamilyMember
		}
		patients = append(patients, member)
	}
	return patients, nil
}

func (u *bookingUsecase) bumpVersion(ctx context.Context, doctorID uuid.UUID, date time.Time) int64 {
	version, err := u.queueState.BumpVersion(ctx, doctorID, date)
	if err != nil {
		// Readers holding the old version will still see a conflict on their next reorder
		// once any later mutation bumps it.
		u.log.Warnf("Failed to bump queue version for doctor %s: %+v", doctorID, err)
	}
	return version
}

func (u *bookingUsecase) publish(ctx context.Context, eventType string, a *entity.Appointment, version int64) {
	id := a.ID
	event := service.QueueEvent{
		Type:          eventType,
		DoctorID:      a.DoctorID,
		Date:          a.Date.Format(dateLayout),
		AppointmentID: &id,
		Version:       version,
		OccurredAt:    u.clock.Now(),
	}
	if err := u.broker.Publish(ctx, event); err != nil {
		u.log.Warnf("Failed to publish %s for appointment %s: %+v", eventType, a.ID, err)
	}
}

func containsPatient(patients []entity.PatientProfile, id uuid.UUID) bool {
	for _, p := range patients {
		if p.UserID == id {
			return true
		}
	}
	return false
}

func tokenList(assignments []scheduling.Assignment) string {
	tokens := make([]string, len(assignments))
	for i, a := range assignments {
		tokens[i] = fmt.Sprintf("%s@%s", a.Token, a.Time)
	}
	return strings.Join(tokens, ",")
}

const dateLayout = "2006-01-02"

// parseDate reads a YYYY-MM-DD calendar day as midnight in loc
func parseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	date, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return date, nil
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique constraint violation
// containing the specified constraint name
func isDuplicateKeyError(err error, constraintName string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// PostgreSQL error code 23505 = unique_violation
		if pgErr.Code == "23505" && strings.Contains(strings.ToLower(pgErr.ConstraintName), strings.ToLower(constraintName)) {
			return true
		}
	}
	return false
}
