package usecase

import (
	"context"
	"errors"
	"time"

	"go-clinic-queue/internal/converter"
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/domain/repository"
	"go-clinic-queue/internal/queue"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/pkg/clock"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrBreakRequestInvalid = errors.New("either duration_minutes or ends_at is required")
)

// DoctorUsecase serves the per-doctor session view and break control.
type DoctorUsecase interface {
	GetSessions(ctx context.Context, doctorID uuid.UUID, date string) (*dto.DoctorSessionsResponse, error)
	GetBreak(ctx context.Context, doctorID uuid.UUID) (*dto.BreakStatusResponse, error)
	StartBreak(ctx context.Context, doctorID uuid.UUID, req *dto.StartBreakRequest) (*dto.BreakStatusResponse, error)
	EndBreak(ctx context.Context, doctorID uuid.UUID) error
}

type doctorUsecase struct {
	db              *gorm.DB
	log             *logrus.Logger
	clock           clock.Clock
	gate            scheduling.Gate
	doctorRepo      repository.DoctorProfileRepository
	appointmentRepo repository.AppointmentRepository
	overrideRepo    repository.ScheduleOverrideRepository
	access          *providerAccess
	breakService    *service.BreakService
	auditService    service.AuditService
}

func NewDoctorUsecase(
	db *gorm.DB,
	log *logrus.Logger,
	clk clock.Clock,
	gate scheduling.Gate,
	doctorRepo repository.DoctorProfileRepository,
	appointmentRepo repository.AppointmentRepository,
	overrideRepo repository.ScheduleOverrideRepository,
	assignmentRepo repository.AssistantAssignmentRepository,
	breakService *service.BreakService,
	auditService service.AuditService,
) DoctorUsecase {
	return &doctorUsecase{
		db:              db,
		log:             log,
		clock:           clk,
		gate:            gate,
		doctorRepo:      doctorRepo,
		appointmentRepo: appointmentRepo,
		overrideRepo:    overrideRepo,
		access:          newProviderAccess(db, log, assignmentRepo),
		breakService:    breakService,
		auditService:    auditService,
	}
}

// GetSessions reports, for each session of the day, the resolved window, capacity, free
// slot times and whether a booking would be admitted right now.
func (u *doctorUsecase) GetSessions(ctx context.Context, doctorID uuid.UUID, date string) (*dto.DoctorSessionsResponse, error) {
	day, err := parseDate(date, u.gate.Location)
	if err != nil {
		return nil, err
	}

	doctor, err := u.doctorRepo.FindByUserID(u.db.WithContext(ctx), doctorID)
	if err != nil {
		u.log.Warnf("Failed to find doctor %s: %+v", doctorID, err)
		return nil, err
	}
	if doctor == nil {
		return nil, ErrDoctorNotFound
	}

	overrides, err := u.overrideRepo.FindByDoctorAndDate(u.db.WithContext(ctx), doctorID, day)
	if err != nil {
		u.log.Warnf("Failed to find overrides for doctor %s: %+v", doctorID, err)
		return nil, err
	}
	gateOverrides := make([]scheduling.Override, len(overrides))
	for i := range overrides {
		gateOverrides[i] = overrides[i].ToScheduling()
	}

	appointments, err := u.appointmentRepo.FindByDoctorAndDate(u.db.WithContext(ctx), doctorID, day)
	if err != nil {
		u.log.Warnf("Failed to load appointments for doctor %s: %+v", doctorID, err)
		return nil, err
	}

	now := u.clock.Now()
	cfg := scheduling.ResolveSessionConfig(doctor.RawSessionConfig())
	sessions := make([]dto.SessionAvailabilityResponse, 0, len(scheduling.Sessions))
	for _, session := range scheduling.Sessions {
		sessions = append(sessions, u.sessionView(doctor, day, session, cfg, appointments, gateOverrides, now))
	}

	breakStatus, err := u.breakService.Get(ctx, doctorID)
	if err != nil {
		breakStatus = queue.BreakStatus{}
	}

	return &dto.DoctorSessionsResponse{
		DoctorID:        doctor.UserID,
		DoctorName:      doctor.User.FullName,
		Specialization:  doctor.Specialization,
		Date:            day.Format(dateLayout),
		ConsultationFee: doctor.ConsultationFee,
		Sessions:        sessions,
		Break:           converter.BreakStatusToResponse(breakStatus),
	}, nil
}

func (u *doctorUsecase) sessionView(
	doctor *entity.DoctorProfile,
	day time.Time,
	session scheduling.Session,
	cfg scheduling.SessionConfig,
	appointments []entity.Appointment,
	overrides []scheduling.Override,
	now time.Time,
) dto.SessionAvailabilityResponse {
	window := cfg.Window(session)

	taken := make(map[string]struct{})
	for _, a := range appointments {
		if a.Session != session || a.IsCancelled() {
			continue
		}
		if normalized, ok := scheduling.NormalizeClock(a.Time); ok {
			taken[normalized] = struct{}{}
		}
	}

	capacity := scheduling.CalculateCapacity(window, doctor.ConsultationDuration, len(taken))
	free := make([]string, 0, capacity.AvailableSlots)
	for _, slot := range scheduling.CandidateSlots(window, doctor.AvailableSlots, doctor.ConsultationDuration) {
		if _, ok := taken[slot.String()]; !ok {
			free = append(free, slot.String())
		}
	}

	admission := u.gate.CanAdmit(day, session, now, cfg, overrides)
	if admission.Allowed && !doctor.IsBookable() {
		admission = scheduling.Admission{Code: scheduling.DenialLeave, Reason: ErrDoctorUnavailable.Error()}
	}

	return dto.SessionAvailabilityResponse{
		Session:        string(session),
		StartTime:      window.Start.String(),
		EndTime:        window.End.String(),
		SlotDuration:   doctor.ConsultationDuration,
		TotalSlots:     capacity.TotalSlots,
		BookedSlots:    capacity.BookedSlots,
		AvailableSlots: capacity.AvailableSlots,
		FreeSlotTimes:  free,
		Admission:      converter.AdmissionToResponse(admission),
	}
}

func (u *doctorUsecase) GetBreak(ctx context.Context, doctorID uuid.UUID) (*dto.BreakStatusResponse, error) {
	status, err := u.breakService.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	response := converter.BreakStatusToResponse(status)
	return &response, nil
}

// StartBreak puts the doctor on break. Doctors control their own breaks; admins and the
// doctor's assistants may do it for them.
func (u *doctorUsecase) StartBreak(ctx context.Context, doctorID uuid.UUID, req *dto.StartBreakRequest) (*dto.BreakStatusResponse, error) {
	operatorID, err := u.access.authorize(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	var end time.Time
	switch {
	case req.EndsAt != nil && !req.EndsAt.IsZero():
		end = req.EndsAt.Time
	case req.DurationMinutes > 0:
		end = u.clock.Now().Add(time.Duration(req.DurationMinutes) * time.Minute)
	default:
		return nil, ErrBreakRequestInvalid
	}

	status, err := u.breakService.Start(ctx, doctorID, end)
	if err != nil {
		return nil, err
	}

	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionDoctorBreakStart, "doctor", doctorID.String(), map[string]interface{}{
		"break_end_time": end,
	})
	u.log.Infof("Break started: doctor=%s, until=%s", doctorID, end.Format(time.RFC3339))

	response := converter.BreakStatusToResponse(status)
	return &response, nil
}

func (u *doctorUsecase) EndBreak(ctx context.Context, doctorID uuid.UUID) error {
	operatorID, err := u.access.authorize(ctx, doctorID)
	if err != nil {
		return err
	}

	if err := u.breakService.End(ctx, doctorID); err != nil {
		return err
	}

	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionDoctorBreakEnd, "doctor", doctorID.String(), nil)
	return nil
}
