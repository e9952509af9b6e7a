package usecase

import (
	"context"
	"errors"
	"strconv"

	"go-clinic-queue/internal/converter"
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/delivery/http/middleware"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/domain/repository"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/internal/service"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrOverrideNotFound        = errors.New("schedule override not found")
	ErrInvalidOverrideType     = errors.New("override type must be holiday, extended_hours or reduced_hours")
	ErrInvalidTimeFormat       = errors.New("invalid time format, use HH:MM")
	ErrOverrideRangeIncomplete = errors.New("start_time and end_time must be given together")
	ErrOverrideRangeInverted   = errors.New("end_time must be after start_time")
)

type ScheduleOverrideUsecase interface {
	CreateOverride(ctx context.Context, req *dto.CreateOverrideRequest) (*dto.OverrideResponse, error)
	GetOverrides(ctx context.Context, query *dto.OverrideQuery) (*dto.OverrideListResponse, error)
	DeleteOverride(ctx context.Context, overrideID int) error
}

type scheduleOverrideUsecase struct {
	db           *gorm.DB
	log          *logrus.Logger
	overrideRepo repository.ScheduleOverrideRepository
	doctorRepo   repository.DoctorProfileRepository
	auditService service.AuditService
}

func NewScheduleOverrideUsecase(
	db *gorm.DB,
	log *logrus.Logger,
	overrideRepo repository.ScheduleOverrideRepository,
	doctorRepo repository.DoctorProfileRepository,
	auditService service.AuditService,
) ScheduleOverrideUsecase {
	return &scheduleOverrideUsecase{
		db:           db,
		log:          log,
		overrideRepo: overrideRepo,
		doctorRepo:   doctorRepo,
		auditService: auditService,
	}
}

func (u *scheduleOverrideUsecase) CreateOverride(ctx context.Context, req *dto.CreateOverrideRequest) (*dto.OverrideResponse, error) {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}

	overrideType := scheduling.OverrideType(req.Type)
	if !overrideType.Valid() {
		return nil, ErrInvalidOverrideType
	}

	// Dates are stored as calendar days; the location does not matter here
	date, err := parseDate(req.Date, nil)
	if err != nil {
		return nil, err
	}

	startTime, endTime, err := normalizeRange(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	doctor, err := u.doctorRepo.FindByUserID(u.db.WithContext(ctx), req.DoctorID)
	if err != nil {
		u.log.Warnf("Failed to find doctor: %+v", err)
		return nil, err
	}
	if doctor == nil {
		return nil, ErrDoctorNotFound
	}

	override := &entity.ScheduleOverride{
		DoctorID:  req.DoctorID,
		Date:      date,
		StartTime: startTime,
		EndTime:   endTime,
		Reason:    req.Reason,
		Type:      overrideType,
		CreatedBy: &userID,
	}

	tx := u.db.WithContext(ctx).Begin()
	defer tx.Rollback()

	if err := u.overrideRepo.Create(tx, override); err != nil {
		u.log.Warnf("Failed to create schedule override: %+v", err)
		return nil, err
	}

	if err := u.auditService.LogCreate(ctx, tx, &userID, entity.AuditActionOverrideCreate, "schedule_override", strconv.Itoa(override.ID), override); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		u.log.Warnf("Failed commit transaction: %+v", err)
		return nil, err
	}

	override.Doctor = doctor
	u.log.Infof("Schedule override created: id=%d, doctor=%s, date=%s, type=%s", override.ID, req.DoctorID, req.Date, overrideType)
	return converter.OverrideToResponse(override), nil
}

func (u *scheduleOverrideUsecase) GetOverrides(ctx context.Context, query *dto.OverrideQuery) (*dto.OverrideListResponse, error) {
	filter := &entity.OverrideFilter{}
	if query != nil {
		if query.DoctorID != "" {
			doctorID, err := uuid.Parse(query.DoctorID)
			if err != nil {
				return nil, ErrDoctorNotFound
			}
			filter.DoctorID = &doctorID
		}
		if query.From != "" {
			from, err := parseDate(query.From, nil)
			if err != nil {
				return nil, err
			}
			filter.From = &from
		}
		if query.To != "" {
			to, err := parseDate(query.To, nil)
			if err != nil {
				return nil, err
			}
			filter.To = &to
		}
	}

	overrides, err := u.overrideRepo.FindAll(u.db.WithContext(ctx), filter)
	if err != nil {
		u.log.Warnf("Failed to find schedule overrides: %+v", err)
		return nil, err
	}

	return &dto.OverrideListResponse{
		Overrides: converter.OverridesToResponses(overrides),
		Total:     len(overrides),
	}, nil
}

func (u *scheduleOverrideUsecase) DeleteOverride(ctx context.Context, overrideID int) error {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return ErrUnauthenticated
	}

	tx := u.db.WithContext(ctx).Begin()
	defer tx.Rollback()

	override, err := u.overrideRepo.FindByID(tx, overrideID)
	if err != nil {
		u.log.Warnf("Failed to find schedule override %d: %+v", overrideID, err)
		return err
	}
	if override == nil {
		return ErrOverrideNotFound
	}

	rows, err := u.overrideRepo.Delete(tx, overrideID)
	if err != nil {
		u.log.Warnf("Failed to delete schedule override %d: %+v", overrideID, err)
		return err
	}
	if rows == 0 {
		return ErrOverrideNotFound
	}

	if err := u.auditService.LogDelete(ctx, tx, &userID, entity.AuditActionOverrideDelete, "schedule_override", strconv.Itoa(overrideID), override); err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
		u.log.Warnf("Failed commit transaction: %+v", err)
		return err
	}
	return nil
}

// normalizeRange validates an optional override time range. Both ends absent means the
// whole day; otherwise both must be present and ordered.
func normalizeRange(start, end *string) (*string, *string, error) {
	startSet := start != nil && *start != ""
	endSet := end != nil && *end != ""
	if !startSet && !endSet {
		return nil, nil, nil
	}
	if startSet != endSet {
		return nil, nil, ErrOverrideRangeIncomplete
	}

	from, ok := scheduling.ParseClock(*start)
	if !ok {
		return nil, nil, ErrInvalidTimeFormat
	}
	to, ok := scheduling.ParseClock(*end)
	if !ok {
		return nil, nil, ErrInvalidTimeFormat
	}
	if to <= from {
		return nil, nil, ErrOverrideRangeInverted
	}

	fromStr, toStr := from.String(), to.String()
	return &fromStr, &toStr, nil
}
