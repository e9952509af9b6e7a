package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-clinic-queue/internal/converter"
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/delivery/http/middleware"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/domain/repository"
	"go-clinic-queue/internal/queue"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/pkg/clock"
	"go-clinic-queue/pkg/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var (
	ErrQueueForbidden          = errors.New("you cannot manage this doctor's queue")
	ErrAppointmentNotFound     = errors.New("appointment not found")
	ErrAppointmentNotLive      = errors.New("appointment is no longer in the queue")
	ErrAlreadyCheckedIn        = errors.New("appointment is already checked in")
	ErrNotInQueue              = errors.New("appointment is not in the current queue")
	ErrQueueEmpty              = errors.New("no patients waiting")
	ErrReorderPartiallyApplied = errors.New("reorder was only partially saved")
	ErrVersionRequired         = errors.New("queue version is required")
)

// VersionConflictError is returned when a reorder was computed from a stale queue.
type VersionConflictError struct {
	CurrentVersion int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("queue changed since it was loaded (current version %d)", e.CurrentVersion)
}

func (e *VersionConflictError) Is(target error) bool {
	return target == service.ErrQueueVersionConflict
}

// ReorderError reports queue order writes that failed after the version was taken. The
// writes that succeeded are kept.
type ReorderError struct {
	FailedIDs []uuid.UUID
	Version   int64
}

func (e *ReorderError) Error() string {
	return fmt.Sprintf("%d of the queue order updates failed", len(e.FailedIDs))
}

func (e *ReorderError) Unwrap() error {
	return ErrReorderPartiallyApplied
}

type QueueUsecase interface {
	GetQueue(ctx context.Context, doctorID uuid.UUID, date string) (*dto.QueueResponse, error)
	CheckIn(ctx context.Context, appointmentID uuid.UUID, req *dto.CheckInRequest) (*dto.BookingResponse, error)
	CallNext(ctx context.Context, doctorID uuid.UUID, req *dto.QueueDateRequest) (*dto.QueueItemResponse, error)
	Skip(ctx context.Context, appointmentID uuid.UUID) (*dto.QueueResponse, error)
	RestoreSkipped(ctx context.Context, doctorID uuid.UUID, req *dto.QueueDateRequest) (*dto.QueueResponse, error)
	Complete(ctx context.Context, appointmentID uuid.UUID) (*dto.BookingResponse, error)
	MarkNoShow(ctx context.Context, appointmentID uuid.UUID) (*dto.BookingResponse, error)
	Reorder(ctx context.Context, doctorID uuid.UUID, req *dto.ReorderQueueRequest) (*dto.QueueResponse, error)
	ResetOrder(ctx context.Context, doctorID uuid.UUID, req *dto.QueueDateRequest) (*dto.QueueResponse, error)
}

type queueUsecase struct {
	db               *gorm.DB
	log              *logrus.Logger
	clock            clock.Clock
	location         *time.Location
	writeConcurrency int
	appointmentRepo  repository.AppointmentRepository
	access           *providerAccess
	queueState       *service.QueueStateService
	breakService     *service.BreakService
	broker           *service.QueueEventBroker
	auditService     service.AuditService
	metrics          *metrics.Metrics
}

func NewQueueUsecase(
	db *gorm.DB,
	log *logrus.Logger,
	clk clock.Clock,
	location *time.Location,
	writeConcurrency int,
	appointmentRepo repository.AppointmentRepository,
	assignmentRepo repository.AssistantAssignmentRepository,
	queueState *service.QueueStateService,
	breakService *service.BreakService,
	broker *service.QueueEventBroker,
	auditService service.AuditService,
	m *metrics.Metrics,
) QueueUsecase {
	if writeConcurrency <= 0 {
		writeConcurrency = 1
	}
	return &queueUsecase{
		db:               db,
		log:              log,
		clock:            clk,
		location:         location,
		writeConcurrency: writeConcurrency,
		appointmentRepo:  appointmentRepo,
		access:           newProviderAccess(db, log, assignmentRepo),
		queueState:       queueState,
		breakService:     breakService,
		broker:           broker,
		auditService:     auditService,
		metrics:          m,
	}
}

// GetQueue returns the caller's view of a doctor's queue for one day. The version is read
// before the appointments, so a mutation landing in between makes the view stale rather
// than silently newer than its version.
func (u *queueUsecase) GetQueue(ctx context.Context, doctorID uuid.UUID, date string) (*dto.QueueResponse, error) {
	operatorID, err := u.access.authorize(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(date, u.location)
	if err != nil {
		return nil, err
	}
	return u.buildQueue(ctx, operatorID, doctorID, day)
}

// CheckIn records the patient's arrival. The queue position is not affected.
func (u *queueUsecase) CheckIn(ctx context.Context, appointmentID uuid.UUID, req *dto.CheckInRequest) (*dto.BookingResponse, error) {
	appointment, operatorID, err := u.loadLive(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.IsCheckedIn() {
		return nil, ErrAlreadyCheckedIn
	}

	at := u.clock.Now()
	if req != nil && req.CheckedInAt != nil && !req.CheckedInAt.IsZero() {
		at = req.CheckedInAt.Time
	}

	rows, err := u.appointmentRepo.MarkCheckedIn(u.db.WithContext(ctx), appointmentID, at)
	if err != nil {
		u.log.Warnf("Failed to check in appointment %s: %+v", appointmentID, err)
		u.observe("check_in", err)
		return nil, err
	}
	if rows == 0 {
		// Lost a race with another operator
		return nil, ErrAppointmentNotLive
	}
	appointment.CheckedInAt = &at

	u.publish(ctx, service.EventAppointmentCheckedIn, appointment.DoctorID, appointment.Date, &appointmentID, 0)
	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionQueueCheckIn, "appointment", appointmentID.String(), map[string]interface{}{
		"checked_in_at": at,
	})
	u.observe("check_in", nil)

	return converter.AppointmentToBookingResponse(appointment), nil
}

// CallNext announces the head of the caller's queue. Status does not change; the patient
// stays at the head until completed, marked no-show or skipped.
func (u *queueUsecase) CallNext(ctx context.Context, doctorID uuid.UUID, req *dto.QueueDateRequest) (*dto.QueueItemResponse, error) {
	operatorID, err := u.access.authorize(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(req.Date, u.location)
	if err != nil {
		return nil, err
	}

	current, err := u.buildQueue(ctx, operatorID, doctorID, day)
	if err != nil {
		return nil, err
	}
	if len(current.Items) == 0 {
		return nil, ErrQueueEmpty
	}

	next := current.Items[0]
	u.publish(ctx, service.EventAppointmentCalled, doctorID, day, &next.AppointmentID, current.Version)
	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionQueueCallNext, "appointment", next.AppointmentID.String(), map[string]interface{}{
		"token_number": next.TokenNumber,
		"position":     next.Position,
	})
	u.observe("call_next", nil)

	return &next, nil
}

// Skip hides an appointment from the caller's queue for the rest of the day. The
// appointment itself is untouched.
func (u *queueUsecase) Skip(ctx context.Context, appointmentID uuid.UUID) (*dto.QueueResponse, error) {
	appointment, operatorID, err := u.loadLive(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	if err := u.queueState.Skip(ctx, operatorID, appointment.DoctorID, appointment.Date, appointmentID); err != nil {
		u.observe("skip", err)
		return nil, err
	}
	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionQueueSkip, "appointment", appointmentID.String(), nil)
	u.observe("skip", nil)

	return u.buildQueue(ctx, operatorID, appointment.DoctorID, appointment.Date)
}

// RestoreSkipped brings back every appointment the caller skipped that day.
func (u *queueUsecase) RestoreSkipped(ctx context.Context, doctorID uuid.UUID, req *dto.QueueDateRequest) (*dto.QueueResponse, error) {
	operatorID, err := u.access.authorize(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(req.Date, u.location)
	if err != nil {
		return nil, err
	}

	if err := u.queueState.RestoreSkipped(ctx, operatorID, doctorID, day); err != nil {
		u.observe("restore_skipped", err)
		return nil, err
	}
	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionQueueRestore, "queue", doctorID.String(), map[string]interface{}{
		"date": req.Date,
	})
	u.observe("restore_skipped", nil)

	return u.buildQueue(ctx, operatorID, doctorID, day)
}

func (u *queueUsecase) Complete(ctx context.Context, appointmentID uuid.UUID) (*dto.BookingResponse, error) {
	return u.finish(ctx, appointmentID, entity.AppointmentStatusCompleted, service.EventAppointmentCompleted, entity.AuditActionQueueComplete, "complete")
}

func (u *queueUsecase) MarkNoShow(ctx context.Context, appointmentID uuid.UUID) (*dto.BookingResponse, error) {
	return u.finish(ctx, appointmentID, entity.AppointmentStatusNoShow, service.EventAppointmentNoShow, entity.AuditActionQueueNoShow, "no_show")
}

// Reorder moves one appointment immediately before another and renumbers the whole live
// queue 1..N.
//
// Flow:
// 1. Rebuild the full live ordering (skips ignored, so every live item gets a number)
// 2. Apply the move
// 3. Claim the next version; a stale version is rejected before anything is written
// 4. Write every queue order concurrently, collecting failures without rolling back
func (u *queueUsecase) Reorder(ctx context.Context, doctorID uuid.UUID, req *dto.ReorderQueueRequest) (*dto.QueueResponse, error) {
	operatorID, err := u.access.authorize(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(req.Date, u.location)
	if err != nil {
		return nil, err
	}
	if req.Version == nil {
		return nil, ErrVersionRequired
	}

	// Step 1: Full live ordering
	appointments, err := u.appointmentRepo.FindByDoctorAndDate(u.db.WithContext(ctx), doctorID, day)
	if err != nil {
		u.log.Warnf("Failed to load queue for doctor %s: %+v", doctorID, err)
		return nil, err
	}
	now := u.clock.Now()
	full := queue.Build(doctorID, day, appointments, nil, nil, now)

	// Step 2: Move
	moved, err := queue.Move(queue.IDs(full), req.SourceID, req.TargetID)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			return nil, ErrNotInQueue
		}
		return nil, err
	}
	orders := queue.Renumber(moved)

	// Step 3: Version check
	version, err := u.queueState.CompareAndBumpVersion(ctx, doctorID, day, *req.Version)
	if err != nil {
		if errors.Is(err, service.ErrQueueVersionConflict) {
			u.metrics.QueueVersionConflict.Inc()
			current, verr := u.queueState.CurrentVersion(ctx, doctorID, day)
			if verr != nil {
				u.log.Warnf("Failed to read queue version for doctor %s: %+v", doctorID, verr)
			}
			return nil, &VersionConflictError{CurrentVersion: current}
		}
		u.observe("reorder", err)
		return nil, err
	}

	// Step 4: Concurrent writes
	failed := u.writeOrders(ctx, orders)

	u.publish(ctx, service.EventQueueReordered, doctorID, day, &req.SourceID, version)
	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionQueueReorder, "queue", doctorID.String(), map[string]interface{}{
		"date":      req.Date,
		"source_id": req.SourceID,
		"target_id": req.TargetID,
		"version":   version,
		"failed":    len(failed),
	})

	if len(failed) > 0 {
		u.metrics.QueueOrderWriteFails.Add(float64(len(failed)))
		u.observe("reorder", ErrReorderPartiallyApplied)
		u.log.Errorf("Reorder for doctor %s on %s left %d of %d queue orders unsaved", doctorID, req.Date, len(failed), len(orders))
		return nil, &ReorderError{FailedIDs: failed, Version: version}
	}
	u.observe("reorder", nil)

	skipped, err := u.queueState.Skipped(ctx, operatorID, doctorID, day)
	if err != nil {
		return nil, err
	}
	breakStatus := u.breakStatus(ctx, doctorID)

	u.log.Infof("Queue reordered: doctor=%s, date=%s, source=%s, target=%s, version=%d", doctorID, req.Date, req.SourceID, req.TargetID, version)
	return u.toResponse(doctorID, day, version, queue.Build(doctorID, day, appointments, orders, skipped, now), breakStatus, now), nil
}

// ResetOrder drops every manual position so the queue falls back to slot time order.
func (u *queueUsecase) ResetOrder(ctx context.Context, doctorID uuid.UUID, req *dto.QueueDateRequest) (*dto.QueueResponse, error) {
	operatorID, err := u.access.authorize(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	day, err := parseDate(req.Date, u.location)
	if err != nil {
		return nil, err
	}

	cleared, err := u.appointmentRepo.ClearQueueOrder(u.db.WithContext(ctx), doctorID, day)
	if err != nil {
		u.log.Warnf("Failed to reset queue order for doctor %s: %+v", doctorID, err)
		u.observe("reset_order", err)
		return nil, err
	}

	version := u.bumpVersion(ctx, doctorID, day)
	u.publish(ctx, service.EventQueueReset, doctorID, day, nil, version)
	u.auditService.LogAction(ctx, &operatorID, entity.AuditActionQueueReset, "queue", doctorID.String(), map[string]interface{}{
		"date":    req.Date,
		"cleared": cleared,
	})
	u.observe("reset_order", nil)

	return u.buildQueue(ctx, operatorID, doctorID, day)
}

func (u *queueUsecase) finish(ctx context.Context, appointmentID uuid.UUID, to entity.AppointmentStatus, eventType, action, operation string) (*dto.BookingResponse, error) {
	appointment, operatorID, err := u.loadLive(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	rows, err := u.appointmentRepo.TransitionStatus(u.db.WithContext(ctx), appointmentID, to)
	if err != nil {
		u.log.Warnf("Failed to mark appointment %s %s: %+v", appointmentID, to, err)
		u.observe(operation, err)
		return nil, err
	}
	if rows == 0 {
		return nil, ErrAppointmentNotLive
	}

	oldStatus := appointment.Status
	appointment.Status = to
	appointment.QueueOrder = nil

	version := u.bumpVersion(ctx, appointment.DoctorID, appointment.Date)
	u.publish(ctx, eventType, appointment.DoctorID, appointment.Date, &appointmentID, version)
	if err := u.auditService.LogUpdate(ctx, nil, &operatorID, action, "appointment", appointmentID.String(), oldStatus, to); err != nil {
		u.log.Warnf("Failed to audit %s of %s: %+v", operation, appointmentID, err)
	}
	u.observe(operation, nil)

	return converter.AppointmentToBookingResponse(appointment), nil
}

// loadLive fetches a live appointment the caller may operate on.
func (u *queueUsecase) loadLive(ctx context.Context, appointmentID uuid.UUID) (*entity.Appointment, uuid.UUID, error) {
	appointment, err := u.appointmentRepo.FindByID(u.db.WithContext(ctx), appointmentID)
	if err != nil {
		u.log.Warnf("Failed to find appointment %s: %+v", appointmentID, err)
		return nil, uuid.Nil, err
	}
	if appointment == nil {
		return nil, uuid.Nil, ErrAppointmentNotFound
	}

	operatorID, err := u.access.authorize(ctx, appointment.DoctorID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if !appointment.IsLive() {
		return nil, uuid.Nil, ErrAppointmentNotLive
	}
	return appointment, operatorID, nil
}

func (u *queueUsecase) buildQueue(ctx context.Context, operatorID, doctorID uuid.UUID, day time.Time) (*dto.QueueResponse, error) {
	start := time.Now()
	defer func() {
		u.metrics.QueueBuildLatency.Observe(time.Since(start).Seconds())
	}()

	version, err := u.queueState.CurrentVersion(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	appointments, err := u.appointmentRepo.FindByDoctorAndDate(u.db.WithContext(ctx), doctorID, day)
	if err != nil {
		u.log.Warnf("Failed to load queue for doctor %s: %+v", doctorID, err)
		return nil, err
	}

	skipped, err := u.queueState.Skipped(ctx, operatorID, doctorID, day)
	if err != nil {
		return nil, err
	}

	now := u.clock.Now()
	items := queue.Build(doctorID, day, appointments, nil, skipped, now)
	return u.toResponse(doctorID, day, version, items, u.breakStatus(ctx, doctorID), now), nil
}

func (u *queueUsecase) toResponse(doctorID uuid.UUID, day time.Time, version int64, items []queue.Item, breakStatus queue.BreakStatus, now time.Time) *dto.QueueResponse {
	return &dto.QueueResponse{
		DoctorID:    doctorID,
		Date:        day.Format(dateLayout),
		Version:     version,
		Items:       converter.QueueItemsToResponses(items),
		Total:       len(items),
		Break:       converter.BreakStatusToResponse(breakStatus),
		GeneratedAt: now,
	}
}

// breakStatus never fails the queue read; a Redis hiccup shows the doctor as available.
func (u *queueUsecase) breakStatus(ctx context.Context, doctorID uuid.UUID) queue.BreakStatus {
	status, err := u.breakService.Get(ctx, doctorID)
	if err != nil {
		return queue.BreakStatus{}
	}
	return status
}

// writeOrders persists every queue order with bounded concurrency and returns the ids whose
// write failed. One failure does not stop the others.
func (u *queueUsecase) writeOrders(ctx context.Context, orders map[uuid.UUID]int) []uuid.UUID {
	var (
		mu     sync.Mutex
		failed []uuid.UUID
		g      errgroup.Group
	)
	g.SetLimit(u.writeConcurrency)

	for id, order := range orders {
		id, order := id, order
		g.Go(func() error {
			if err := u.appointmentRepo.UpdateQueueOrder(u.db.WithContext(ctx), id, &order); err != nil {
				u.log.Warnf("Failed to write queue order %d for appointment %s: %+v", order, id, err)
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failed
}

func (u *queueUsecase) bumpVersion(ctx context.Context, doctorID uuid.UUID, day time.Time) int64 {
	version, err := u.queueState.BumpVersion(ctx, doctorID, day)
	if err != nil {
		u.log.Warnf("Failed to bump queue version for doctor %s: %+v", doctorID, err)
	}
	return version
}

func (u *queueUsecase) publish(ctx context.Context, eventType string, doctorID uuid.UUID, day time.Time, appointmentID *uuid.UUID, version int64) {
	event := service.QueueEvent{
		Type:          eventType,
		DoctorID:      doctorID,
		Date:          day.Format(dateLayout),
		AppointmentID: appointmentID,
		Version:       version,
		OccurredAt:    u.clock.Now(),
	}
	if err := u.broker.Publish(ctx, event); err != nil {
		u.log.Warnf("Failed to publish %s for doctor %s: %+v", eventType, doctorID, err)
	}
}

func (u *queueUsecase) observe(operation string, err error) {
	status := metrics.StatusOK
	if err != nil {
		status = metrics.StatusError
	}
	u.metrics.QueueMutations.WithLabelValues(operation, status).Inc()
}

// providerAccess resolves which doctors the caller may operate on.
type providerAccess struct {
	db             *gorm.DB
	log            *logrus.Logger
	assignmentRepo repository.AssistantAssignmentRepository
}

func newProviderAccess(db *gorm.DB, log *logrus.Logger, assignmentRepo repository.AssistantAssignmentRepository) *providerAccess {
	return &providerAccess{db: db, log: log, assignmentRepo: assignmentRepo}
}

func (a *providerAccess) visible(ctx context.Context) (uuid.UUID, queue.ProviderSet, error) {
	userID, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		return uuid.Nil, queue.Providers(), ErrUnauthenticated
	}
	role, _ := middleware.GetRoleFromContext(ctx)

	var assignments []entity.AssistantAssignment
	if role == entity.RoleAssistant {
		found, err := a.assignmentRepo.FindByAssistantID(a.db.WithContext(ctx), userID)
		if err != nil {
			a.log.Warnf("Failed to load assignments for assistant %s: %+v", userID, err)
			return uuid.Nil, queue.Providers(), err
		}
		assignments = found
	}
	return userID, queue.VisibleProviders(role, userID, assignments), nil
}

// authorize returns the caller's id when doctorID is in their visible set.
func (a *providerAccess) authorize(ctx context.Context, doctorID uuid.UUID) (uuid.UUID, error) {
	userID, providers, err := a.visible(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if !providers.Contains(doctorID) {
		return uuid.Nil, ErrQueueForbidden
	}
	return userID, nil
}
