package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/service"
	"go-clinic-queue/internal/usecase"
	"go-clinic-queue/pkg/response"
	"go-clinic-queue/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type QueueHandler struct {
	queueUsecase usecase.QueueUsecase
	validator    *validator.CustomValidator
}

func NewQueueHandler(queueUsecase usecase.QueueUsecase, validator *validator.CustomValidator) *QueueHandler {
	return &QueueHandler{
		queueUsecase: queueUsecase,
		validator:    validator,
	}
}

// GetQueue returns the caller's ordered view of a doctor's queue for ?date=
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		response.BadRequest(w, "date is required")
		return
	}

	q, err := h.queueUsecase.GetQueue(r.Context(), doctorID, date)
	if err != nil {
		writeQueueError(w, err, "Failed to get queue")
		return
	}

	response.Success(w, http.StatusOK, "Queue retrieved successfully", q)
}

func (h *QueueHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return
	}

	var req dto.ReorderQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		response.ValidationError(w, h.validator.FormatValidationErrors(err))
		return
	}

	q, err := h.queueUsecase.Reorder(r.Context(), doctorID, &req)
	if err != nil {
		writeQueueError(w, err, "Failed to reorder queue")
		return
	}

	response.Success(w, http.StatusOK, "Queue reordered successfully", q)
}

func (h *QueueHandler) ResetOrder(w http.ResponseWriter, r *http.Request) {
	doctorID, req, ok := h.dateRequest(w, r)
	if !ok {
		return
	}

	q, err := h.queueUsecase.ResetOrder(r.Context(), doctorID, req)
	if err != nil {
		writeQueueError(w, err, "Failed to reset queue order")
		return
	}

	response.Success(w, http.StatusOK, "Queue order reset successfully", q)
}

func (h *QueueHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	doctorID, req, ok := h.dateRequest(w, r)
	if !ok {
		return
	}

	next, err := h.queueUsecase.CallNext(r.Context(), doctorID, req)
	if err != nil {
		writeQueueError(w, err, "Failed to call next patient")
		return
	}

	response.Success(w, http.StatusOK, "Next patient called", next)
}

func (h *QueueHandler) RestoreSkipped(w http.ResponseWriter, r *http.Request) {
	doctorID, req, ok := h.dateRequest(w, r)
	if !ok {
		return
	}

	q, err := h.queueUsecase.RestoreSkipped(r.Context(), doctorID, req)
	if err != nil {
		writeQueueError(w, err, "Failed to restore skipped patients")
		return
	}

	response.Success(w, http.StatusOK, "Skipped patients restored", q)
}

func (h *QueueHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := appointmentIDFromPath(w, r)
	if !ok {
		return
	}

	// The body is optional; without checked_in_at the server time is used
	var req dto.CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	booking, err := h.queueUsecase.CheckIn(r.Context(), appointmentID, &req)
	if err != nil {
		writeQueueError(w, err, "Failed to check in patient")
		return
	}

	response.Success(w, http.StatusOK, "Patient checked in", booking)
}

func (h *QueueHandler) Skip(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := appointmentIDFromPath(w, r)
	if !ok {
		return
	}

	q, err := h.queueUsecase.Skip(r.Context(), appointmentID)
	if err != nil {
		writeQueueError(w, err, "Failed to skip patient")
		return
	}

	response.Success(w, http.StatusOK, "Patient skipped", q)
}

func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := appointmentIDFromPath(w, r)
	if !ok {
		return
	}

	booking, err := h.queueUsecase.Complete(r.Context(), appointmentID)
	if err != nil {
		writeQueueError(w, err, "Failed to complete appointment")
		return
	}

	response.Success(w, http.StatusOK, "Appointment completed", booking)
}

func (h *QueueHandler) MarkNoShow(w http.ResponseWriter, r *http.Request) {
	appointmentID, ok := appointmentIDFromPath(w, r)
	if !ok {
		return
	}

	booking, err := h.queueUsecase.MarkNoShow(r.Context(), appointmentID)
	if err != nil {
		writeQueueError(w, err, "Failed to mark no-show")
		return
	}

	response.Success(w, http.StatusOK, "Appointment marked as no-show", booking)
}

func (h *QueueHandler) dateRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, *dto.QueueDateRequest, bool) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return uuid.Nil, nil, false
	}

	var req dto.QueueDateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", nil)
		return uuid.Nil, nil, false
	}

	if err := h.validator.Validate(&req); err != nil {
		response.ValidationError(w, h.validator.FormatValidationErrors(err))
		return uuid.Nil, nil, false
	}
	return doctorID, &req, true
}

func appointmentIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	appointmentID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid appointment ID", nil)
		return uuid.Nil, false
	}
	return appointmentID, true
}

func writeQueueError(w http.ResponseWriter, err error, fallback string) {
	var (
		conflict *usecase.VersionConflictError
		partial  *usecase.ReorderError
	)
	switch {
	case errors.As(err, &conflict):
		response.Conflict(w, "Queue changed, refresh and try again", dto.VersionConflictResponse{
			CurrentVersion: conflict.CurrentVersion,
		})
	case errors.Is(err, service.ErrQueueVersionConflict):
		response.Conflict(w, "Queue changed, refresh and try again", nil)
	case errors.As(err, &partial):
		response.Error(w, http.StatusInternalServerError, "Reorder was only partially saved", dto.ReorderFailureResponse{
			FailedAppointmentIDs: partial.FailedIDs,
			Version:              partial.Version,
		})
	case errors.Is(err, usecase.ErrQueueForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, usecase.ErrAppointmentNotFound):
		response.NotFound(w, "Appointment not found")
	case errors.Is(err, usecase.ErrAppointmentNotLive),
		errors.Is(err, usecase.ErrAlreadyCheckedIn):
		response.Conflict(w, err.Error(), nil)
	case errors.Is(err, usecase.ErrQueueEmpty):
		response.NotFound(w, err.Error())
	case errors.Is(err, usecase.ErrNotInQueue),
		errors.Is(err, usecase.ErrVersionRequired),
		errors.Is(err, usecase.ErrInvalidDate):
		response.BadRequest(w, err.Error())
	case errors.Is(err, usecase.ErrUnauthenticated):
		response.Unauthorized(w, "")
	default:
		response.InternalServerError(w, fallback)
	}
}
