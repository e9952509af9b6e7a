package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/queue"
	"go-clinic-queue/internal/usecase"
	"go-clinic-queue/pkg/response"
	"go-clinic-queue/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type DoctorHandler struct {
	doctorUsecase usecase.DoctorUsecase
	validator     *validator.CustomValidator
}

func NewDoctorHandler(doctorUsecase usecase.DoctorUsecase, validator *validator.CustomValidator) *DoctorHandler {
	return &DoctorHandler{
		doctorUsecase: doctorUsecase,
		validator:     validator,
	}
}

// GetSessions returns capacity, free slots and admission for both sessions of ?date=
func (h *DoctorHandler) GetSessions(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		response.BadRequest(w, "date is required")
		return
	}

	sessions, err := h.doctorUsecase.GetSessions(r.Context(), doctorID, date)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrDoctorNotFound):
			response.NotFound(w, "Doctor not found")
		case errors.Is(err, usecase.ErrInvalidDate):
			response.BadRequest(w, err.Error())
		default:
			response.InternalServerError(w, "Failed to get sessions")
		}
		return
	}

	response.Success(w, http.StatusOK, "Sessions retrieved successfully", sessions)
}

func (h *DoctorHandler) GetBreak(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return
	}

	status, err := h.doctorUsecase.GetBreak(r.Context(), doctorID)
	if err != nil {
		response.InternalServerError(w, "Failed to get break status")
		return
	}

	response.Success(w, http.StatusOK, "Break status retrieved successfully", status)
}

func (h *DoctorHandler) StartBreak(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return
	}

	var req dto.StartBreakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		response.ValidationError(w, h.validator.FormatValidationErrors(err))
		return
	}

	status, err := h.doctorUsecase.StartBreak(r.Context(), doctorID, &req)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrQueueForbidden):
			response.Forbidden(w, err.Error())
		case errors.Is(err, usecase.ErrBreakRequestInvalid), errors.Is(err, queue.ErrInvalidBreak):
			response.BadRequest(w, err.Error())
		default:
			response.InternalServerError(w, "Failed to start break")
		}
		return
	}

	response.Success(w, http.StatusOK, "Break started", status)
}

func (h *DoctorHandler) EndBreak(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := doctorIDFromPath(w, r)
	if !ok {
		return
	}

	if err := h.doctorUsecase.EndBreak(r.Context(), doctorID); err != nil {
		switch {
		case errors.Is(err, usecase.ErrQueueForbidden):
			response.Forbidden(w, err.Error())
		default:
			response.InternalServerError(w, "Failed to end break")
		}
		return
	}

	response.Success(w, http.StatusOK, "Break ended", nil)
}

func doctorIDFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	doctorID, err := uuid.Parse(mux.Vars(r)["doctorId"])
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid doctor ID", nil)
		return uuid.Nil, false
	}
	return doctorID, true
}
