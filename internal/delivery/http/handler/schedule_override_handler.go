package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/usecase"
	"go-clinic-queue/pkg/response"
	"go-clinic-queue/pkg/validator"

	"github.com/gorilla/mux"
)

type ScheduleOverrideHandler struct {
	overrideUsecase usecase.ScheduleOverrideUsecase
	validator       *validator.CustomValidator
}

func NewScheduleOverrideHandler(overrideUsecase usecase.ScheduleOverrideUsecase, validator *validator.CustomValidator) *ScheduleOverrideHandler {
	return &ScheduleOverrideHandler{
		overrideUsecase: overrideUsecase,
		validator:       validator,
	}
}

func (h *ScheduleOverrideHandler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		response.ValidationError(w, h.validator.FormatValidationErrors(err))
		return
	}

	override, err := h.overrideUsecase.CreateOverride(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrDoctorNotFound):
			response.NotFound(w, "Doctor not found")
		case errors.Is(err, usecase.ErrInvalidDate),
			errors.Is(err, usecase.ErrInvalidTimeFormat),
			errors.Is(err, usecase.ErrInvalidOverrideType),
			errors.Is(err, usecase.ErrOverrideRangeIncomplete),
			errors.Is(err, usecase.ErrOverrideRangeInverted):
			response.BadRequest(w, err.Error())
		default:
			response.InternalServerError(w, "Failed to create schedule override")
		}
		return
	}

	response.Success(w, http.StatusCreated, "Schedule override created successfully", override)
}

// GetOverrides lists overrides, filtered by ?doctor_id=, ?from= and ?to=
func (h *ScheduleOverrideHandler) GetOverrides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := dto.OverrideQuery{
		DoctorID: q.Get("doctor_id"),
		From:     q.Get("from"),
		To:       q.Get("to"),
	}
	if doctorID := mux.Vars(r)["doctorId"]; doctorID != "" {
		query.DoctorID = doctorID
	}

	if err := h.validator.Validate(&query); err != nil {
		response.ValidationError(w, h.validator.FormatValidationErrors(err))
		return
	}

	overrides, err := h.overrideUsecase.GetOverrides(r.Context(), &query)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrDoctorNotFound):
			response.NotFound(w, "Doctor not found")
		case errors.Is(err, usecase.ErrInvalidDate):
			response.BadRequest(w, err.Error())
		default:
			response.InternalServerError(w, "Failed to get schedule overrides")
		}
		return
	}

	response.Success(w, http.StatusOK, "Schedule overrides retrieved successfully", overrides)
}

func (h *ScheduleOverrideHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	overrideID, err := strconv.Atoi(vars["id"])
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid schedule override ID", nil)
		return
	}

	if err := h.overrideUsecase.DeleteOverride(r.Context(), overrideID); err != nil {
		switch {
		case errors.Is(err, usecase.ErrOverrideNotFound):
			response.NotFound(w, "Schedule override not found")
		default:
			response.InternalServerError(w, "Failed to delete schedule override")
		}
		return
	}

	response.Success(w, http.StatusOK, "Schedule override deleted successfully", nil)
}
