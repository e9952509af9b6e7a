package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-clinic-queue/internal/converter"
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/scheduling"
	"go-clinic-queue/internal/usecase"
	"go-clinic-queue/pkg/response"
	"go-clinic-queue/pkg/validator"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type BookingHandler struct {
	bookingUsecase usecase.BookingUsecase
	validator      *validator.CustomValidator
}

func NewBookingHandler(bookingUsecase usecase.BookingUsecase, validator *validator.CustomValidator) *BookingHandler {
	return &BookingHandler{
		bookingUsecase: bookingUsecase,
		validator:      validator,
	}
}

func (h *BookingHandler) GetMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.bookingUsecase.GetMyBookings(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrPatientNotFound):
			response.NotFound(w, "Patient profile not found")
		default:
			response.InternalServerError(w, "Failed to get bookings")
		}
		return
	}

	response.Success(w, http.StatusOK, "Bookings retrieved successfully", bookings)
}

// CreateBooking books the caller and any listed family members into one session.
// Either every person gets a token and slot or nobody does.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	if err := h.validator.Validate(&req); err != nil {
		response.ValidationError(w, h.validator.FormatValidationErrors(err))
		return
	}

	bookings, err := h.bookingUsecase.CreateBooking(r.Context(), &req)
	if err != nil {
		var admissionErr *usecase.AdmissionError
		switch {
		case errors.As(err, &admissionErr):
			response.Unprocessable(w, admissionErr.Error(), converter.AdmissionToResponse(admissionErr.Admission))
		case errors.Is(err, scheduling.ErrNoCapacity):
			response.Conflict(w, "Not enough free slots left in this session", nil)
		case errors.Is(err, usecase.ErrTokenConflict):
			response.Conflict(w, "Session changed while booking, please retry", nil)
		case errors.Is(err, usecase.ErrAlreadyBooked):
			response.Conflict(w, "A patient in this request already has a booking in this session", nil)
		case errors.Is(err, usecase.ErrDoctorNotFound):
			response.NotFound(w, "Doctor not found")
		case errors.Is(err, usecase.ErrPatientNotFound):
			response.NotFound(w, "Patient profile not found")
		case errors.Is(err, usecase.ErrDoctorUnavailable):
			response.Unprocessable(w, "Doctor is not accepting bookings", nil)
		case errors.Is(err, usecase.ErrNotFamilyMember):
			response.Forbidden(w, "Family member does not belong to your family group")
		case errors.Is(err, usecase.ErrTooManyFamilyMembers),
			errors.Is(err, usecase.ErrInvalidDate),
			errors.Is(err, usecase.ErrInvalidSession):
			response.BadRequest(w, err.Error())
		case errors.Is(err, usecase.ErrUnauthenticated):
			response.Unauthorized(w, "")
		default:
			response.InternalServerError(w, "Failed to create booking")
		}
		return
	}

	response.Success(w, http.StatusCreated, "Booking created successfully", bookings)
}

func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	bookingID, err := uuid.Parse(vars["id"])
	if err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid booking ID", nil)
		return
	}

	err = h.bookingUsecase.CancelBooking(r.Context(), bookingID)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrBookingNotFound):
			response.NotFound(w, "Booking not found")
		case errors.Is(err, usecase.ErrBookingNotOwned):
			response.Forbidden(w, "Booking does not belong to you")
		case errors.Is(err, usecase.ErrBookingNotCancellable):
			response.Conflict(w, "Booking can no longer be cancelled", nil)
		default:
			response.InternalServerError(w, "Failed to cancel booking")
		}
		return
	}

	response.Success(w, http.StatusOK, "Booking cancelled successfully", nil)
}
