package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request DTOs

// CreateBookingRequest books the caller and, optionally, members of their family group
// into one session. Every person gets their own token and slot.
type CreateBookingRequest struct {
	DoctorID        uuid.UUID   `json:"doctor_id" validate:"required"`
	Date            string      `json:"date" validate:"required,date"`
	Session         string      `json:"session" validate:"required,session"`
	FamilyMemberIDs []uuid.UUID `json:"family_member_ids" validate:"omitempty,dive,required"`
	Notes           string      `json:"notes" validate:"omitempty,max=500"`
}

// Response DTOs

type BookingResponse struct {
	ID              uuid.UUID       `json:"id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	PatientName     string          `json:"patient_name,omitempty"`
	DoctorID        uuid.UUID       `json:"doctor_id"`
	DoctorName      string          `json:"doctor_name,omitempty"`
	Date            string          `json:"date"`
	Time            string          `json:"time"`
	DurationMinutes int             `json:"duration_minutes"`
	Session         string          `json:"session"`
	Status          string          `json:"status"`
	TokenNumber     string          `json:"token_number"`
	QueueOrder      *int            `json:"queue_order,omitempty"`
	CheckedInAt     *time.Time      `json:"checked_in_at,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	CreatedAt       time.Time       `json:"created_at"`
}

type BookingListResponse struct {
	Bookings []BookingResponse `json:"bookings"`
	Total    int               `json:"total"`
	TotalFee decimal.Decimal   `json:"total_fee"`
}
