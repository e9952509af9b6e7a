package dto

import (
	"time"

	"go-clinic-queue/pkg/clock"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Request DTOs

// StartBreakRequest takes either a duration or an explicit end time.
type StartBreakRequest struct {
	DurationMinutes int            `json:"duration_minutes" validate:"omitempty,gte=1,lte=480"`
	EndsAt          *clock.Instant `json:"ends_at"`
}

// Response DTOs

type BreakStatusResponse struct {
	IsOnBreak      bool       `json:"is_on_break"`
	BreakStartTime *time.Time `json:"break_start_time,omitempty"`
	BreakEndTime   *time.Time `json:"break_end_time,omitempty"`
}

type AdmissionResponse struct {
	Allowed bool       `json:"allowed"`
	Code    string     `json:"code,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	OpensAt *time.Time `json:"opens_at,omitempty"`
}

type SessionAvailabilityResponse struct {
	Session        string            `json:"session"`
	StartTime      string            `json:"start_time"`
	EndTime        string            `json:"end_time"`
	SlotDuration   int               `json:"slot_duration"`
	TotalSlots     int               `json:"total_slots"`
	BookedSlots    int               `json:"booked_slots"`
	AvailableSlots int               `json:"available_slots"`
	FreeSlotTimes  []string          `json:"free_slot_times"`
	Admission      AdmissionResponse `json:"admission"`
}

type DoctorSessionsResponse struct {
	DoctorID        uuid.UUID                     `json:"doctor_id"`
	DoctorName      string                        `json:"doctor_name"`
	Specialization  string                        `json:"specialization"`
	Date            string                        `json:"date"`
	ConsultationFee decimal.Decimal               `json:"consultation_fee"`
	Sessions        []SessionAvailabilityResponse `json:"sessions"`
	Break           BreakStatusResponse           `json:"break"`
}
