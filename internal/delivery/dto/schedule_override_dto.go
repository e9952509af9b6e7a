package dto

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

// CreateOverrideRequest leaves StartTime and EndTime empty for a full-day override
type CreateOverrideRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id" validate:"required"`
	Date      string    `json:"date" validate:"required,date"`
	StartTime *string   `json:"start_time" validate:"omitempty,clock"`
	EndTime   *string   `json:"end_time" validate:"omitempty,clock"`
	Reason    string    `json:"reason" validate:"omitempty,max=255"`
	Type      string    `json:"type" validate:"required,oneof=holiday extended_hours reduced_hours"`
}

type OverrideQuery struct {
	DoctorID string `validate:"omitempty,uuid"`
	From     string `validate:"omitempty,date"`
	To       string `validate:"omitempty,date"`
}

// Response DTOs

type OverrideResponse struct {
	ID         int       `json:"id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	DoctorName string    `json:"doctor_name,omitempty"`
	Date       string    `json:"date"`
	StartTime  *string   `json:"start_time,omitempty"`
	EndTime    *string   `json:"end_time,omitempty"`
	FullDay    bool      `json:"full_day"`
	Reason     string    `json:"reason,omitempty"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
}

type OverrideListResponse struct {
	Overrides []OverrideResponse `json:"overrides"`
	Total     int                `json:"total"`
}
