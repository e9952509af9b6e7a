package dto

import (
	"time"

	"go-clinic-queue/pkg/clock"

	"github.com/google/uuid"
)

// Request DTOs

type QueueDateRequest struct {
	Date string `json:"date" validate:"required,date"`
}

// ReorderQueueRequest moves Source immediately before Target. Version is the queue
// version the client's view was built from.
type ReorderQueueRequest struct {
	Date     string    `json:"date" validate:"required,date"`
	SourceID uuid.UUID `json:"source_id" validate:"required"`
	TargetID uuid.UUID `json:"target_id" validate:"required"`
	Version  *int64    `json:"version" validate:"required,gte=0"`
}

type CheckInRequest struct {
	CheckedInAt *clock.Instant `json:"checked_in_at"`
}

// Response DTOs

type QueueItemResponse struct {
	Position           int        `json:"position"`
	AppointmentID      uuid.UUID  `json:"appointment_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	PatientName        string     `json:"patient_name,omitempty"`
	TokenNumber        string     `json:"token_number"`
	Time               string     `json:"time"`
	Session            string     `json:"session"`
	Status             string     `json:"status"`
	DisplayStatus      string     `json:"display_status"`
	QueueOrder         *int       `json:"queue_order,omitempty"`
	CheckedInAt        *time.Time `json:"checked_in_at,omitempty"`
	WaitingTimeMinutes int        `json:"waiting_time_minutes"`
}

type QueueResponse struct {
	DoctorID    uuid.UUID           `json:"doctor_id"`
	Date        string              `json:"date"`
	Version     int64               `json:"version"`
	Items       []QueueItemResponse `json:"items"`
	Total       int                 `json:"total"`
	Break       BreakStatusResponse `json:"break"`
	GeneratedAt time.Time           `json:"generated_at"`
}

type ReorderFailureResponse struct {
	FailedAppointmentIDs []uuid.UUID `json:"failed_appointment_ids"`
	Version              int64       `json:"version"`
}

type VersionConflictResponse struct {
	CurrentVersion int64 `json:"current_version"`
}

// QueueStreamMessage is one push on the live queue websocket. Event is the queue event that
// triggered it, "snapshot" for the first message or "refresh" for a timer tick.
type QueueStreamMessage struct {
	Event string         `json:"event"`
	Queue *QueueResponse `json:"queue"`
}
