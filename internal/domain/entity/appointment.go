package entity

import (
	"time"

	"go-clinic-queue/internal/scheduling"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppointmentStatus represents the lifecycle state of an appointment
type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
)

// LiveStatuses are the statuses that keep an appointment in the queue
var LiveStatuses = []AppointmentStatus{AppointmentStatusScheduled, AppointmentStatusConfirmed}

// Appointment is one patient's booking in a provider session
type Appointment struct {
	ID              uuid.UUID          `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PatientID       uuid.UUID          `gorm:"type:uuid;not null;index" json:"patient_id"`
	BookedByID      uuid.UUID          `gorm:"type:uuid;not null;index" json:"booked_by_id"`
	DoctorID        uuid.UUID          `gorm:"type:uuid;not null;index:idx_appointments_doctor_date" json:"doctor_id"`
	Date            time.Time          `gorm:"type:date;not null;index:idx_appointments_doctor_date" json:"date"`
	Time            string             `gorm:"type:varchar(5);not null" json:"time"`
	DurationMinutes int                `gorm:"not null" json:"duration_minutes"`
	Session         scheduling.Session `gorm:"type:varchar(10);not null" json:"session"`
	Status          AppointmentStatus  `gorm:"type:varchar(20);not null;default:'scheduled';index" json:"status"`
	TokenNumber     string             `gorm:"type:varchar(10);not null" json:"token_number"`
	QueueOrder      *int               `json:"queue_order,omitempty"`
	CheckedInAt     *time.Time         `json:"checked_in_at,omitempty"`
	Notes           string             `gorm:"type:text" json:"notes,omitempty"`
	FeeAmount       decimal.Decimal    `gorm:"type:numeric(12,2);not null;default:0" json:"fee_amount"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Patient *PatientProfile `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *DoctorProfile  `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

func (Appointment) TableName() string {
	return "appointments"
}

// IsLive reports whether the appointment still belongs in the queue
func (a *Appointment) IsLive() bool {
	return a.Status == AppointmentStatusScheduled || a.Status == AppointmentStatusConfirmed
}

// IsTerminal reports whether no further transitions are allowed
func (a *Appointment) IsTerminal() bool {
	return !a.IsLive()
}

func (a *Appointment) IsCancelled() bool {
	return a.Status == AppointmentStatusCancelled
}

func (a *Appointment) IsCheckedIn() bool {
	return a.CheckedInAt != nil
}
