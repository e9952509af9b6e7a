package repository

import (
	"time"

	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/scheduling"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AppointmentRepository interface {
	CreateBatch(db *gorm.DB, appointments []*entity.Appointment) error
	FindByID(db *gorm.DB, id uuid.UUID) (*entity.Appointment, error)
	FindByDoctorAndDate(db *gorm.DB, doctorID uuid.UUID, date time.Time) ([]entity.Appointment, error)
	FindBySession(db *gorm.DB, doctorID uuid.UUID, date time.Time, session scheduling.Session) ([]entity.Appointment, error)
	FindByPatientIDs(db *gorm.DB, patientIDs []uuid.UUID) ([]entity.Appointment, error)
	UpdateQueueOrder(db *gorm.DB, id uuid.UUID, order *int) error
	ClearQueueOrder(db *gorm.DB, doctorID uuid.UUID, date time.Time) (int64, error)
	MarkCheckedIn(db *gorm.DB, id uuid.UUID, at time.Time) (int64, error)
	TransitionStatus(db *gorm.DB, id uuid.UUID, to entity.AppointmentStatus) (int64, error)
}
