package repository

import (
	"errors"
	"time"

	"go-clinic-queue/internal/domain/entity"
	domainRepo "go-clinic-queue/internal/domain/repository"
	"go-clinic-queue/internal/scheduling"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type appointmentRepository struct{}

func NewAppointmentRepository() domainRepo.AppointmentRepository {
	return &appointmentRepository{}
}

func (r *appointmentRepository) CreateBatch(db *gorm.DB, appointments []*entity.Appointment) error {
	if len(appointments) == 0 {
		return nil
	}
	return db.Create(appointments).Error
}

func (r *appointmentRepository) FindByID(db *gorm.DB, id uuid.UUID) (*entity.Appointment, error) {
	var appointment entity.Appointment
	err := db.Preload("Patient.User").Where("id = ?", id).First(&appointment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &appointment, nil
}

// FindByDoctorAndDate returns every appointment of the day, terminal ones included
func (r *appointmentRepository) FindByDoctorAndDate(db *gorm.DB, doctorID uuid.UUID, date time.Time) ([]entity.Appointment, error) {
	var appointments []entity.Appointment
	err := db.Preload("Patient.User").
		Where("doctor_id = ? AND date = ?", doctorID, date.Format("2006-01-02")).
		Order("time ASC, created_at ASC").
		Find(&appointments).Error
	if err != nil {
		return nil, err
	}
	return appointments, nil
}

func (r *appointmentRepository) FindBySession(db *gorm.DB, doctorID uuid.UUID, date time.Time, session scheduling.Session) ([]entity.Appointment, error) {
	var appointments []entity.Appointment
	err := db.Where("doctor_id = ? AND date = ? AND session = ?", doctorID, date.Format("2006-01-02"), session).
		Order("time ASC").
		Find(&appointments).Error
	if err != nil {
		return nil, err
	}
	return appointments, nil
}

func (r *appointmentRepository) FindByPatientIDs(db *gorm.DB, patientIDs []uuid.UUID) ([]entity.Appointment, error) {
	var appointments []entity.Appointment
	err := db.Preload("Doctor.User").Preload("Patient.User").
		Where("patient_id IN ?", patientIDs).
		Order("date DESC, time ASC").
		Find(&appointments).Error
	if err != nil {
		return nil, err
	}
	return appointments, nil
}

// UpdateQueueOrder writes one appointment's queue position. A nil order clears it.
func (r *appointmentRepository) UpdateQueueOrder(db *gorm.DB, id uuid.UUID, order *int) error {
	result := db.Model(&entity.Appointment{}).
		Where("id = ? AND status IN ?", id, entity.LiveStatuses).
		Update("queue_order", order)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClearQueueOrder drops the manual order of every live appointment of the day
func (r *appointmentRepository) ClearQueueOrder(db *gorm.DB, doctorID uuid.UUID, date time.Time) (int64, error) {
	result := db.Model(&entity.Appointment{}).
		Where("doctor_id = ? AND date = ? AND status IN ? AND queue_order IS NOT NULL", doctorID, date.Format("2006-01-02"), entity.LiveStatuses).
		Update("queue_order", nil)
	return result.RowsAffected, result.Error
}

// MarkCheckedIn sets checked_in_at ONLY if the appointment is live and not yet checked in.
// Returns affected rows: 1 = success, 0 = terminal or already checked in.
func (r *appointmentRepository) MarkCheckedIn(db *gorm.DB, id uuid.UUID, at time.Time) (int64, error) {
	result := db.Model(&entity.Appointment{}).
		Where("id = ? AND status IN ? AND checked_in_at IS NULL", id, entity.LiveStatuses).
		Update("checked_in_at", at)
	return result.RowsAffected, result.Error
}

// TransitionStatus moves a live appointment to a terminal status.
// Returns affected rows: 1 = success, 0 = already terminal (prevents double transitions).
func (r *appointmentRepository) TransitionStatus(db *gorm.DB, id uuid.UUID, to entity.AppointmentStatus) (int64, error) {
	result := db.Model(&entity.Appointment{}).
		Where("id = ? AND status IN ?", id, entity.LiveStatuses).
		Updates(map[string]interface{}{"status": to, "queue_order": nil})
	return result.RowsAffected, result.Error
}
