package repository

import (
	"errors"
	"time"

	"go-clinic-queue/internal/domain/entity"
	domainRepo "go-clinic-queue/internal/domain/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type scheduleOverrideRepository struct{}

func NewScheduleOverrideRepository() domainRepo.ScheduleOverrideRepository {
	return &scheduleOverrideRepository{}
}

func (r *scheduleOverrideRepository) Create(db *gorm.DB, override *entity.ScheduleOverride) error {
	return db.Create(override).Error
}

func (r *scheduleOverrideRepository) FindByID(db *gorm.DB, id int) (*entity.ScheduleOverride, error) {
	var override entity.ScheduleOverride
	err := db.Where("id = ?", id).First(&override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &override, nil
}

func (r *scheduleOverrideRepository) FindByDoctorAndDate(db *gorm.DB, doctorID uuid.UUID, date time.Time) ([]entity.ScheduleOverride, error) {
	var overrides []entity.ScheduleOverride
	err := db.Where("doctor_id = ? AND date = ?", doctorID, date.Format("2006-01-02")).Find(&overrides).Error
	if err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *scheduleOverrideRepository) FindAll(db *gorm.DB, filter *entity.OverrideFilter) ([]entity.ScheduleOverride, error) {
	var overrides []entity.ScheduleOverride

	query := db.Preload("Doctor.User").Order("date ASC, id ASC")
	if filter != nil {
		if filter.DoctorID != nil {
			query = query.Where("doctor_id = ?", *filter.DoctorID)
		}
		if filter.From != nil {
			query = query.Where("date >= ?", filter.From.Format("2006-01-02"))
		}
		if filter.To != nil {
			query = query.Where("date <= ?", filter.To.Format("2006-01-02"))
		}
	}

	if err := query.Find(&overrides).Error; err != nil {
		return nil, err
	}
	return overrides, nil
}

func (r *scheduleOverrideRepository) Delete(db *gorm.DB, id int) (int64, error) {
	result := db.Where("id = ?", id).Delete(&entity.ScheduleOverride{})
	return result.RowsAffected, result.Error
}
