package repository

import (
	"time"

	"go-clinic-queue/internal/domain/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ScheduleOverrideRepository interface {
	Create(db *gorm.DB, override *entity.ScheduleOverride) error
	FindByID(db *gorm.DB, id int) (*entity.ScheduleOverride, error)
	FindByDoctorAndDate(db *gorm.DB, doctorID uuid.UUID, date time.Time) ([]entity.ScheduleOverride, error)
	FindAll(db *gorm.DB, filter *entity.OverrideFilter) ([]entity.ScheduleOverride, error)
	Delete(db *gorm.DB, id int) (int64, error)
}
