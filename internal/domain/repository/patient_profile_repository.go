package repository

import (
	"go-clinic-queue/internal/domain/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PatientProfileRepository interface {
	FindByUserID(db *gorm.DB, userID uuid.UUID) (*entity.PatientProfile, error)
	FindByUserIDs(db *gorm.DB, userIDs []uuid.UUID) ([]entity.PatientProfile, error)
	FindByFamilyGroupID(db *gorm.DB, familyGroupID uuid.UUID) ([]entity.PatientProfile, error)
}
