package repository

import (
	"go-clinic-queue/internal/domain/entity"
	domainRepo "go-clinic-queue/internal/domain/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type assistantAssignmentRepository struct{}

func NewAssistantAssignmentRepository() domainRepo.AssistantAssignmentRepository {
	return &assistantAssignmentRepository{}
}

func (r *assistantAssignmentRepository) FindByAssistantID(db *gorm.DB, assistantID uuid.UUID) ([]entity.AssistantAssignment, error) {
	var assignments []entity.AssistantAssignment
	err := db.Where("assistant_id = ?", assistantID).Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}
