package repository

import (
	"go-clinic-queue/internal/domain/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssistantAssignmentRepository interface {
	FindByAssistantID(db *gorm.DB, assistantID uuid.UUID) ([]entity.AssistantAssignment, error)
}
