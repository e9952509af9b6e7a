package entity

import (
	"time"

	"github.com/google/uuid"
)

// AssistantAssignment grants an assistant access to one provider's queue
type AssistantAssignment struct {
	AssistantID uuid.UUID `gorm:"type:uuid;primaryKey" json:"assistant_id"`
	DoctorID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"doctor_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (AssistantAssignment) TableName() string {
	return "assistant_assignments"
}
