package entity

import (
	"time"

	"go-clinic-queue/internal/scheduling"

	"github.com/google/uuid"
)

// ScheduleOverride is a dated exception to a provider's regular sessions.
// Nil StartTime and EndTime mean the override covers the whole day.
type ScheduleOverride struct {
	ID        int                     `gorm:"primaryKey;autoIncrement" json:"id"`
	DoctorID  uuid.UUID               `gorm:"type:uuid;not null;index:idx_overrides_doctor_date" json:"doctor_id"`
	Date      time.Time               `gorm:"type:date;not null;index:idx_overrides_doctor_date" json:"date"`
	StartTime *string                 `gorm:"type:varchar(5)" json:"start_time,omitempty"`
	EndTime   *string                 `gorm:"type:varchar(5)" json:"end_time,omitempty"`
	Reason    string                  `gorm:"type:text" json:"reason,omitempty"`
	Type      scheduling.OverrideType `gorm:"type:varchar(20);not null" json:"type"`
	CreatedBy *uuid.UUID              `gorm:"type:uuid" json:"created_by,omitempty"`
	CreatedAt time.Time               `gorm:"autoCreateTime" json:"created_at"`

	// Relationships
	Doctor *DoctorProfile `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
}

func (ScheduleOverride) TableName() string {
	return "schedule_overrides"
}

// ToScheduling converts the row into the form the admission gate reads
func (o *ScheduleOverride) ToScheduling() scheduling.Override {
	out := scheduling.Override{
		Date:   o.Date,
		Reason: o.Reason,
		Type:   o.Type,
	}
	if o.StartTime != nil {
		out.Start = *o.StartTime
	}
	if o.EndTime != nil {
		out.End = *o.EndTime
	}
	return out
}

// OverrideFilter is a domain-level filter for listing overrides.
// Used by repository layer to avoid coupling with delivery DTOs.
type OverrideFilter struct {
	DoctorID *uuid.UUID
	From     *time.Time
	To       *time.Time
}
