package entity

import (
	"time"

	"github.com/google/uuid"
)

// PatientProfile represents patient-specific profile data.
// Patients sharing a FamilyGroupID may book for each other.
type PatientProfile struct {
	UserID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	PhoneNumber   string     `gorm:"type:varchar(20);index" json:"phone_number,omitempty"`
	DateOfBirth   *time.Time `gorm:"type:date" json:"date_of_birth,omitempty"`
	Gender        string     `gorm:"type:char(1)" json:"gender,omitempty"`
	Address       string     `gorm:"type:text" json:"address,omitempty"`
	FamilyGroupID *uuid.UUID `gorm:"type:uuid;index" json:"family_group_id,omitempty"`

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (PatientProfile) TableName() string {
	return "patient_profiles"
}

// SameFamily reports whether both profiles belong to one family group
func (p *PatientProfile) SameFamily(other *PatientProfile) bool {
	if p.FamilyGroupID == nil || other == nil || other.FamilyGroupID == nil {
		return false
	}
	return *p.FamilyGroupID == *other.FamilyGroupID
}

// Gender constants
const (
	GenderMale   = "M"
	GenderFemale = "F"
)
