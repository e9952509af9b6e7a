package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"go-clinic-queue/internal/scheduling"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DoctorStatus string

const (
	DoctorStatusActive   DoctorStatus = "active"
	DoctorStatusInactive DoctorStatus = "inactive"
)

// DoctorProfile represents doctor-specific profile data.
// Session times are stored as entered; see scheduling.ResolveSessionConfig.
type DoctorProfile struct {
	UserID               uuid.UUID       `gorm:"type:uuid;primaryKey" json:"user_id"`
	LicenseNumber        string          `gorm:"type:varchar(50);uniqueIndex;not null" json:"license_number"`
	Specialization       string          `gorm:"type:varchar(100);not null;index" json:"specialization"`
	Biography            string          `gorm:"type:text" json:"biography,omitempty"`
	ConsultationDuration int             `gorm:"not null;default:15" json:"consultation_duration"`
	ConsultationFee      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"consultation_fee"`
	MorningStart         string          `gorm:"type:varchar(16)" json:"morning_start,omitempty"`
	MorningEnd           string          `gorm:"type:varchar(16)" json:"morning_end,omitempty"`
	EveningStart         string          `gorm:"type:varchar(16)" json:"evening_start,omitempty"`
	EveningEnd           string          `gorm:"type:varchar(16)" json:"evening_end,omitempty"`
	AvailableSlots       StringList      `gorm:"type:jsonb" json:"available_slots,omitempty"`
	Status               DoctorStatus    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`

	// Relationships
	User User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (DoctorProfile) TableName() string {
	return "doctor_profiles"
}

func (d *DoctorProfile) RawSessionConfig() scheduling.RawSessionConfig {
	return scheduling.RawSessionConfig{
		MorningStart: d.MorningStart,
		MorningEnd:   d.MorningEnd,
		EveningStart: d.EveningStart,
		EveningEnd:   d.EveningEnd,
	}
}

// IsBookable reports whether new appointments may be made with this doctor
func (d *DoctorProfile) IsBookable() bool {
	if d.Status == DoctorStatusInactive {
		return false
	}
	return d.User.IsActive == nil || *d.User.IsActive
}

// StringList stores a list of strings as a JSONB array
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *StringList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal string list value: %v", value)
	}
	var out []string
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*s = out
	return nil
}
