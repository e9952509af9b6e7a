package converter

import (
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/scheduling"
)

// OverrideToResponse converts a ScheduleOverride entity to OverrideResponse DTO
func OverrideToResponse(o *entity.ScheduleOverride) *dto.OverrideResponse {
	if o == nil {
		return nil
	}

	response := &dto.OverrideResponse{
		ID:        o.ID,
		DoctorID:  o.DoctorID,
		Date:      o.Date.Format(dateLayout),
		StartTime: o.StartTime,
		EndTime:   o.EndTime,
		FullDay:   o.StartTime == nil && o.EndTime == nil,
		Reason:    o.Reason,
		Type:      string(o.Type),
		CreatedAt: o.CreatedAt,
	}
	if o.Doctor != nil {
		response.DoctorName = o.Doctor.User.FullName
	}
	return response
}

func OverridesToResponses(overrides []entity.ScheduleOverride) []dto.OverrideResponse {
	responses := make([]dto.OverrideResponse, len(overrides))
	for i := range overrides {
		responses[i] = *OverrideToResponse(&overrides[i])
	}
	return responses
}

func AdmissionToResponse(a scheduling.Admission) dto.AdmissionResponse {
	return dto.AdmissionResponse{
		Allowed: a.Allowed,
		Code:    string(a.Code),
		Reason:  a.Reason,
		OpensAt: a.OpensAt,
	}
}
