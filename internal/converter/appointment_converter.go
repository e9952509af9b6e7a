package converter

import (
	"go-clinic-queue/internal/delivery/dto"
	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/queue"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// AppointmentToBookingResponse converts an Appointment entity to BookingResponse DTO
func AppointmentToBookingResponse(a *entity.Appointment) *dto.BookingResponse {
	if a == nil {
		return nil
	}

	response := &dto.BookingResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		Date:            a.Date.Format(dateLayout),
		Time:            a.Time,
		DurationMinutes: a.DurationMinutes,
		Session:         string(a.Session),
		Status:          string(a.Status),
		TokenNumber:     a.TokenNumber,
		QueueOrder:      a.QueueOrder,
		CheckedInAt:     a.CheckedInAt,
		Notes:           a.Notes,
		FeeAmount:       a.FeeAmount,
		CreatedAt:       a.CreatedAt,
	}

	if a.Patient != nil {
		response.PatientName = a.Patient.User.FullName
	}
	if a.Doctor != nil {
		response.DoctorName = a.Doctor.User.FullName
	}

	return response
}

// AppointmentsToBookingList converts appointments to a BookingListResponse.
// Cancelled appointments do not count toward the fee total.
func AppointmentsToBookingList(appointments []entity.Appointment) *dto.BookingListResponse {
	bookings := make([]dto.BookingResponse, len(appointments))
	total := decimal.Zero
	for i := range appointments {
		bookings[i] = *AppointmentToBookingResponse(&appointments[i])
		if !appointments[i].IsCancelled() {
			total = total.Add(appointments[i].FeeAmount)
		}
	}
	return &dto.BookingListResponse{
		Bookings: bookings,
		Total:    len(bookings),
		TotalFee: total,
	}
}

// QueueItemToResponse converts a derived queue item to QueueItemResponse DTO
func QueueItemToResponse(item queue.Item) dto.QueueItemResponse {
	a := item.Appointment
	response := dto.QueueItemResponse{
		Position:           item.Position,
		AppointmentID:      a.ID,
		PatientID:          a.PatientID,
		TokenNumber:        a.TokenNumber,
		Time:               a.Time,
		Session:            string(a.Session),
		Status:             string(a.Status),
		DisplayStatus:      string(item.DisplayStatus),
		QueueOrder:         a.QueueOrder,
		CheckedInAt:        a.CheckedInAt,
		WaitingTimeMinutes: item.WaitingTimeMinutes,
	}
	if a.Patient != nil {
		response.PatientName = a.Patient.User.FullName
	}
	return response
}

func QueueItemsToResponses(items []queue.Item) []dto.QueueItemResponse {
	responses := make([]dto.QueueItemResponse, len(items))
	for i, item := range items {
		responses[i] = QueueItemToResponse(item)
	}
	return responses
}

func BreakStatusToResponse(b queue.BreakStatus) dto.BreakStatusResponse {
	return dto.BreakStatusResponse{
		IsOnBreak:      b.IsOnBreak,
		BreakStartTime: b.BreakStartTime,
		BreakEndTime:   b.BreakEndTime,
	}
}
