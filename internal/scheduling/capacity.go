package scheduling

// Capacity summarizes slot usage for one session.
type Capacity struct {
	TotalSlots     int `json:"total_slots"`
	BookedSlots    int `json:"booked_slots"`
	AvailableSlots int `json:"available_slots"`
}

// CalculateCapacity divides the session window into slots of slotDuration minutes and
// subtracts existing bookings. A non-positive duration or an empty window yields zero slots.
func CalculateCapacity(w Window, slotDuration int, booked int) Capacity {
	if booked < 0 {
		booked = 0
	}

	total := 0
	if slotDuration > 0 && !w.Empty() {
		total = w.Minutes() / slotDuration
	}

	available := total - booked
	if available < 0 {
		available = 0
	}

	return Capacity{
		TotalSlots:     total,
		BookedSlots:    booked,
		AvailableSlots: available,
	}
}
