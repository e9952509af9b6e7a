// Package queue builds the live consultation queue for a provider's day and applies manual
// reordering on top of it.
package queue

import (
	"sort"
	"time"

	"go-clinic-queue/internal/domain/entity"
	"go-clinic-queue/internal/scheduling"

	"github.com/google/uuid"
)

type DisplayStatus string

const (
	DisplayWaiting   DisplayStatus = "waiting"
	DisplayCheckedIn DisplayStatus = "checked_in"
)

// Item is one appointment as shown in the queue.
type Item struct {
	Appointment        entity.Appointment
	Position           int
	WaitingTimeMinutes int
	DisplayStatus      DisplayStatus
}

// IDSet is a set of appointment IDs.
type IDSet map[uuid.UUID]struct{}

func NewIDSet(ids ...uuid.UUID) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Build orders the live appointments of one provider on one day.
//
// Appointments with a queue order come first, ascending; the rest follow by slot time.
// persistedOrder, when it has an entry, takes precedence over the appointment's own
// QueueOrder. Appointments in skipped are left out.
func Build(providerID uuid.UUID, date time.Time, appointments []entity.Appointment, persistedOrder map[uuid.UUID]int, skipped IDSet, now time.Time) []Item {
	items := make([]Item, 0, len(appointments))
	for _, a := range appointments {
		if a.DoctorID != providerID || !scheduling.SameDay(a.Date, date) || !a.IsLive() {
			continue
		}
		if skipped.Has(a.ID) {
			continue
		}
		if order, ok := persistedOrder[a.ID]; ok {
			o := order
			a.QueueOrder = &o
		}
		items = append(items, newItem(a, now))
	}

	sort.SliceStable(items, func(i, j int) bool {
		return less(&items[i].Appointment, &items[j].Appointment)
	})

	for i := range items {
		items[i].Position = i + 1
	}
	return items
}

func newItem(a entity.Appointment, now time.Time) Item {
	item := Item{Appointment: a, DisplayStatus: DisplayWaiting}
	if a.CheckedInAt != nil {
		item.DisplayStatus = DisplayCheckedIn
		if waited := now.Sub(*a.CheckedInAt); waited > 0 {
			item.WaitingTimeMinutes = int(waited / time.Minute)
		}
	}
	return item
}

func less(a, b *entity.Appointment) bool {
	switch {
	case a.QueueOrder != nil && b.QueueOrder != nil:
		return *a.QueueOrder < *b.QueueOrder
	case a.QueueOrder != nil:
		return true
	case b.QueueOrder != nil:
		return false
	}
	return slotLess(a.Time, b.Time)
}

func slotLess(a, b string) bool {
	am, aok := scheduling.ParseClock(a)
	bm, bok := scheduling.ParseClock(b)
	if aok && bok {
		return am < bm
	}
	return a < b
}

// IDs returns the appointment IDs in queue order.
func IDs(items []Item) []uuid.UUID {
	out := make([]uuid.UUID, len(items))
	for i, it := range items {
		out[i] = it.Appointment.ID
	}
	return out
}
