package queue

import (
	"go-clinic-queue/internal/domain/entity"

	"github.com/google/uuid"
)

// ProviderSet is the set of providers whose queues a user may see.
type ProviderSet struct {
	all bool
	ids map[uuid.UUID]struct{}
}

func AllProviders() ProviderSet {
	return ProviderSet{all: true}
}

func Providers(ids ...uuid.UUID) ProviderSet {
	s := ProviderSet{ids: make(map[uuid.UUID]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s ProviderSet) All() bool { return s.all }

func (s ProviderSet) Contains(id uuid.UUID) bool {
	if s.all {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

func (s ProviderSet) Empty() bool {
	return !s.all && len(s.ids) == 0
}

// VisibleProviders applies the role policy: admins see every queue, doctors their own,
// assistants those they are assigned to, and patients none.
func VisibleProviders(role string, userID uuid.UUID, assignments []entity.AssistantAssignment) ProviderSet {
	switch role {
	case entity.RoleAdmin:
		return AllProviders()
	case entity.RoleDoctor:
		return Providers(userID)
	case entity.RoleAssistant:
		ids := make([]uuid.UUID, 0, len(assignments))
		for _, a := range assignments {
			if a.AssistantID == userID {
				ids = append(ids, a.DoctorID)
			}
		}
		return Providers(ids...)
	}
	return Providers()
}
