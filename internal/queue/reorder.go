package queue

import (
	"errors"

	"github.com/google/uuid"
)

var ErrItemNotFound = errors.New("appointment is not in the queue")

// Move places source immediately before target and returns the new ordering.
func Move(ids []uuid.UUID, source, target uuid.UUID) ([]uuid.UUID, error) {
	srcIdx, dstIdx := -1, -1
	for i, id := range ids {
		switch id {
		case source:
			srcIdx = i
		case target:
			dstIdx = i
		}
	}
	if srcIdx < 0 {
		return nil, ErrItemNotFound
	}
	if source == target {
		return append([]uuid.UUID(nil), ids...), nil
	}
	if dstIdx < 0 {
		return nil, ErrItemNotFound
	}

	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == source {
			continue
		}
		if id == target {
			out = append(out, source)
		}
		out = append(out, id)
	}
	return out, nil
}

// Renumber assigns contiguous queue orders starting at 1.
func Renumber(ids []uuid.UUID) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(ids))
	for i, id := range ids {
		out[id] = i + 1
	}
	return out
}
