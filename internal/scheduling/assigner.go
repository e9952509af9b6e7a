package scheduling

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNoCapacity   = errors.New("not enough free slots in session")
	ErrInvalidCount = errors.New("booking count must be positive")
)

// Assignment is one token and slot handed to a new booking.
type Assignment struct {
	TokenNumber int
	Token       string
	Time        string
}

// AssignRequest carries everything needed to place count new bookings in one session.
// ExistingTokens must include tokens of cancelled bookings; BookedSlotTimes must not.
type AssignRequest struct {
	Window          Window
	SlotDuration    int
	SlotList        []string
	BookedSlotTimes []string
	ExistingTokens  []string
	Count           int
}

// Assign hands out count consecutive tokens and the earliest free slots. It fails with
// ErrNoCapacity, assigning nothing, when the session cannot take all of them.
func Assign(req AssignRequest) ([]Assignment, error) {
	if req.Count <= 0 {
		return nil, ErrInvalidCount
	}

	capacity := CalculateCapacity(req.Window, req.SlotDuration, len(req.BookedSlotTimes))
	if capacity.AvailableSlots < req.Count {
		return nil, ErrNoCapacity
	}

	taken := make(map[Minutes]struct{}, len(req.BookedSlotTimes))
	for _, t := range req.BookedSlotTimes {
		if m, ok := ParseClock(t); ok {
			taken[m] = struct{}{}
		}
	}

	free := make([]Minutes, 0, req.Count)
	for _, slot := range CandidateSlots(req.Window, req.SlotList, req.SlotDuration) {
		if _, ok := taken[slot]; ok {
			continue
		}
		free = append(free, slot)
		if len(free) == req.Count {
			break
		}
	}
	if len(free) < req.Count {
		return nil, ErrNoCapacity
	}

	next := NextToken(req.ExistingTokens)
	out := make([]Assignment, req.Count)
	for i := range out {
		n := next + i
		out[i] = Assignment{
			TokenNumber: n,
			Token:       FormatToken(n),
			Time:        free[i].String(),
		}
	}
	return out, nil
}

// CandidateSlots returns the ordered slot start times for a session: the provider's listed
// slots that fall inside the window, or generated slots when none do.
func CandidateSlots(w Window, slotList []string, slotDuration int) []Minutes {
	seen := make(map[Minutes]struct{}, len(slotList))
	listed := make([]Minutes, 0, len(slotList))
	for _, s := range slotList {
		m, ok := ParseClock(s)
		if !ok || !w.Contains(m) {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		listed = append(listed, m)
	}
	if len(listed) > 0 {
		sort.Slice(listed, func(i, j int) bool { return listed[i] < listed[j] })
		return listed
	}
	return GenerateSlots(w, slotDuration)
}

// GenerateSlots steps through the window by slotDuration. Only slots that fit entirely in
// the window are produced.
func GenerateSlots(w Window, slotDuration int) []Minutes {
	if slotDuration <= 0 || w.Empty() {
		return nil
	}
	out := make([]Minutes, 0, w.Minutes()/slotDuration)
	for m := w.Start; m+Minutes(slotDuration) <= w.End; m += Minutes(slotDuration) {
		out = append(out, m)
	}
	return out
}

// NextToken is one past the highest token ever issued, cancelled ones included.
func NextToken(existing []string) int {
	highest := 0
	for _, t := range existing {
		if n, ok := ParseToken(t); ok && n > highest {
			highest = n
		}
	}
	return highest + 1
}

// ParseToken reads "#N" or "N".
func ParseToken(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "#"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func FormatToken(n int) string {
	return "#" + strconv.Itoa(n)
}
