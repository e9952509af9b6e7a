package queue

import (
	"errors"
	"time"
)

var ErrInvalidBreak = errors.New("break must end in the future")

// BreakStatus describes a provider's current break.
type BreakStatus struct {
	IsOnBreak      bool       `json:"is_on_break"`
	BreakStartTime *time.Time `json:"break_start_time,omitempty"`
	BreakEndTime   *time.Time `json:"break_end_time,omitempty"`
}

// StartBreak opens a break running from now until end.
func StartBreak(now, end time.Time) (BreakStatus, error) {
	if !end.After(now) {
		return BreakStatus{}, ErrInvalidBreak
	}
	start := now
	return BreakStatus{IsOnBreak: true, BreakStartTime: &start, BreakEndTime: &end}, nil
}

// Expired reports whether a break has reached its end time.
func (b BreakStatus) Expired(now time.Time) bool {
	return b.IsOnBreak && b.BreakEndTime != nil && !now.Before(*b.BreakEndTime)
}

// Effective clears a break whose end time has passed.
func (b BreakStatus) Effective(now time.Time) BreakStatus {
	if !b.IsOnBreak || b.Expired(now) {
		return BreakStatus{}
	}
	return b
}
