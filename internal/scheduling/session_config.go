// Package scheduling holds the booking-path rules: session window resolution, capacity,
// admission and token/slot assignment. Everything here is pure; callers supply data and
// the current instant.
package scheduling

import (
	"fmt"
	"strconv"
	"strings"
)

// Session is a named half-day booking window.
type Session string

const (
	SessionMorning Session = "morning"
	SessionEvening Session = "evening"
)

func (s Session) Valid() bool {
	return s == SessionMorning || s == SessionEvening
}

// Sessions lists every session in display order.
var Sessions = []Session{SessionMorning, SessionEvening}

// Minutes is a wall-clock time expressed as minutes after local midnight.
type Minutes int

// EndOfDay is the exclusive upper bound of a calendar day.
const EndOfDay Minutes = 24 * 60

func (m Minutes) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// ParseClock reads a time of day in HH:MM, HH:MM:SS or h:mm AM/PM form.
func ParseClock(s string) (Minutes, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}

	meridiem := ""
	switch {
	case strings.HasSuffix(s, "AM"):
		meridiem = "AM"
	case strings.HasSuffix(s, "PM"):
		meridiem = "PM"
	}
	if meridiem != "" {
		s = strings.TrimSpace(strings.TrimSuffix(s, meridiem))
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || minute < 0 || minute > 59 {
		return 0, false
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return 0, false
		}
	}

	if meridiem != "" {
		if hour < 1 || hour > 12 {
			return 0, false
		}
		hour %= 12
		if meridiem == "PM" {
			hour += 12
		}
	} else if hour < 0 || hour > 23 {
		return 0, false
	}

	return Minutes(hour*60 + minute), true
}

// NormalizeClock renders any accepted time-of-day form as HH:MM.
func NormalizeClock(s string) (string, bool) {
	m, ok := ParseClock(s)
	if !ok {
		return "", false
	}
	return m.String(), true
}

// Window is a half-open [Start, End) range within one day.
type Window struct {
	Start Minutes
	End   Minutes
}

// Minutes returns the window length; zero or negative for empty or inverted windows.
func (w Window) Minutes() int {
	return int(w.End - w.Start)
}

func (w Window) Empty() bool {
	return w.End <= w.Start
}

func (w Window) Contains(m Minutes) bool {
	return m >= w.Start && m < w.End
}

// Within reports whether w lies entirely inside outer.
func (w Window) Within(outer Window) bool {
	return outer.Start <= w.Start && w.End <= outer.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// RawSessionConfig is a provider's session times as stored, in whatever format they were
// entered.
type RawSessionConfig struct {
	MorningStart string
	MorningEnd   string
	EveningStart string
	EveningEnd   string
}

// SessionConfig is the normalized per-provider session layout.
type SessionConfig struct {
	Morning Window
	Evening Window
}

var DefaultSessionConfig = SessionConfig{
	Morning: Window{Start: 9 * 60, End: 13 * 60},
	Evening: Window{Start: 14 * 60, End: 18 * 60},
}

func (c SessionConfig) Window(s Session) Window {
	if s == SessionEvening {
		return c.Evening
	}
	return c.Morning
}

// ResolveSessionConfig normalizes raw session times. Each field that is missing or
// unparseable falls back to its default independently, so the result is always usable.
func ResolveSessionConfig(raw RawSessionConfig) SessionConfig {
	return SessionConfig{
		Morning: Window{
			Start: clockOr(raw.MorningStart, DefaultSessionConfig.Morning.Start),
			End:   clockOr(raw.MorningEnd, DefaultSessionConfig.Morning.End),
		},
		Evening: Window{
			Start: clockOr(raw.EveningStart, DefaultSessionConfig.Evening.Start),
			End:   clockOr(raw.EveningEnd, DefaultSessionConfig.Evening.End),
		},
	}
}

func clockOr(s string, fallback Minutes) Minutes {
	if m, ok := ParseClock(s); ok {
		return m
	}
	return fallback
}
