package scheduling

import (
	"fmt"
	"time"
)

// DefaultLeadTime is how long before a session starts booking for it opens on the
// session's own day or the day before.
const DefaultLeadTime = 3 * time.Hour

type OverrideType string

const (
	OverrideHoliday       OverrideType = "holiday"
	OverrideExtendedHours OverrideType = "extended_hours"
	OverrideReducedHours  OverrideType = "reduced_hours"
)

func (t OverrideType) Valid() bool {
	switch t {
	case OverrideHoliday, OverrideExtendedHours, OverrideReducedHours:
		return true
	}
	return false
}

// Override is a dated exception to a provider's normal sessions. Empty Start and End mean
// the whole day; a single missing bound is open-ended.
type Override struct {
	Date   time.Time
	Start  string
	End    string
	Reason string
	Type   OverrideType
}

// Range returns the covered part of the day.
func (o Override) Range() Window {
	return Window{
		Start: clockOr(o.Start, 0),
		End:   clockOr(o.End, EndOfDay),
	}
}

// Blocks reports whether the override closes a session with window w. Extended hours never
// close a session; holidays and reduced hours close it when their range covers the whole
// window.
func (o Override) Blocks(w Window) bool {
	if o.Type == OverrideExtendedHours {
		return false
	}
	return w.Within(o.Range())
}

type DenialCode string

const (
	DenialLeave    DenialCode = "leave"
	DenialNotOpen  DenialCode = "not_open"
	DenialStarted  DenialCode = "started"
	DenialPastDate DenialCode = "past_date"
)

// Admission is the outcome of an admission check.
type Admission struct {
	Allowed bool       `json:"allowed"`
	Code    DenialCode `json:"code,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	OpensAt *time.Time `json:"opens_at,omitempty"`
}

// Gate decides whether new bookings may be admitted into a session.
//
// A session on the current or the next calendar day opens LeadTime before its start and
// closes when it starts. Sessions two or more days out are always open. Dates are read by
// their calendar components and evaluated in Location.
type Gate struct {
	LeadTime time.Duration
	Location *time.Location
}

func NewGate(leadTime time.Duration, loc *time.Location) Gate {
	if leadTime <= 0 {
		leadTime = DefaultLeadTime
	}
	if loc == nil {
		loc = time.Local
	}
	return Gate{LeadTime: leadTime, Location: loc}
}

// CanAdmit evaluates a session with the default lead time in the date's own location.
func CanAdmit(date time.Time, session Session, now time.Time, cfg SessionConfig, overrides []Override) Admission {
	return NewGate(DefaultLeadTime, date.Location()).CanAdmit(date, session, now, cfg, overrides)
}

// CanAdmit checks, in order: past date, a blocking override, then the lead-time window.
func (g Gate) CanAdmit(date time.Time, session Session, now time.Time, cfg SessionConfig, overrides []Override) Admission {
	day := CivilDate(date, g.Location)
	today := CivilDate(now.In(g.Location), g.Location)
	diff := DaysBetween(today, day)

	if diff < 0 {
		return Admission{Code: DenialPastDate, Reason: "date is in the past"}
	}

	window := cfg.Window(session)
	for _, o := range overrides {
		if !SameDay(o.Date, day) || !o.Blocks(window) {
			continue
		}
		reason := "provider is on leave"
		if o.Reason != "" {
			reason = fmt.Sprintf("provider is on leave: %s", o.Reason)
		}
		return Admission{Code: DenialLeave, Reason: reason}
	}

	if diff > 1 {
		return Admission{Allowed: true}
	}

	start := g.SessionStart(day, window)
	opens := start.Add(-g.LeadTime)
	if now.Before(opens) {
		return Admission{
			Code:    DenialNotOpen,
			Reason:  fmt.Sprintf("booking opens at %s", opens.In(g.Location).Format("2006-01-02 15:04")),
			OpensAt: &opens,
		}
	}
	if !now.Before(start) {
		return Admission{Code: DenialStarted, Reason: fmt.Sprintf("%s session has already started", session)}
	}

	return Admission{Allowed: true}
}

// SessionStart returns the instant the window starts on day.
func (g Gate) SessionStart(day time.Time, w Window) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(w.Start)/60, int(w.Start)%60, 0, 0, g.Location)
}

// CivilDate returns midnight in loc on t's calendar day, taking the day from t's own
// fields.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween counts calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
