package clock

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidInstant = errors.New("invalid instant")

// epochMillisThreshold separates epoch seconds from epoch milliseconds. Second values above it
// would land past the year 5000.
const epochMillisThreshold = 100_000_000_000

// ParseInstant converts the timestamp representations accepted at the API boundary into a
// time.Time: RFC3339 strings, epoch seconds or milliseconds (as numbers or numeric strings),
// and document-store timestamp objects ({"seconds","nanos"} or {"_seconds","_nanoseconds"}).
func ParseInstant(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, ErrInvalidInstant
	case time.Time:
		return x, nil
	case *time.Time:
		if x == nil {
			return time.Time{}, ErrInvalidInstant
		}
		return *x, nil
	case string:
		return parseInstantString(x)
	case json.Number:
		return parseInstantString(x.String())
	case float64:
		return fromEpoch(x), nil
	case int64:
		return fromEpoch(float64(x)), nil
	case int:
		return fromEpoch(float64(x)), nil
	case map[string]any:
		return fromTimestampObject(x)
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidInstant, v)
	}
}

func parseInstantString(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidInstant
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n), nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInstant, s)
}

func fromEpoch(n float64) time.Time {
	if math.Abs(n) >= epochMillisThreshold {
		return time.UnixMilli(int64(n))
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func fromTimestampObject(m map[string]any) (time.Time, error) {
	secKey, nanoKey := "seconds", "nanos"
	if _, ok := m["_seconds"]; ok {
		secKey, nanoKey = "_seconds", "_nanoseconds"
	}
	sec, ok := toFloat(m[secKey])
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing %s", ErrInvalidInstant, secKey)
	}
	nanos, _ := toFloat(m[nanoKey])
	return time.Unix(int64(sec), int64(nanos)), nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

// Instant is a time.Time that unmarshals from any representation ParseInstant accepts.
type Instant struct {
	time.Time
}

func (i *Instant) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		i.Time = time.Time{}
		return nil
	}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	t, err := ParseInstant(raw)
	if err != nil {
		return err
	}
	i.Time = t
	return nil
}

func (i Instant) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Time)
}
