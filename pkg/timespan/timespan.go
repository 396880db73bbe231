// Package timespan holds inclusive time ranges and the window arithmetic
// used to plan initial and incremental loads.
package timespan

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/gridetl/pkg/errors"
)

const dateLayout = "2006-01-02"

// Timespan is an inclusive [Start, End] range. Times are UTC.
type Timespan struct {
	Start time.Time
	End   time.Time
}

// New returns a validated span. start must not be after end.
func New(start, end time.Time) (Timespan, error) {
	s := Timespan{Start: start.UTC(), End: end.UTC()}
	if err := s.Validate(); err != nil {
		return Timespan{}, err
	}
	return s, nil
}

// MustNew is New for literals known to be valid.
func MustNew(start, end time.Time) Timespan {
	s, err := New(start, end)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate rejects spans whose start is after their end.
func (s Timespan) Validate() error {
	if s.Start.After(s.End) {
		return errors.Newf(errors.ErrorTypeValidation, "invalid timespan: start %s is after end %s",
			format(s.Start), format(s.End))
	}
	return nil
}

// Contains reports whether t lies within the span, bounds included.
func (s Timespan) Contains(t time.Time) bool {
	return !t.Before(s.Start) && !t.After(s.End)
}

// Overlaps reports whether the spans share at least one instant.
func (s Timespan) Overlaps(o Timespan) bool {
	return !s.End.Before(o.Start) && !o.End.Before(s.Start)
}

// ContainsSpan reports whether o lies entirely within s.
func (s Timespan) ContainsSpan(o Timespan) bool {
	return s.Contains(o.Start) && s.Contains(o.End)
}

func (s Timespan) String() string {
	return format(s.Start) + ".." + format(s.End)
}

func format(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateLayout)
	}
	return t.Format(time.RFC3339)
}

// Unit is the sampling step of a time dimension.
type Unit string

const (
	// Day is daily sampling
	Day Unit = "day"
	// Hour is hourly sampling
	Hour Unit = "hour"
)

// ParseUnit validates a unit name. The empty string means Day.
func ParseUnit(s string) (Unit, error) {
	switch Unit(strings.ToLower(s)) {
	case "", Day:
		return Day, nil
	case Hour:
		return Hour, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown time unit %q (valid: day, hour)", s)
	}
}

// Add advances t by n units.
func (u Unit) Add(t time.Time, n int) time.Time {
	if u == Hour {
		return t.Add(time.Duration(n) * time.Hour)
	}
	return t.AddDate(0, 0, n)
}

// Duration returns the length of one unit.
func (u Unit) Duration() time.Duration {
	if u == Hour {
		return time.Hour
	}
	return 24 * time.Hour
}

// Window is a calendar length such as 5Y, 18M, 30D or 12H.
type Window struct {
	Years  int
	Months int
	Days   int
	Hours  int
}

// ParseWindow parses <n><Y|M|D|H>.
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Window{}, errors.Newf(errors.ErrorTypeValidation, "invalid window %q", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Window{}, errors.Newf(errors.ErrorTypeValidation, "invalid window %q: expected a positive count", s)
	}
	switch strings.ToUpper(s[len(s)-1:]) {
	case "Y":
		return Window{Years: n}, nil
	case "M":
		return Window{Months: n}, nil
	case "D":
		return Window{Days: n}, nil
	case "H":
		return Window{Hours: n}, nil
	default:
		return Window{}, errors.Newf(errors.ErrorTypeValidation, "invalid window %q: unit must be Y, M, D or H", s)
	}
}

// AddTo advances t by the window.
func (w Window) AddTo(t time.Time) time.Time {
	return t.AddDate(w.Years, w.Months, w.Days).Add(time.Duration(w.Hours) * time.Hour)
}

func (w Window) String() string {
	switch {
	case w.Years > 0:
		return fmt.Sprintf("%dY", w.Years)
	case w.Months > 0:
		return fmt.Sprintf("%dM", w.Months)
	case w.Days > 0:
		return fmt.Sprintf("%dD", w.Days)
	default:
		return fmt.Sprintf("%dH", w.Hours)
	}
}
