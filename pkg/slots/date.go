package slots

import (
	"fmt"
	"time"
)

// KeyLayout is the canonical date key format.
const KeyLayout = "2006-01-02"

// Date is a calendar day with no time of day and no time zone. All
// arithmetic goes through the year/month/day fields so that a date never
// shifts when the process runs near midnight in a zone far from UTC.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t as seen in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current local calendar day. A nil clock means time.Now.
func Today(now func() time.Time) Date {
	if now == nil {
		now = time.Now
	}
	return DateOf(now())
}

// DateKey returns the canonical "YYYY-MM-DD" key of t's local calendar day.
func DateKey(t time.Time) string {
	return DateOf(t).Key()
}

// ParseKey parses a canonical "YYYY-MM-DD" key. Non-canonical spellings and
// impossible days ("2024-02-30") are rejected.
func ParseKey(s string) (Date, error) {
	if len(s) != len(KeyLayout) || s[4] != '-' || s[7] != '-' {
		return Date{}, fmt.Errorf("invalid date key %q: want YYYY-MM-DD", s)
	}
	y, err := digits(s[0:4])
	if err != nil {
		return Date{}, fmt.Errorf("invalid date key %q: %w", s, err)
	}
	m, err := digits(s[5:7])
	if err != nil {
		return Date{}, fmt.Errorf("invalid date key %q: %w", s, err)
	}
	d, err := digits(s[8:10])
	if err != nil {
		return Date{}, fmt.Errorf("invalid date key %q: %w", s, err)
	}
	date := Date{Year: y, Month: time.Month(m), Day: d}
	if m < 1 || m > 12 || d < 1 || date.normalize() != date {
		return Date{}, fmt.Errorf("invalid date key %q: no such day", s)
	}
	return date, nil
}

func digits(s string) (int, error) {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("unexpected character %q", c)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// civil maps the date onto a UTC noon instant. UTC has no DST transitions,
// so it is used purely as a proleptic calendar here.
func (d Date) civil() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, time.UTC)
}

func (d Date) normalize() Date {
	return DateOf(d.civil())
}

// Key returns the canonical "YYYY-MM-DD" form.
func (d Date) Key() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) String() string { return d.Key() }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d == Date{} }

// AddDays returns the date n calendar days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC))
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.civil().Weekday()
}

// Before reports whether d is an earlier day than o.
func (d Date) Before(o Date) bool { return d.civil().Before(o.civil()) }

// After reports whether d is a later day than o.
func (d Date) After(o Date) bool { return d.civil().After(o.civil()) }

// Equal reports whether d and o name the same day.
func (d Date) Equal(o Date) bool { return d.normalize() == o.normalize() }

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// WeekDates returns the seven days, Sunday through Saturday, of the week
// containing center.
func WeekDates(center Date) [7]Date {
	start := center.AddDays(-int(center.Weekday()))
	var week [7]Date
	for i := range week {
		week[i] = start.AddDays(i)
	}
	return week
}

// WeekKeys is WeekDates rendered as date keys.
func WeekKeys(center Date) [7]string {
	var keys [7]string
	for i, d := range WeekDates(center) {
		keys[i] = d.Key()
	}
	return keys
}
