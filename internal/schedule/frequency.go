package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the recurrence class of a Frequency.
type Kind uint8

const (
	KindOnce Kind = iota + 1
	KindHourly
	KindDaily
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindHourly:
		return "hourly"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	default:
		return "unknown"
	}
}

// Frequency is a closed set of recurrences. Only Weekly carries a day;
// the zero value is invalid and rejected by Validate.
type Frequency struct {
	kind Kind
	day  time.Weekday
}

func Once() Frequency                   { return Frequency{kind: KindOnce} }
func Hourly() Frequency                 { return Frequency{kind: KindHourly} }
func Daily() Frequency                  { return Frequency{kind: KindDaily} }
func Weekly(day time.Weekday) Frequency { return Frequency{kind: KindWeekly, day: day} }

func (f Frequency) Kind() Kind { return f.kind }

// Day is meaningful only for KindWeekly.
func (f Frequency) Day() time.Weekday { return f.day }

func (f Frequency) IsZero() bool { return f.kind == 0 }

func (f Frequency) Validate() error {
	switch f.kind {
	case KindOnce, KindHourly, KindDaily:
		return nil
	case KindWeekly:
		if f.day < time.Sunday || f.day > time.Saturday {
			return fmt.Errorf("%w: weekday out of range", ErrInvalidSchedule)
		}
		return nil
	default:
		return fmt.Errorf("%w: frequency required", ErrInvalidSchedule)
	}
}

// String renders the storage form: "once", "hourly", "daily", "weekly:monday".
func (f Frequency) String() string {
	if f.kind == KindWeekly {
		return "weekly:" + strings.ToLower(f.day.String())
	}
	return f.kind.String()
}

func (f Frequency) MarshalText() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return []byte(f.String()), nil
}

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// ParseFrequency accepts the String form. "weekly" without a day is rejected;
// use WithDefaultDay when the day should follow the anchor.
func ParseFrequency(raw string) (Frequency, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	kind, dayRaw, hasDay := strings.Cut(s, ":")
	switch kind {
	case "once", "one_time", "one-time":
		return Once(), nil
	case "hourly":
		return Hourly(), nil
	case "daily":
		return Daily(), nil
	case "weekly":
		if !hasDay || strings.TrimSpace(dayRaw) == "" {
			return Frequency{}, fmt.Errorf("%w: weekly frequency needs a day", ErrInvalidSchedule)
		}
		d, err := ParseWeekday(dayRaw)
		if err != nil {
			return Frequency{}, err
		}
		return Weekly(d), nil
	default:
		return Frequency{}, fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, raw)
	}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func ParseWeekday(raw string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return 0, fmt.Errorf("%w: invalid weekday %q", ErrInvalidSchedule, raw)
	}
	return d, nil
}
