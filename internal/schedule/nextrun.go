package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun returns the first firing strictly after now, aligned to the
// anchor's wall clock in UTC. Once yields nil.
func NextRun(f Frequency, anchor *time.Time, now time.Time) (*time.Time, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, fmt.Errorf("%w: anchor time required", ErrInvalidSchedule)
	}
	if f.Kind() == KindOnce {
		return nil, nil
	}
	sched, err := specParser.Parse(CronSpec(f, *anchor))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	next := sched.Next(now.UTC()).UTC()
	if next.IsZero() {
		return nil, fmt.Errorf("%w: no future run", ErrInvalidSchedule)
	}
	return &next, nil
}

// CronSpec renders f as a UTC cron expression anchored at the anchor's
// minute (and hour, and weekday where relevant). Once has no recurrence and
// returns "".
func CronSpec(f Frequency, anchor time.Time) string {
	a := anchor.UTC()
	switch f.Kind() {
	case KindHourly:
		return fmt.Sprintf("CRON_TZ=UTC %d * * * *", a.Minute())
	case KindDaily:
		return fmt.Sprintf("CRON_TZ=UTC %d %d * * *", a.Minute(), a.Hour())
	case KindWeekly:
		return fmt.Sprintf("CRON_TZ=UTC %d %d * * %d", a.Minute(), a.Hour(), int(f.Day()))
	default:
		return ""
	}
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrInvalidSchedule, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrInvalidSchedule, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrInvalidSchedule, s)
	}
	return h, m, nil
}

// AnchorFor builds the first anchor at HH:MM UTC strictly after now, on the
// given weekday when f is weekly.
func AnchorFor(f Frequency, clock string, now time.Time) (time.Time, error) {
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	now = now.UTC()
	t := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, time.UTC)
	if f.Kind() == KindWeekly {
		for t.Weekday() != f.Day() {
			t = t.AddDate(0, 0, 1)
		}
		if !t.After(now) {
			t = t.AddDate(0, 0, 7)
		}
		return t, nil
	}
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// CheckAnchor accepts an explicit anchor supplied at creation. It is
// truncated to the minute and must be strictly after now; weekly anchors
// must fall on the frequency's day.
func CheckAnchor(f Frequency, anchor, now time.Time) (time.Time, error) {
	a := anchor.UTC().Truncate(time.Minute)
	if !a.After(now.UTC()) {
		return time.Time{}, fmt.Errorf("%w: anchor_time %s is not in the future", ErrInvalidSchedule, a.Format(time.RFC3339))
	}
	if f.Kind() == KindWeekly && a.Weekday() != f.Day() {
		return time.Time{}, fmt.Errorf("%w: anchor_time falls on %s, frequency says %s", ErrInvalidSchedule, a.Weekday(), f.Day())
	}
	return a, nil
}
