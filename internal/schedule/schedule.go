// Package schedule holds the recurring collection record and the pure
// next-run arithmetic shared by the loop, the reconciler and the engine.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidSchedule = errors.New("invalid schedule")

type Platform string

const (
	PlatformTwitter Platform = "twitter"
	PlatformReddit  Platform = "reddit"
)

func ParsePlatform(raw string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(raw))); p {
	case PlatformTwitter, PlatformReddit:
		return p, nil
	case "x":
		return PlatformTwitter, nil
	default:
		return "", fmt.Errorf("%w: unknown platform %q", ErrInvalidSchedule, raw)
	}
}

// Schedule is one recurring collection job. Times are UTC.
//
// AnchorTime nil marks a legacy record: it is never selected for execution
// and CleanupLegacy disables it.
type Schedule struct {
	ID         int64
	Platform   Platform
	Subject    string
	Keywords   []string
	Frequency  Frequency
	AnchorTime *time.Time
	Enabled    bool
	LastRun    *time.Time
	NextRun    *time.Time
	CreatedAt  time.Time
}

func (s Schedule) IsLegacy() bool { return s.AnchorTime == nil }

// Completed reports a Once schedule that already ran.
func (s Schedule) Completed() bool {
	return s.Frequency.Kind() == KindOnce && s.LastRun != nil && s.NextRun == nil
}

// DueAt reports whether the schedule should run at now, allowing next_run to
// sit up to tolerance in the future.
func (s Schedule) DueAt(now time.Time, tolerance time.Duration) bool {
	if !s.Enabled || s.IsLegacy() || s.NextRun == nil {
		return false
	}
	return !s.NextRun.After(now.Add(tolerance))
}

func (s Schedule) Validate() error {
	if _, err := ParsePlatform(string(s.Platform)); err != nil {
		return err
	}
	if strings.TrimSpace(s.Subject) == "" {
		return fmt.Errorf("%w: subject required", ErrInvalidSchedule)
	}
	return s.Frequency.Validate()
}

// NormalizeKeywords trims, drops empties and de-duplicates case-insensitively.
// It returns nil when nothing is left.
func NormalizeKeywords(in []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
	}
	return out
}

// NormalizeSubject strips the leading "@" of accounts and "r/" of subreddits.
func NormalizeSubject(p Platform, raw string) string {
	s := strings.TrimSpace(raw)
	switch p {
	case PlatformTwitter:
		s = strings.TrimPrefix(s, "@")
	case PlatformReddit:
		s = strings.TrimPrefix(strings.TrimPrefix(s, "/"), "r/")
	}
	return s
}
