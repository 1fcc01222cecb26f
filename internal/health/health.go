// Package health finds schedules that stopped producing runs and tells an
// operator about them.
package health

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"socialwatch/internal/notifier"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	logx "socialwatch/pkg/logx"
)

const DefaultStaleAfter = 48 * time.Hour

// Stale is an enabled schedule that has not run within the threshold.
type Stale struct {
	Schedule schedule.Schedule `json:"schedule"`
	// Since is last_run, or created_at for a schedule that never ran.
	Since    time.Time     `json:"since"`
	Age      time.Duration `json:"age"`
	NeverRan bool          `json:"never_ran"`
}

type Notifier interface {
	Notify(ctx context.Context, stale []Stale) error
}

type Store interface {
	ListSchedules(ctx context.Context, f storage.ScheduleFilter) ([]schedule.Schedule, error)
}

type Checker struct {
	store      Store
	notifier   Notifier
	staleAfter time.Duration
	log        logx.Logger
}

func NewChecker(store Store, n Notifier, staleAfter time.Duration, log logx.Logger) *Checker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{store: store, notifier: n, staleAfter: staleAfter, log: log}
}

// Check returns the stale schedules at now, oldest first, and notifies when
// there are any. A notify failure is returned along with the list.
func (c *Checker) Check(ctx context.Context, now time.Time) ([]Stale, error) {
	list, err := c.store.ListSchedules(ctx, storage.ScheduleFilter{EnabledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("health: list schedules: %w", err)
	}
	var out []Stale
	for _, sc := range list {
		if sc.IsLegacy() {
			continue
		}
		st := Stale{Schedule: sc, Since: sc.CreatedAt, NeverRan: sc.LastRun == nil}
		if sc.LastRun != nil {
			st.Since = *sc.LastRun
		}
		st.Age = now.Sub(st.Since)
		if st.Age > c.staleAfter {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })

	c.log.Info("health check done", logx.Int("schedules", len(list)), logx.Int("stale", len(out)))
	if len(out) == 0 || c.notifier == nil {
		return out, nil
	}
	if err := c.notifier.Notify(ctx, out); err != nil {
		return out, fmt.Errorf("health: notify: %w", err)
	}
	return out, nil
}

// Format renders stale schedules as a plain text alert.
func Format(stale []Stale) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d schedule(s) have not run recently:\n", len(stale))
	for _, s := range stale {
		sc := s.Schedule
		what := "last run"
		if s.NeverRan {
			what = "never ran, created"
		}
		fmt.Fprintf(&b, "- #%d %s/%s (%s): %s %s ago\n",
			sc.ID, sc.Platform, sc.Subject, sc.Frequency, what, s.Age.Truncate(time.Hour))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Queue is the notifier pipeline entry point.
type Queue interface {
	Notify(ctx context.Context, msg notifier.Message) error
}

// QueueNotifier renders alerts and hands them to a notifier queue.
type QueueNotifier struct {
	Queue Queue
}

func (q QueueNotifier) Notify(ctx context.Context, stale []Stale) error {
	return q.Queue.Notify(ctx, notifier.Message{Priority: 7, Text: Format(stale)})
}
