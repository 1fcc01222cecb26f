package scheduler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "socialwatch/pkg/logx"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// jobParser accepts 5-field cron and descriptors ("@daily", "@every 1h").
var jobParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec normalizes raw and checks that it parses.
func ParseSpec(raw string) (string, error) {
	spec, err := NormalizeSpec(raw)
	if err != nil {
		return "", err
	}
	if _, err := jobParser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return spec, nil
}

// NormalizeSpec turns a job schedule into a cron spec.
//
// Accepted forms:
//   - cron: "0 8 * * *", "@daily", "@every 24h"
//   - duration: "55m", "24h" (becomes "@every ...")
//   - HH:MM interval: "02:30" (every 2h30m)
func NormalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.New("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return s, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		var hh, mm int
		if _, err := fmt.Sscanf(m[1]+" "+m[2], "%d %d", &hh, &mm); err != nil || mm > 59 {
			return "", fmt.Errorf("invalid HH:MM interval %q", raw)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return "", errors.New("interval must be > 0")
		}
		return "@every " + d.String(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid schedule %q (use cron like '0 8 * * *', HH:MM like '02:30', or duration like '24h')", raw)
	}
	if d <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return "@every " + d.String(), nil
}

// AddJob registers (or replaces, by name) a cron job. The spec is validated
// even when the service is not running yet.
func (s *Service) AddJob(name, spec string, run JobFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if name == PollJobName {
		return fmt.Errorf("job name %q is reserved", name)
	}
	if run == nil {
		return errors.New("job func required")
	}
	norm, err := NormalizeSpec(spec)
	if err != nil {
		return err
	}
	if _, err := s.parser.Parse(norm); err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeDefLocked(name)
	s.defs = append(s.defs, jobDef{name: name, spec: norm, run: run})
	if s.c == nil {
		return nil
	}
	d := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(d); err != nil {
		return err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", norm)}
	if next := s.previewNextRunsLocked(norm, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("job registered", args...)
	return nil
}

// RemoveJob unregisters a job by name.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeDefLocked(strings.TrimSpace(name))
}

func (s *Service) removeDefLocked(name string) bool {
	for i := range s.defs {
		if s.defs[i].name != name {
			continue
		}
		if s.c != nil && s.defs[i].entryID != 0 {
			s.c.Remove(s.defs[i].entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) addCronLocked(d *jobDef) error {
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	run := d.run
	job := cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		run(ctx, s.now().UTC())
	})

	// @every jobs get a random first-run offset so restarts don't align them.
	if strings.HasPrefix(d.spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(d.spec, "@every")))
		if err == nil && every > 0 {
			sched, jitter := makeIntervalScheduleWithSpread(every, s.now().In(s.loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}

	d.startupSpread = 0
	eid, err := s.c.AddJob(d.spec, job)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// previewNextRunsLocked lists upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := s.now().In(s.loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
