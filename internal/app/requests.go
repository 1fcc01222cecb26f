package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"socialwatch/internal/schedule"
)

// CreateScheduleRequest is what an operator submits to add a schedule.
//
// Time is the HH:MM (UTC) the schedule fires at. For weekly schedules Day
// names the weekday; it may also be given inline as "weekly:mon".
// AnchorTime, when set, is used instead of Time/Day and must be in the
// future.
type CreateScheduleRequest struct {
	Platform   string     `json:"platform" validate:"required,oneof=twitter x reddit"`
	Subject    string     `json:"subject" validate:"required,max=100"`
	Keywords   []string   `json:"keywords,omitempty" validate:"max=20,dive,max=100"`
	Frequency  string     `json:"frequency" validate:"required"`
	Time       string     `json:"time,omitempty" validate:"omitempty,hhmm"`
	Day        string     `json:"day,omitempty"`
	AnchorTime *time.Time `json:"anchor_time,omitempty"`
	Actor      string     `json:"-"`
}

var reqValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, _, err := schedule.ParseClock(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the request shape. Semantic checks (frequency/day) happen
// in toSchedule.
func (r CreateScheduleRequest) Validate() error {
	r.Platform = strings.ToLower(strings.TrimSpace(r.Platform))
	if err := reqValidator.Struct(r); err != nil {
		return fmt.Errorf("%w: %s", schedule.ErrInvalidSchedule, validationMessage(err))
	}
	return nil
}

// toSchedule builds the record to persist. The anchor is either the
// explicit AnchorTime or the first HH:MM strictly after now; next_run starts
// at the anchor.
func (r CreateScheduleRequest) toSchedule(now time.Time) (schedule.Schedule, error) {
	if err := r.Validate(); err != nil {
		return schedule.Schedule{}, err
	}
	p, err := schedule.ParsePlatform(r.Platform)
	if err != nil {
		return schedule.Schedule{}, err
	}
	if r.AnchorTime == nil && strings.TrimSpace(r.Time) == "" {
		return schedule.Schedule{}, fmt.Errorf("%w: time or anchor_time is required", schedule.ErrInvalidSchedule)
	}
	freqRaw := strings.TrimSpace(r.Frequency)
	if strings.EqualFold(freqRaw, "weekly") {
		switch {
		case strings.TrimSpace(r.Day) != "":
			freqRaw = "weekly:" + strings.TrimSpace(r.Day)
		case r.AnchorTime != nil:
			freqRaw = "weekly:" + r.AnchorTime.UTC().Weekday().String()
		}
	}
	f, err := schedule.ParseFrequency(freqRaw)
	if err != nil {
		return schedule.Schedule{}, err
	}
	var anchor time.Time
	if r.AnchorTime != nil {
		anchor, err = schedule.CheckAnchor(f, *r.AnchorTime, now)
	} else {
		anchor, err = schedule.AnchorFor(f, r.Time, now)
	}
	if err != nil {
		return schedule.Schedule{}, err
	}
	sc := schedule.Schedule{
		Platform:   p,
		Subject:    schedule.NormalizeSubject(p, r.Subject),
		Keywords:   schedule.NormalizeKeywords(r.Keywords),
		Frequency:  f,
		AnchorTime: &anchor,
		Enabled:    true,
		NextRun:    &anchor,
		CreatedAt:  now.UTC(),
	}
	if err := sc.Validate(); err != nil {
		return schedule.Schedule{}, err
	}
	return sc, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "hhmm":
			msgs = append(msgs, field+" must be HH:MM")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s exceeds max %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
