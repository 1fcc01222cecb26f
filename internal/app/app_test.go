package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"

	"socialwatch/internal/schedule"
	"socialwatch/internal/task/engine"
	logx "socialwatch/pkg/logx"
)

func TestWatchdogSendsStates(t *testing.T) {
	var states []string
	w := &watchdog{log: logx.Nop(), notify: func(s string) (bool, error) {
		states = append(states, s)
		return true, nil
	}}
	w.Ready()
	w.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyStopping}, states)
	assert.NoError(t, w.Run(context.Background()), "no interval means no keepalive loop")

	w.interval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	assert.NoError(t, w.Run(ctx))
	assert.Contains(t, states, daemon.SdNotifyWatchdog)

	w.notify = func(string) (bool, error) { return false, errors.New("socket gone") }
	w.Ready()
}

func TestFailureMessage(t *testing.T) {
	t.Parallel()
	msg := failureMessage(engine.Result{
		ScheduleID: 4,
		Trigger:    engine.TriggerLoop,
		Outcome:    engine.OutcomeFailed,
		Reason:     engine.ReasonFetch,
		Error:      "twitter: 503",
		Schedule:   schedule.Schedule{ID: 4, Platform: schedule.PlatformTwitter, Subject: "golang"},
	})
	assert.Contains(t, msg.Text, "#4 twitter/golang")
	assert.Contains(t, msg.Text, "fetch_error")
	assert.Contains(t, msg.Text, "twitter: 503")
	assert.Equal(t, "run_failed:4:fetch_error", msg.Key)
}
