package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"socialwatch/internal/notifier"
	"socialwatch/internal/task/engine"
)

// alertingExecutor forwards to the engine and, when enabled, queues an
// operator alert for every failed automatic run.
type alertingExecutor struct {
	engine  *engine.Service
	notif   *notifier.Service
	enabled atomic.Bool
}

func (x *alertingExecutor) Execute(ctx context.Context, id int64, tr engine.Trigger) engine.Result {
	res := x.engine.Execute(ctx, id, tr)
	if res.Outcome == engine.OutcomeFailed && x.enabled.Load() && x.notif.Enabled() {
		_ = x.notif.Notify(ctx, failureMessage(res))
	}
	return res
}

func (x *alertingExecutor) History(limit int) []engine.HistoryItem {
	return x.engine.History(limit)
}

func failureMessage(res engine.Result) notifier.Message {
	who := fmt.Sprintf("#%d", res.ScheduleID)
	if res.Schedule.ID != 0 {
		who = fmt.Sprintf("#%d %s/%s", res.ScheduleID, res.Schedule.Platform, res.Schedule.Subject)
	}
	text := fmt.Sprintf("Scheduled run failed: %s (%s, %s)", who, res.Trigger, res.Reason)
	if res.Error != "" {
		text += "\n" + res.Error
	}
	return notifier.Message{
		Priority: 7,
		Text:     text,
		Key:      fmt.Sprintf("run_failed:%d:%s", res.ScheduleID, res.Reason),
	}
}
