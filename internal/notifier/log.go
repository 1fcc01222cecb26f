package notifier

import (
	"context"

	logx "socialwatch/pkg/logx"
)

// LogSender writes notifications to the log. It is the fallback when no bot
// token is configured.
type LogSender struct {
	Log logx.Logger
}

func (l LogSender) Send(_ context.Context, text string) error {
	l.Log.Warn("notification", logx.String("text", text))
	return nil
}
