package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "socialwatch/pkg/logx"
)

// watchdog speaks the sd_notify protocol. Outside systemd (no NOTIFY_SOCKET)
// every call is a no-op.
type watchdog struct {
	log      logx.Logger
	interval time.Duration
	notify   func(state string) (bool, error)
}

func newWatchdog(log logx.Logger) *watchdog {
	w := &watchdog{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog env invalid; keepalive disabled", logx.Err(err))
	}
	if every > 0 {
		// Ping at half the deadline.
		w.interval = every / 2
	}
	return w
}

func (w *watchdog) Interval() time.Duration { return w.interval }

func (w *watchdog) send(state string) {
	sent, err := w.notify(state)
	if err != nil {
		w.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		w.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (w *watchdog) Ready()    { w.send(daemon.SdNotifyReady) }
func (w *watchdog) Stopping() { w.send(daemon.SdNotifyStopping) }

// Run pings the watchdog until ctx ends.
func (w *watchdog) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.send(daemon.SdNotifyWatchdog)
		}
	}
}
