package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"socialwatch/internal/collect"
	"socialwatch/internal/config"
	"socialwatch/internal/fetch"
	"socialwatch/internal/health"
	"socialwatch/internal/notifier"
	"socialwatch/internal/report"
	"socialwatch/internal/runtime/supervisor"
	"socialwatch/internal/schedule"
	"socialwatch/internal/storage"
	"socialwatch/internal/task/engine"
	"socialwatch/internal/task/reconcile"
	"socialwatch/internal/task/scheduler"
	logx "socialwatch/pkg/logx"
)

const healthJobName = "health.check"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sec  config.Secrets
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  storage.Store
	engine *engine.Service
	sched  *scheduler.Service
	recon  *reconcile.Service
	notif  *notifier.Service
	health *health.Checker
	alerts *alertingExecutor
	svc    *Service

	httpCfg httpSettings
	handler http.Handler
	srvMu   sync.Mutex
	srv     *http.Server

	healthSpec string
	watchdog   *watchdog
}

// NewApp loads config and secrets and wires every component. Nothing runs
// until Start or StartOneShot.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	sec := config.SecretsFromEnv(nil)
	if err := validateConfig(cfg, sec); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	sc, _ := mapStorageConfig(cfg, sec)
	store, err := storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a, err := wire(cfg, sec, store, root)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// wire builds the component graph on top of an open store. Callers run
// validateConfig first, so the mapper errors below are already ruled out.
func wire(cfg *config.Config, sec config.Secrets, store storage.Store, root logx.Logger) (*App, error) {
	tc, _ := mapTwitterConfig(cfg, sec)
	rc, _ := mapRedditConfig(cfg, sec)
	mux := fetch.NewMux().
		Handle(schedule.PlatformTwitter, fetch.NewTwitter(tc, nil, root)).
		Handle(schedule.PlatformReddit, fetch.NewReddit(rc, nil, root))

	repCfg, _ := mapReportConfig(cfg)
	engCfg, _ := mapEngineConfig(cfg)
	engineSvc := engine.New(engCfg, store, mux, report.NewTextBuilder(repCfg), collect.NewIngester(store, root), root)

	ncfg, _ := mapNotifierConfig(cfg)
	sender, err := newSender(cfg, sec, root)
	if err != nil {
		return nil, err
	}
	notifSvc := notifier.New(ncfg, sender, root)

	alerts := &alertingExecutor{engine: engineSvc, notif: notifSvc}
	alerts.enabled.Store(cfg.Notifier.NotifyFailures)

	schedCfg, _ := mapSchedulerConfig(cfg)
	schedSvc := scheduler.New(schedCfg, store, alerts, root)

	recCfg, _ := mapReconcileConfig(cfg)
	reconSvc, err := reconcile.New(recCfg, store, alerts, root)
	if err != nil {
		return nil, err
	}

	staleAfter, _ := mapStaleAfter(cfg)
	checker := health.NewChecker(store, health.QueueNotifier{Queue: notifSvc}, staleAfter, root.With(logx.String("comp", "health")))

	httpCfg, _ := mapHTTPConfig(cfg)
	healthSpec, _ := mapHealthSpec(cfg)

	return &App{
		sec:        sec,
		log:        root.With(logx.String("comp", "app")),
		store:      store,
		engine:     engineSvc,
		sched:      schedSvc,
		recon:      reconSvc,
		notif:      notifSvc,
		health:     checker,
		alerts:     alerts,
		svc:        NewService(store, engineSvc, schedSvc, reconSvc, checker, root),
		httpCfg:    httpCfg,
		healthSpec: healthSpec,
	}, nil
}

// newSender picks Telegram when a bot token and chat are configured.
func newSender(cfg *config.Config, sec config.Secrets, log logx.Logger) (notifier.Sender, error) {
	if sec.TelegramBotToken == "" || cfg.Notifier.ChatID == 0 {
		return notifier.LogSender{Log: log.With(logx.String("comp", "notifier.log"))}, nil
	}
	return notifier.NewTelegram(notifier.TelegramConfig{
		Token:    sec.TelegramBotToken,
		ChatID:   cfg.Notifier.ChatID,
		ThreadID: cfg.Notifier.ThreadID,
	})
}

func (a *App) Service() *Service { return a.svc }

func (a *App) Secrets() config.Secrets { return a.sec }

func (a *App) Logger() logx.Logger { return a.log }

// ProfilingEnabled reports whether http.pprof is set.
func (a *App) ProfilingEnabled() bool { return a.httpCfg.Pprof }

// SetHTTPHandler installs the API router served by Start when http.enabled.
func (a *App) SetHTTPHandler(h http.Handler) { a.handler = h }

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// StartOneShot starts only what a single CLI command needs: the notifier
// workers, so health alerts can be delivered before Stop drains them.
func (a *App) StartOneShot(ctx context.Context) {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.notif.Start(a.sup.Context())
}

// Start runs the long-lived service: loop, jobs, hot reload, HTTP and the
// systemd handshake.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg, a.sec)
	})

	a.notif.Start(runCtx)

	cfg := a.cfgm.Get()
	if cfg.Scheduler.CleanupLegacyOnStart {
		if res := a.svc.CleanupLegacy(runCtx, "startup"); !res.OK() {
			a.log.Warn("legacy cleanup failed", logx.String("status", string(res.Status)), logx.String("err", res.Message))
		}
	}
	if err := a.sched.Sync(runCtx); err != nil {
		a.log.Warn("initial active set load failed; retrying on next tick", logx.Err(err))
	}
	if err := a.setHealthJob(a.healthSpec); err != nil {
		return err
	}
	a.sched.Start(runCtx)

	a.goReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.httpCfg.Enabled && a.handler != nil {
		if err := a.startHTTP(); err != nil {
			return err
		}
	}

	a.watchdog = newWatchdog(a.log.With(logx.String("comp", "systemd")))
	a.watchdog.Ready()
	if a.watchdog.Interval() > 0 {
		a.sup.Go("systemd.watchdog", a.watchdog.Run)
	}

	a.log.Info("app started",
		logx.Int("active", len(a.sched.Active())),
		logx.Bool("poll", cfg.Scheduler.Enabled),
		logx.Bool("http", a.httpCfg.Enabled && a.handler != nil),
	)
	return nil
}

func (a *App) setHealthJob(spec string) error {
	if spec == "" {
		a.sched.RemoveJob(healthJobName)
		return nil
	}
	return a.sched.AddJob(healthJobName, spec, func(ctx context.Context, now time.Time) {
		res := a.svc.CheckHealth(ctx, now)
		if !res.OK() {
			a.log.Warn("health check failed", logx.String("err", res.Message))
		}
	})
}

func (a *App) startHTTP() error {
	ln, err := net.Listen("tcp", a.httpCfg.Addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", a.httpCfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.httpCfg.ReadTimeout,
		ReadTimeout:       a.httpCfg.ReadTimeout,
		WriteTimeout:      a.httpCfg.WriteTimeout,
	}
	a.srvMu.Lock()
	a.srv = srv
	a.srvMu.Unlock()

	a.log.Info("http listening", logx.String("addr", ln.Addr().String()))
	a.sup.Go("http.server", func(context.Context) error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return nil
}

// goReload applies committed config changes. Storage and HTTP changes need
// a restart; everything else is applied live.
func (a *App) goReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if config.RestartSections[s] {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if ec, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ec)
	}

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}
	if spec, err := mapHealthSpec(newCfg); err != nil {
		a.log.Warn("invalid health check spec; keeping previous", logx.Err(err))
	} else if spec != a.healthSpec {
		if err := a.setHealthJob(spec); err != nil {
			a.log.Warn("health check job update failed", logx.Err(err))
		} else {
			a.healthSpec = spec
		}
	}

	if rc, err := mapReconcileConfig(newCfg); err != nil {
		a.log.Warn("invalid reconcile config; keeping previous", logx.Err(err))
	} else if err := a.recon.Apply(rc); err != nil {
		a.log.Warn("reconcile config rejected", logx.Err(err))
	}

	prevNotif := a.notif.Enabled()
	if nc, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(nc)
		switch {
		case prevNotif && !nc.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevNotif && nc.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}
	a.alerts.enabled.Store(newCfg.Notifier.NotifyFailures)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order, bounding every step.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.watchdog != nil {
		a.watchdog.Stopping()
	}
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("http", a.httpCfg.ShutdownTimeout, func(c context.Context) error {
		a.srvMu.Lock()
		srv := a.srv
		a.srvMu.Unlock()
		if srv == nil {
			return nil
		}
		return srv.Shutdown(c)
	})
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
